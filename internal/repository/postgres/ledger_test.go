package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/repository"
	"github.com/nkiryanov/kglow/internal/testutil"
)

func TestLedger(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
		account, err := storage.Account().EnsureAccount(t.Context(), uuid.New())
		require.NoError(t, err)

		t.Run("CreateEntry", func(t *testing.T) {
			inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
				entry, err := storage.Ledger().CreateEntry(t.Context(), models.LedgerEntry{
					UserID:       account.UserID,
					Amount:       decimal.NewFromInt(-30),
					Kind:         models.EntryKindUsage,
					BalanceAfter: decimal.NewFromInt(20),
					Description:  "translation",
					Reference:    "translation",
				})

				require.NoError(t, err)
				require.NotEqual(t, uuid.Nil, entry.ID)
				require.Equal(t, account.UserID, entry.UserID)
				require.True(t, entry.Amount.Equal(decimal.NewFromInt(-30)))
				require.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(20)))
				require.Equal(t, models.EntryKindUsage, entry.Kind)
				require.Nil(t, entry.PaymentID)
				require.WithinDuration(t, time.Now(), entry.CreatedAt, time.Second)
			})
		})

		t.Run("CreateEntry unknown account", func(t *testing.T) {
			inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
				_, err := storage.Ledger().CreateEntry(t.Context(), models.LedgerEntry{
					UserID: uuid.New(),
					Amount: decimal.NewFromInt(1),
					Kind:   models.EntryKindRefund,
				})

				require.ErrorIs(t, err, apperrors.ErrAccountNotFound)
			})
		})

		t.Run("CreateEntry one entry per payment", func(t *testing.T) {
			inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
				payment, err := storage.Payment().Create(t.Context(), models.Payment{
					UserID: account.UserID, Kind: models.EntryKindCharge, Amount: decimal.NewFromInt(50), Currency: "KRW",
				})
				require.NoError(t, err)

				entry := models.LedgerEntry{
					UserID:       account.UserID,
					Amount:       decimal.NewFromInt(50),
					Kind:         models.EntryKindCharge,
					BalanceAfter: decimal.NewFromInt(50),
					PaymentID:    &payment.ID,
				}
				created, err := storage.Ledger().CreateEntry(t.Context(), entry)
				require.NoError(t, err)
				require.Equal(t, payment.ID, *created.PaymentID)

				_, err = storage.Ledger().CreateEntry(t.Context(), entry)
				require.Error(t, err)
				require.Contains(t, err.Error(), "payment already has ledger entry")
			})
		})

		t.Run("ListEntries and SumEntries", func(t *testing.T) {
			inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
				now := time.Now()
				amounts := []int64{100, -30, -20}
				balance := decimal.Zero
				for i, a := range amounts {
					balance = balance.Add(decimal.NewFromInt(a))
					_, err := storage.Ledger().CreateEntry(t.Context(), models.LedgerEntry{
						UserID:       account.UserID,
						Amount:       decimal.NewFromInt(a),
						Kind:         models.EntryKindAdminAdjust,
						BalanceAfter: balance,
						CreatedAt:    now.Add(time.Duration(i) * time.Second),
					})
					require.NoError(t, err)
				}

				entries, err := storage.Ledger().ListEntries(t.Context(), account.UserID, 0)
				require.NoError(t, err)
				require.Len(t, entries, 3)
				require.True(t, entries[0].Amount.Equal(decimal.NewFromInt(-20)), "newest first")
				require.True(t, entries[0].BalanceAfter.Equal(decimal.NewFromInt(50)))

				limited, err := storage.Ledger().ListEntries(t.Context(), account.UserID, 2)
				require.NoError(t, err)
				require.Len(t, limited, 2)

				sum, count, err := storage.Ledger().SumEntries(t.Context(), account.UserID)
				require.NoError(t, err)
				require.True(t, sum.Equal(decimal.NewFromInt(50)))
				require.Equal(t, 3, count)
			})
		})

		t.Run("SumEntries without entries", func(t *testing.T) {
			sum, count, err := storage.Ledger().SumEntries(t.Context(), uuid.New())

			require.NoError(t, err)
			require.True(t, sum.IsZero())
			require.Zero(t, count)
		})
	})
}
