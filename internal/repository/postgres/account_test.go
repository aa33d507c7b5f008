package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/repository"
	"github.com/nkiryanov/kglow/internal/testutil"
)

// Create transaction and storage on the transaction
// May be called several times(aka transaction in transaction)
func inTx(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
	testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
		fn(innerTx, NewStorage(innerTx))
	})
}

func TestAccounts(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("EnsureAccount", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			t.Run("create ok", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					account, err := storage.Account().EnsureAccount(t.Context(), userID)

					require.NoError(t, err)
					require.Equal(t, userID, account.UserID)
					require.True(t, account.Balance.IsZero(), "new account must have zero balance")
					require.False(t, account.AutoRecharge.Enabled)
					require.Empty(t, account.AutoRecharge.PaymentMethod)
				})
			})

			t.Run("ensure twice returns existing", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Account().EnsureAccount(t.Context(), userID)
					require.NoError(t, err)
					_, err = storage.Account().UpdateBalance(t.Context(), userID, decimal.NewFromInt(15))
					require.NoError(t, err)

					account, err := storage.Account().EnsureAccount(t.Context(), userID)

					require.NoError(t, err)
					require.True(t, account.Balance.Equal(decimal.NewFromInt(15)), "existing balance must be kept")
				})
			})
		})
	})

	t.Run("GetAccount", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			t.Run("not found", func(t *testing.T) {
				_, err := storage.Account().GetAccount(t.Context(), uuid.New())

				require.ErrorIs(t, err, apperrors.ErrAccountNotFound)
			})

			t.Run("for update not found", func(t *testing.T) {
				_, err := storage.Account().GetAccountForUpdate(t.Context(), uuid.New())

				require.ErrorIs(t, err, apperrors.ErrAccountNotFound)
			})

			t.Run("for update returns row", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					created, err := storage.Account().EnsureAccount(t.Context(), uuid.New())
					require.NoError(t, err)

					account, err := storage.Account().GetAccountForUpdate(t.Context(), created.UserID)

					require.NoError(t, err)
					require.Equal(t, created.UserID, account.UserID)
				})
			})
		})
	})

	t.Run("UpdateBalance", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			t.Run("update ok", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					created, err := storage.Account().EnsureAccount(t.Context(), uuid.New())
					require.NoError(t, err)

					account, err := storage.Account().UpdateBalance(t.Context(), created.UserID, decimal.RequireFromString("12.34"))
					require.NoError(t, err)
					require.True(t, account.Balance.Equal(decimal.RequireFromString("12.34")))

					stored, err := storage.Account().GetAccount(t.Context(), created.UserID)
					require.NoError(t, err)
					require.True(t, stored.Balance.Equal(account.Balance))
				})
			})

			t.Run("missing account", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Account().UpdateBalance(t.Context(), uuid.New(), decimal.NewFromInt(1))

					require.ErrorIs(t, err, apperrors.ErrAccountNotFound)
				})
			})
		})
	})

	t.Run("SetAutoRecharge", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			created, err := storage.Account().EnsureAccount(t.Context(), uuid.New())
			require.NoError(t, err)

			t.Run("enable", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					settings := models.AutoRecharge{
						Enabled:       true,
						Threshold:     decimal.NewFromInt(10),
						Amount:        decimal.NewFromInt(100),
						PaymentMethod: "pm_card_1",
					}

					account, err := storage.Account().SetAutoRecharge(t.Context(), created.UserID, settings)

					require.NoError(t, err)
					require.True(t, account.AutoRecharge.Enabled)
					require.True(t, account.AutoRecharge.Threshold.Equal(settings.Threshold))
					require.True(t, account.AutoRecharge.Amount.Equal(settings.Amount))
					require.Equal(t, "pm_card_1", account.AutoRecharge.PaymentMethod)
				})
			})

			t.Run("empty method stored as null", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Account().SetAutoRecharge(t.Context(), created.UserID, models.AutoRecharge{})
					require.NoError(t, err)

					var isNull bool
					err = ttx.QueryRow(t.Context(), `SELECT payment_method IS NULL FROM accounts WHERE user_id = $1`, created.UserID).Scan(&isNull)
					require.NoError(t, err)
					require.True(t, isNull)
				})
			})
		})
	})

	t.Run("ListRechargeDue", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			settings := models.AutoRecharge{
				Enabled:       true,
				Threshold:     decimal.NewFromInt(10),
				Amount:        decimal.NewFromInt(100),
				PaymentMethod: "pm_card_1",
			}

			due, err := storage.Account().EnsureAccount(t.Context(), uuid.New())
			require.NoError(t, err)
			_, err = storage.Account().SetAutoRecharge(t.Context(), due.UserID, settings)
			require.NoError(t, err)

			rich, err := storage.Account().EnsureAccount(t.Context(), uuid.New())
			require.NoError(t, err)
			_, err = storage.Account().SetAutoRecharge(t.Context(), rich.UserID, settings)
			require.NoError(t, err)
			_, err = storage.Account().UpdateBalance(t.Context(), rich.UserID, decimal.NewFromInt(50))
			require.NoError(t, err)

			disabled, err := storage.Account().EnsureAccount(t.Context(), uuid.New())
			require.NoError(t, err)
			_, err = storage.Account().SetAutoRecharge(t.Context(), disabled.UserID, models.AutoRecharge{Threshold: decimal.NewFromInt(10)})
			require.NoError(t, err)

			attempted, err := storage.Account().EnsureAccount(t.Context(), uuid.New())
			require.NoError(t, err)
			_, err = storage.Account().SetAutoRecharge(t.Context(), attempted.UserID, settings)
			require.NoError(t, err)
			_, err = tx.Exec(t.Context(), `UPDATE accounts SET updated_at = NOW() - INTERVAL '1 minute' WHERE user_id = $1`, attempted.UserID)
			require.NoError(t, err)
			failed, err := storage.Payment().Create(t.Context(), models.Payment{
				UserID: attempted.UserID, Kind: models.EntryKindAutoCharge, Amount: decimal.NewFromInt(100), Currency: "KRW",
			})
			require.NoError(t, err)
			_, err = storage.Payment().MarkFailed(t.Context(), failed.ID, "declined")
			require.NoError(t, err)

			accounts, err := storage.Account().ListRechargeDue(t.Context(), 0)
			require.NoError(t, err)

			var ids []uuid.UUID
			for _, a := range accounts {
				require.True(t, a.NeedsRecharge())
				ids = append(ids, a.UserID)
			}
			require.Contains(t, ids, due.UserID)
			require.NotContains(t, ids, rich.UserID)
			require.NotContains(t, ids, disabled.UserID)
			require.NotContains(t, ids, attempted.UserID, "failed attempt is not retried until the account changes")
		})
	})
}
