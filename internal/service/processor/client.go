package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/logger"
)

const (
	CodeDeclined  = "declined"
	CodeThrottled = "throttled"
	CodeUnknown   = "unknown"

	// The request may have reached the processor and the card may be charged
	// Retrying with the same Idempotency-Key tells what happened
	CodeOutcomeUnknown = "outcome_unknown"
)

const chargeSucceeded = "succeeded"

type ProcessorError struct {
	Code string

	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (pe *ProcessorError) Error() string {
	return fmt.Sprintf("code: %s, reason: %s, error: %v", pe.Code, pe.Reason, pe.Err)
}

func (pe *ProcessorError) Unwrap() error {
	return pe.Err
}

func NewProcessorError(code string, reason string, err error) *ProcessorError {
	return &ProcessorError{Code: code, Reason: reason, Err: err}
}

// Charge request. PaymentID is sent as Idempotency-Key so repeated calls never charge twice
type ChargeRequest struct {
	PaymentID     uuid.UUID
	UserID        uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Description   string
}

type Charge struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type chargeBody struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Customer      string          `json:"customer"`
	Description   string          `json:"description,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

type chargeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	ProcessorAddr string

	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  logger.Logger
}

func NewClient(addr string, apiKey string, timeout time.Duration, l logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		ProcessorAddr: strings.TrimRight(addr, "/"),
		apiKey:        apiKey,
		timeout:       timeout,
		client:        &http.Client{},
		logger:        l,
	}
}

func (c *Client) Charge(ctx context.Context, cr ChargeRequest) (Charge, error) {
	var charge Charge

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chargeBody{
		Amount:        cr.Amount,
		Currency:      cr.Currency,
		PaymentMethod: cr.PaymentMethod,
		Customer:      cr.UserID.String(),
		Description:   cr.Description,
		Metadata:      map[string]any{"payment_id": cr.PaymentID.String()},
	})
	if err != nil {
		return charge, NewProcessorError(CodeUnknown, "", fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ProcessorAddr+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return charge, NewProcessorError(CodeUnknown, "", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", cr.PaymentID.String())

	resp, err := c.client.Do(req)
	if err != nil {
		return charge, NewProcessorError(CodeOutcomeUnknown, "processor unreachable", fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return c.processSuccess(resp, cr.PaymentID)
	case resp.StatusCode == http.StatusPaymentRequired:
		return charge, c.processDeclined(resp, cr.PaymentID)
	case resp.StatusCode == http.StatusTooManyRequests:
		return charge, c.processTooManyRequests(resp)
	case resp.StatusCode >= http.StatusInternalServerError:
		c.logger.Warn("Processor unavailable, charge outcome unknown", "status_code", resp.StatusCode, "payment_id", cr.PaymentID)
		return charge, NewProcessorError(CodeOutcomeUnknown, "processor unavailable", fmt.Errorf("status code %d", resp.StatusCode))
	default:
		c.logger.Warn("Charge rejected", "status_code", resp.StatusCode, "payment_id", cr.PaymentID)
		return charge, NewProcessorError(CodeUnknown, "charge rejected", fmt.Errorf("unexpected status code %d", resp.StatusCode))
	}
}

func (c *Client) processSuccess(resp *http.Response, paymentID uuid.UUID) (Charge, error) {
	var r chargeResponse
	err := json.NewDecoder(resp.Body).Decode(&r)
	if err != nil {
		c.logger.Warn("Failed to decode response, charge outcome unknown", "payment_id", paymentID, "error", err)
		return Charge{}, NewProcessorError(CodeOutcomeUnknown, "bad processor response", fmt.Errorf("failed to decode response: %w", err))
	}

	if r.Status != chargeSucceeded {
		reason := r.FailureReason
		if reason == "" {
			reason = "charge " + r.Status
		}
		return Charge{}, NewProcessorError(CodeDeclined, reason, errors.New("charge not succeeded"))
	}

	c.logger.Debug("Charge succeeded", "payment_id", paymentID, "charge_id", r.ID)
	return Charge{ID: r.ID, Status: r.Status}, nil
}

func (c *Client) processDeclined(resp *http.Response, paymentID uuid.UUID) error {
	var r errorResponse
	reason := "card declined"
	if err := json.NewDecoder(resp.Body).Decode(&r); err == nil && r.Error.Message != "" {
		reason = r.Error.Message
	}

	c.logger.Info("Charge declined", "payment_id", paymentID, "reason", reason)
	return NewProcessorError(CodeDeclined, reason, errors.New("payment required"))
}

func (c *Client) processTooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = 60 // default to 60 seconds if parsing fails
	}

	c.logger.Warn("Processor throttled", "retry_after", retryAfter)
	pe := NewProcessorError(CodeThrottled, "processor throttled", fmt.Errorf("retry after %d seconds", retryAfter))
	pe.RetryAfter = time.Duration(retryAfter) * time.Second
	return pe
}

// OutcomeUnknown reports whether the processor may have charged despite the error
func OutcomeUnknown(err error) bool {
	var pe *ProcessorError
	return errors.As(err, &pe) && pe.Code == CodeOutcomeUnknown
}

// Human readable failure reason stored with the payment
func Reason(err error) string {
	var pe *ProcessorError
	if errors.As(err, &pe) && pe.Reason != "" {
		return pe.Reason
	}
	return err.Error()
}
