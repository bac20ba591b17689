package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/richardliu001/transaction-service/internal/config"
	apperrors "github.com/richardliu001/transaction-service/internal/errors"
	"github.com/richardliu001/transaction-service/internal/metrics"
)

const (
	idempotencyHeader     = "X-Idempotency-Key"
	codeInsufficientFunds = "INSUFFICIENT_FUNDS"
)

type updateBalanceRequest struct {
	Amount         json.Number `json:"amount"`
	TransactionRef string      `json:"transaction_ref"`
}

type updateBalanceResponse struct {
	Success    bool            `json:"success"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type createHoldRequest struct {
	Amount         json.Number `json:"amount"`
	Reason         string      `json:"reason"`
	TransactionRef string      `json:"transaction_ref,omitempty"`
}

type holdResponse struct {
	ID string `json:"id"`
}

// HTTPClient is the ledger Client over the account service's REST API.
// Transport errors and 5xx responses count against the circuit breaker;
// 4xx answers are business outcomes and do not.
type HTTPClient struct {
	rc  *resty.Client
	cb  *Breaker
	log *zap.SugaredLogger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client for cfg.BaseURL.
func NewHTTPClient(cfg config.LedgerConfig, log *zap.SugaredLogger) *HTTPClient {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")
	return &HTTPClient{
		rc:  rc,
		cb:  NewBreaker("ledger", cfg.BreakerWindow, cfg.BreakerTimeout, log),
		log: log,
	}
}

// call sends one request through the breaker and records its latency.
func (c *HTTPClient) call(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	start := time.Now()
	out, err := c.cb.Execute(func() (interface{}, error) {
		resp, err := send(c.rc.R().SetContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("HTTP error: %w", err)
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, fmt.Errorf("ledger returned status %d: %s", resp.StatusCode(), resp.String())
		}
		return resp, nil
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.LedgerRequestDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())

	if err != nil {
		if IsOpen(err) {
			err = fmt.Errorf("circuit breaker %s is open: %w", c.cb.name, err)
		}
		c.log.Warnw("ledger call failed", "operation", op, "error", err)
		return nil, apperrors.Wrap(apperrors.ErrLedgerUnavailable, err)
	}
	return out.(*resty.Response), nil
}

// GetBalance fetches the account's balances.
func (c *HTTPClient) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	resp, err := c.call(ctx, "get_balance", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", accountID).
			SetResult(&Balance{}).
			Get("/api/v1/accounts/{id}/balance")
	})
	if err != nil {
		return nil, err
	}
	if err := statusError(resp, accountID); err != nil {
		return nil, err
	}
	return resp.Result().(*Balance), nil
}

// HasSufficientBalance compares the available balance against amount.
func (c *HTTPClient) HasSufficientBalance(ctx context.Context, accountID string, amount decimal.Decimal) bool {
	bal, err := c.GetBalance(ctx, accountID)
	if err != nil {
		c.log.Warnw("balance check failed", "account_id", accountID, "error", err)
		return false
	}
	return bal.AvailableBalance.GreaterThanOrEqual(amount)
}

// UpdateBalance applies a signed delta keyed by ref. The account service only
// offers this over gRPC; the REST route used here must be provided by the
// ledger deployment.
func (c *HTTPClient) UpdateBalance(ctx context.Context, accountID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	resp, err := c.call(ctx, "update_balance", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", accountID).
			SetHeader(idempotencyHeader, ref).
			SetBody(updateBalanceRequest{Amount: json.Number(amount.String()), TransactionRef: ref}).
			Post("/api/v1/accounts/{id}/balance")
	})
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return decimal.Zero, apperrors.Wrap(apperrors.ErrAccountNotFound, fmt.Errorf("account %s", accountID))
	}

	var out updateBalanceResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.ErrLedgerUnavailable,
			fmt.Errorf("decode update response (status %d): %w", resp.StatusCode(), err))
	}
	if !out.Success {
		if out.Error != nil && out.Error.Code == codeInsufficientFunds {
			return decimal.Zero, apperrors.Wrap(apperrors.ErrInsufficientFunds, errors.New(out.Error.Message))
		}
		msg := fmt.Sprintf("status %d", resp.StatusCode())
		if out.Error != nil {
			msg = out.Error.Code + ": " + out.Error.Message
		}
		return decimal.Zero, apperrors.Wrap(apperrors.ErrLedgerUpdateFailed, errors.New(msg))
	}
	return out.NewBalance, nil
}

// DebitAccount removes amount from the account.
func (c *HTTPClient) DebitAccount(ctx context.Context, accountID string, amount decimal.Decimal, ref string) error {
	_, err := c.UpdateBalance(ctx, accountID, amount.Neg(), ref)
	return err
}

// CreditAccount adds amount to the account.
func (c *HTTPClient) CreditAccount(ctx context.Context, accountID string, amount decimal.Decimal, ref string) error {
	_, err := c.UpdateBalance(ctx, accountID, amount, ref)
	return err
}

// CreateHold reserves amount on the account and returns the hold id.
func (c *HTTPClient) CreateHold(ctx context.Context, accountID string, amount decimal.Decimal, reason, ref string) (string, error) {
	resp, err := c.call(ctx, "create_hold", func(r *resty.Request) (*resty.Response, error) {
		req := r.SetPathParam("id", accountID).
			SetBody(createHoldRequest{Amount: json.Number(amount.String()), Reason: reason, TransactionRef: ref}).
			SetResult(&holdResponse{})
		if ref != "" {
			req.SetHeader(idempotencyHeader, ref)
		}
		return req.Post("/api/v1/accounts/{id}/holds")
	})
	if err != nil {
		return "", err
	}
	if err := statusError(resp, accountID); err != nil {
		return "", err
	}
	return resp.Result().(*holdResponse).ID, nil
}

// ReleaseHold frees a previously created hold.
func (c *HTTPClient) ReleaseHold(ctx context.Context, holdID string) error {
	resp, err := c.call(ctx, "release_hold", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("holdId", holdID).
			Post("/api/v1/accounts/holds/{holdId}/release")
	})
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return apperrors.WithMessage(apperrors.ErrLedgerUpdateFailed, "hold not found")
	}
	if !resp.IsSuccess() {
		return apperrors.Wrap(apperrors.ErrLedgerUpdateFailed, fmt.Errorf("release hold %s: status %d", holdID, resp.StatusCode()))
	}
	return nil
}

// statusError maps a non-2xx answer below 500 to an AppError.
func statusError(resp *resty.Response, accountID string) error {
	switch {
	case resp.IsSuccess():
		return nil
	case resp.StatusCode() == http.StatusNotFound:
		return apperrors.Wrap(apperrors.ErrAccountNotFound, fmt.Errorf("account %s", accountID))
	default:
		return apperrors.Wrap(apperrors.ErrLedgerUnavailable,
			fmt.Errorf("ledger returned status %d: %s", resp.StatusCode(), resp.String()))
	}
}
