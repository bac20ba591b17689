package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/richardliu001/transaction-service/internal/errors"
	"github.com/richardliu001/transaction-service/internal/model"
	"github.com/richardliu001/transaction-service/internal/pagination"
	"github.com/richardliu001/transaction-service/internal/repo"
	"github.com/richardliu001/transaction-service/internal/service"
)

// Handler serves the transaction API.
type Handler struct {
	svc      service.TransactionServicer
	log      *zap.SugaredLogger
	draining func() bool
}

// NewHandler returns a Handler. draining may be nil; when it reports true the
// health endpoint answers 503.
func NewHandler(svc service.TransactionServicer, log *zap.SugaredLogger, draining func() bool) *Handler {
	return &Handler{svc: svc, log: log, draining: draining}
}

// RegisterHandlers mounts the transaction routes under rg.
func RegisterHandlers(rg *gin.RouterGroup, h *Handler) {
	tx := rg.Group("/transactions")
	{
		tx.POST("/transfer", h.CreateTransfer)
		tx.POST("/payment", h.CreatePayment)
		tx.GET("/search", h.SearchTransactions)
		tx.GET("/account/:accountId", h.GetAccountTransactions)
		tx.GET("/:id", h.GetTransaction)
		tx.POST("/:id/reverse", h.ReverseTransaction)
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	if h.draining != nil && h.draining() {
		h.respondWithError(c, apperrors.ErrShuttingDown)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "transaction-service"})
}

// CreateTransfer handles POST /transactions/transfer.
func (h *Handler) CreateTransfer(c *gin.Context) {
	var req service.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondWithError(c, apperrors.WithMessage(apperrors.ErrValidation, err.Error()))
		return
	}
	txn, err := h.svc.CreateTransfer(c.Request.Context(), req)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// CreatePayment handles POST /transactions/payment.
func (h *Handler) CreatePayment(c *gin.Context) {
	var req service.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondWithError(c, apperrors.WithMessage(apperrors.ErrValidation, err.Error()))
		return
	}
	txn, err := h.svc.CreatePayment(c.Request.Context(), req)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// GetTransaction handles GET /transactions/:id.
func (h *Handler) GetTransaction(c *gin.Context) {
	txn, err := h.svc.GetTransactionByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// GetAccountTransactions handles GET /transactions/account/:accountId.
func (h *Handler) GetAccountTransactions(c *gin.Context) {
	h.search(c, c.Param("accountId"))
}

// SearchTransactions handles GET /transactions/search?accountId=...
func (h *Handler) SearchTransactions(c *gin.Context) {
	h.search(c, c.Query("accountId"))
}

// searchParams is the query string of the search routes.
type searchParams struct {
	pagination.PageRequest
	Status    string `form:"status" binding:"omitempty,transaction_status"`
	Type      string `form:"type" binding:"omitempty,transaction_type"`
	FromDate  string `form:"fromDate"`
	ToDate    string `form:"toDate"`
	MinAmount string `form:"minAmount"`
	MaxAmount string `form:"maxAmount"`
}

func (h *Handler) search(c *gin.Context, accountID string) {
	var params searchParams
	if err := c.ShouldBindQuery(&params); err != nil {
		h.respondWithError(c, apperrors.WithMessage(apperrors.ErrValidation, err.Error()))
		return
	}
	filter, err := params.filter()
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	res, err := h.svc.SearchTransactions(c.Request.Context(), service.SearchQuery{
		AccountID: accountID,
		Filter:    filter,
		Page:      params.PageRequest,
	})
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ReverseTransaction handles POST /transactions/:id/reverse. When the reversal
// was recorded but a later step failed, the record is returned with the error.
func (h *Handler) ReverseTransaction(c *gin.Context) {
	rev, err := h.svc.ReverseTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if rev != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				h.log.Errorw("reversal incomplete", "transaction_id", c.Param("id"), "code", appErr.Code, "error", err)
				c.JSON(appErr.StatusCode, gin.H{
					"error":    gin.H{"code": appErr.Code, "message": appErr.Message},
					"reversal": rev,
				})
				return
			}
		}
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Transaction reversed successfully",
		"reversal": rev,
	})
}

// filter converts the bound query into a store filter.
func (p searchParams) filter() (repo.SearchFilter, error) {
	var f repo.SearchFilter
	if p.Status != "" {
		s := model.TransactionStatus(p.Status)
		f.Status = &s
	}
	if p.Type != "" {
		t := model.TransactionType(p.Type)
		f.Type = &t
	}
	for _, d := range []struct {
		name, value string
		dst         **time.Time
	}{{"fromDate", p.FromDate, &f.FromDate}, {"toDate", p.ToDate, &f.ToDate}} {
		if d.value == "" {
			continue
		}
		ts, err := parseDate(d.value)
		if err != nil {
			return f, apperrors.WithMessage(apperrors.ErrValidation, "invalid "+d.name)
		}
		*d.dst = &ts
	}
	for _, a := range []struct {
		name, value string
		dst         **decimal.Decimal
	}{{"minAmount", p.MinAmount, &f.MinAmount}, {"maxAmount", p.MaxAmount, &f.MaxAmount}} {
		if a.value == "" {
			continue
		}
		v, err := decimal.NewFromString(a.value)
		if err != nil {
			return f, apperrors.WithMessage(apperrors.ErrValidation, "invalid "+a.name)
		}
		*a.dst = &v
	}
	return f, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", v)
}

// respondWithError writes {"error":{"code","message"}}. Errors that are not
// *AppError are logged and reported as INTERNAL_ERROR.
func (h *Handler) respondWithError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Internal != nil {
			h.log.Errorw("app error",
				"code", appErr.Code,
				"internal", appErr.Internal.Error(),
				"path", c.Request.URL.Path,
			)
		}
		c.JSON(appErr.StatusCode, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	h.log.Errorw("unexpected error",
		"error", err.Error(),
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
	)
	c.JSON(apperrors.ErrInternalServer.StatusCode, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrInternalServer.Code,
			"message": apperrors.ErrInternalServer.Message,
		},
	})
}
