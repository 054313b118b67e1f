package infrastructure

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/usecase"
)

type CreditHandlers struct {
	Ledger *usecase.CreditLedger
}

func NewCreditHandlers(ledger *usecase.CreditLedger) *CreditHandlers {
	return &CreditHandlers{Ledger: ledger}
}

type transactionView struct {
	ID             snowflake.ID           `json:"id"`
	Kind           domain.TransactionKind `json:"kind"`
	Amount         int64                  `json:"amount"`
	VideoID        *snowflake.ID          `json:"videoId,omitempty"`
	ProcessingType *domain.ProcessingType `json:"processingType,omitempty"`
	Description    string                 `json:"description"`
	Annotated      bool                   `json:"annotated"`
	BalanceAfter   int64                  `json:"balanceAfter"`
	CreatedAt      time.Time              `json:"createdAt"`
}

func toTransactionView(t domain.CreditTransaction) transactionView {
	return transactionView{
		ID:             t.ID,
		Kind:           t.Kind,
		Amount:         t.Amount,
		VideoID:        t.VideoID,
		ProcessingType: t.ProcessingType,
		Description:    t.Description,
		Annotated:      t.Annotated,
		BalanceAfter:   t.BalanceAfter,
		CreatedAt:      t.CreatedAt,
	}
}

type chargeRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type annotateRequest struct {
	Note string `json:"note"`
}

func (h *CreditHandlers) BalanceHandler(c *gin.Context) {
	balance, err := h.Ledger.Balance(c.Request.Context(), memberID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (h *CreditHandlers) TransactionsHandler(c *gin.Context) {
	limit, offset := pagination(c)
	page, err := h.Ledger.History(c.Request.Context(), memberID(c), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	items := make([]transactionView, 0, len(page.Items))
	for _, t := range page.Items {
		items = append(items, toTransactionView(t))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": page.Total})
}

func (h *CreditHandlers) ChargeHandler(c *gin.Context) {
	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	entry, err := h.Ledger.Credit(c.Request.Context(), memberID(c), req.Amount, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTransactionView(entry))
}

func (h *CreditHandlers) CostHandler(c *gin.Context) {
	pt, err := domain.ParseProcessingType(c.Query("processingType"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	duration, err := strconv.ParseFloat(c.Query("durationSeconds"), 64)
	if err != nil {
		AbortWithError(c, domain.ErrInvalidDuration)
		return
	}
	quote, err := h.Ledger.QuoteCost(pt, duration)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *CreditHandlers) AnnotateHandler(c *gin.Context) {
	txnID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req annotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := h.Ledger.Annotate(c.Request.Context(), memberID(c), txnID, req.Note); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
