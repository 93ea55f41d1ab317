package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/esimlab/esimbroker/internal/adapter/payment"
	"github.com/esimlab/esimbroker/internal/server/http/dto"
)

const invoicePaid = "invoice_paid"

// WebhookHandler terminates gateway and provider callbacks.
type WebhookHandler struct {
	facade   BrokerFacade
	verifier payment.Verifier
	logger   *slog.Logger
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(facade BrokerFacade, verifier payment.Verifier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{facade: facade, verifier: verifier, logger: logger}
}

// Payment handles POST /webhook/payment. The body is authenticated by
// the gateway's HMAC signature before any parsing happens.
func (h *WebhookHandler) Payment(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	signature := c.GetHeader(payment.SignatureHeader())
	if !h.verifier.Verify(body, signature) {
		h.logger.Warn("payment webhook signature rejected")
		c.Status(http.StatusForbidden)
		return
	}

	var event dto.PaymentWebhook
	if err := json.Unmarshal(body, &event); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if event.UpdateType != invoicePaid {
		// Nothing to do for other event types, acknowledge anyway.
		c.Status(http.StatusOK)
		return
	}

	paidAt := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, event.Payload.PaidAt); err == nil {
		paidAt = ts.UTC()
	}

	if err := h.facade.ConfirmPayment(c.Request.Context(), event.Payload.Payload, paidAt); err != nil {
		h.logger.Error("payment webhook failed",
			slog.String("transaction_id", event.Payload.Payload),
			slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}

// Provider handles POST /webhook/provider. Every notify type funnels
// into the same state updates the reconciliation poll performs, so a
// dropped callback is recovered on the next sweep.
func (h *WebhookHandler) Provider(c *gin.Context) {
	var event dto.ProviderWebhook
	if err := c.ShouldBindJSON(&event); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	content := event.Content
	var err error
	switch event.NotifyType {
	case dto.NotifyOrderStatus:
		err = h.facade.CompleteOrderByTransaction(ctx, content.TransactionID)
	case dto.NotifyESimStatus:
		err = h.facade.ApplyESimStatus(ctx, content.EsimTranNo, content.EsimStatus, content.SMDPStatus)
	case dto.NotifyDataUsage:
		err = h.facade.ApplyESimUsage(ctx, content.EsimTranNo, content.TotalVolume, content.OrderUsage)
	case dto.NotifyValidityUsage:
		expiredAt, ok := parseWebhookTime(content.ExpiredTime)
		if !ok {
			c.Status(http.StatusBadRequest)
			return
		}
		err = h.facade.ApplyESimValidity(ctx, content.EsimTranNo, expiredAt)
	default:
		h.logger.Warn("unknown provider notify type", slog.String("notify_type", event.NotifyType))
		c.Status(http.StatusOK)
		return
	}

	if err != nil {
		h.logger.Error("provider webhook failed",
			slog.String("notify_type", event.NotifyType),
			slog.String("esim_tran_no", content.EsimTranNo),
			slog.String("transaction_id", content.TransactionID),
			slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}

var webhookTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseWebhookTime(raw string) (time.Time, bool) {
	for _, layout := range webhookTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
