package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
)

// UserNotifier delivers order and profile events to the end user's chat
// transport. Delivery failures are logged and never fail the operation
// that produced the event.
type UserNotifier interface {
	ESimReady(ctx context.Context, user *model.User, order *model.Order, esim *model.ESim) error
	OrderFailed(ctx context.Context, user *model.User, order *model.Order, reason string) error
	TopupApplied(ctx context.Context, user *model.User, esim *model.ESim) error
	ESimStatusChanged(ctx context.Context, user *model.User, esim *model.ESim) error
	LowData(ctx context.Context, user *model.User, esim *model.ESim, remaining float64) error
}

// OperatorAlerter raises conditions that need a human: low merchant
// balance, refunds, unprocessable webhooks.
type OperatorAlerter interface {
	Alert(ctx context.Context, subject, detail string) error
}

// event is the wire format pushed to the notification bridge.
type event struct {
	Type      string         `json:"type"`
	ChatID    int64          `json:"chat_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WebhookNotifier posts events to external bridge endpoints.
type WebhookNotifier struct {
	userURL     string
	operatorURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewWebhookNotifier creates a notifier. Either URL may be empty, in
// which case the corresponding events are only logged.
func NewWebhookNotifier(userURL, operatorURL string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		userURL:     userURL,
		operatorURL: operatorURL,
		logger:      logger,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *WebhookNotifier) post(ctx context.Context, url string, ev event) error {
	ev.Timestamp = time.Now().UTC()
	if url == "" {
		n.logger.Info("notification event",
			slog.String("type", ev.Type),
			slog.Int64("chat_id", ev.ChatID),
			slog.String("subject", ev.Subject))
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return apperrors.TransportError{Op: "notify " + ev.Type, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apperrors.TransportError{Op: "notify " + ev.Type, Err: fmt.Errorf("bridge status %s", resp.Status)}
	}
	return nil
}

func (n *WebhookNotifier) ESimReady(ctx context.Context, user *model.User, order *model.Order, esim *model.ESim) error {
	return n.post(ctx, n.userURL, event{
		Type:   "esim_ready",
		ChatID: user.ChatID,
		Fields: map[string]any{
			"order_id":        order.ID,
			"transaction_id":  order.TransactionID,
			"iccid":           esim.ICCID,
			"activation_code": esim.ActivationCode,
			"qr_code_url":     esim.QRCodeURL,
			"short_url":       esim.ShortURL,
		},
	})
}

func (n *WebhookNotifier) OrderFailed(ctx context.Context, user *model.User, order *model.Order, reason string) error {
	return n.post(ctx, n.userURL, event{
		Type:   "order_failed",
		ChatID: user.ChatID,
		Detail: reason,
		Fields: map[string]any{
			"order_id":       order.ID,
			"transaction_id": order.TransactionID,
		},
	})
}

func (n *WebhookNotifier) TopupApplied(ctx context.Context, user *model.User, esim *model.ESim) error {
	return n.post(ctx, n.userURL, event{
		Type:   "topup_applied",
		ChatID: user.ChatID,
		Fields: map[string]any{
			"iccid":       esim.ICCID,
			"total_bytes": esim.TotalBytes,
		},
	})
}

func (n *WebhookNotifier) ESimStatusChanged(ctx context.Context, user *model.User, esim *model.ESim) error {
	return n.post(ctx, n.userURL, event{
		Type:   "esim_status",
		ChatID: user.ChatID,
		Fields: map[string]any{
			"iccid":  esim.ICCID,
			"status": string(esim.Status),
		},
	})
}

func (n *WebhookNotifier) LowData(ctx context.Context, user *model.User, esim *model.ESim, remaining float64) error {
	return n.post(ctx, n.userURL, event{
		Type:   "low_data",
		ChatID: user.ChatID,
		Fields: map[string]any{
			"iccid":     esim.ICCID,
			"remaining": remaining,
		},
	})
}

func (n *WebhookNotifier) Alert(ctx context.Context, subject, detail string) error {
	n.logger.Warn("operator alert", slog.String("subject", subject), slog.String("detail", detail))
	return n.post(ctx, n.operatorURL, event{
		Type:    "operator_alert",
		Subject: subject,
		Detail:  detail,
	})
}
