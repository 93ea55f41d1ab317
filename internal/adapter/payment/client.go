package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/esimlab/esimbroker/internal/domain/errors"
)

const (
	tokenHeader     = "Crypto-Pay-API-Token"
	signatureHeader = "Crypto-Pay-Api-Signature"
)

// Invoice statuses as the gateway reports them.
const (
	InvoiceStatusActive  = "active"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusExpired = "expired"
)

// Invoice is one payment request at the gateway. Payload carries the
// order transaction ID and is the correlation key on the way back.
type Invoice struct {
	ID      int64           `json:"invoice_id"`
	Status  string          `json:"status"`
	Amount  decimal.Decimal `json:"amount"`
	Asset   string          `json:"asset"`
	PayURL  string          `json:"pay_url"`
	Payload string          `json:"payload"`
	PaidAt  *time.Time      `json:"paid_at,omitempty"`
}

// Gateway exposes the payment operations order management needs.
type Gateway interface {
	CreateInvoice(ctx context.Context, amountUSD decimal.Decimal, payload, description string) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error)
}

// Verifier authenticates incoming payment webhook bodies.
type Verifier interface {
	Verify(body []byte, signature string) bool
}

// HTTPGateway implements Gateway against a Crypto Pay compatible API.
type HTTPGateway struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPGateway creates a payment gateway client with default timeout.
func NewHTTPGateway(baseURL, token string, logger *slog.Logger) (*HTTPGateway, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse payment url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("payment url must be absolute")
	}
	return &HTTPGateway{
		baseURL: parsed,
		token:   token,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

func (g *HTTPGateway) call(ctx context.Context, op, method string, reqBody any) (json.RawMessage, error) {
	target := *g.baseURL
	target.Path = path.Join(target.Path, method)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, g.token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		g.logger.Error("payment request failed",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return nil, apperrors.TransportError{Op: op, Err: fmt.Errorf("gateway status %s", resp.Status)}
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.TransportError{Op: op, Err: fmt.Errorf("decode gateway response: %w", err)}
	}

	if !parsed.OK {
		reason := "gateway rejected request"
		if parsed.Error != nil {
			reason = fmt.Sprintf("gateway error %d: %s", parsed.Error.Code, parsed.Error.Name)
		}
		return nil, apperrors.PaymentError{Reason: reason}
	}

	return parsed.Result, nil
}

// CreateInvoice opens a USD invoice. The payload string is echoed back
// in webhooks and lookups, so callers put the order transaction ID in it.
func (g *HTTPGateway) CreateInvoice(ctx context.Context, amountUSD decimal.Decimal, payload, description string) (*Invoice, error) {
	req := map[string]any{
		"currency_type": "fiat",
		"fiat":          "USD",
		"amount":        amountUSD.StringFixed(2),
		"payload":       payload,
		"description":   description,
	}
	result, err := g.call(ctx, "create invoice", "createInvoice", req)
	if err != nil {
		return nil, err
	}

	var invoice Invoice
	if err := json.Unmarshal(result, &invoice); err != nil {
		return nil, apperrors.PaymentError{Reason: "malformed invoice payload", Err: err}
	}
	return &invoice, nil
}

// GetInvoice fetches one invoice by its gateway ID.
func (g *HTTPGateway) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	req := map[string]any{"invoice_ids": fmt.Sprintf("%d", invoiceID)}
	result, err := g.call(ctx, "get invoice", "getInvoices", req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Items []Invoice `json:"items"`
	}
	if err := json.Unmarshal(result, &wrapper); err != nil {
		return nil, apperrors.PaymentError{Reason: "malformed invoice list", Err: err}
	}
	for i := range wrapper.Items {
		if wrapper.Items[i].ID == invoiceID {
			return &wrapper.Items[i], nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// HMACVerifier checks webhook signatures the way the gateway computes
// them: HMAC-SHA256 over the raw body, keyed with SHA256 of the API
// token, hex encoded.
type HMACVerifier struct {
	key []byte
}

// NewHMACVerifier derives the verification key from the API token.
func NewHMACVerifier(token string) *HMACVerifier {
	key := sha256.Sum256([]byte(token))
	return &HMACVerifier{key: key[:]}
}

// Verify reports whether the signature matches the body.
func (v *HMACVerifier) Verify(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, v.key)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignatureHeader returns the header carrying the webhook signature.
func SignatureHeader() string { return signatureHeader }
