package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/esimlab/esimbroker/internal/domain/errors"
)

const accessCodeHeader = "RT-AccessCode"

// TooManyRequestsError represents a rate limiting signal from the provider.
type TooManyRequestsError struct {
	RetryAfter time.Duration
}

func (e TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}

// Client exposes operations against the upstream eSIM provider.
type Client interface {
	ListPackages(ctx context.Context, locationCode string) ([]PackagePayload, error)
	CreateOrder(ctx context.Context, transactionID, packageCode string, count int, amount int64) (*OrderResult, error)
	QueryProfiles(ctx context.Context, q ProfileQuery) ([]ProfilePayload, error)
	Topup(ctx context.Context, esimTranNo, transactionID, packageCode string, amount int64) (*OrderResult, error)
	Cancel(ctx context.Context, esimTranNo string) error
	Suspend(ctx context.Context, esimTranNo string) error
	Resume(ctx context.Context, esimTranNo string) error
	SendSMS(ctx context.Context, iccid, message string) error
	Balance(ctx context.Context) (int64, error)
	RegisterWebhook(ctx context.Context, webhookURL string) error
}

// HTTPClient implements Client via the provider's HTTP API.
type HTTPClient struct {
	baseURL    *url.URL
	accessCode string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates an HTTP provider client with default timeout.
func NewHTTPClient(baseURL, accessCode string, logger *slog.Logger) (*HTTPClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("provider url must be absolute")
	}
	return &HTTPClient{
		baseURL:    parsed,
		accessCode: accessCode,
		logger:     logger,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// envelope is the provider's response wrapper. The payload sits under a
// key that varies by endpoint and provider version, so everything
// beyond the status fields is kept raw for normalize to probe.
type envelope struct {
	Success   bool
	ErrorCode string
	ErrorMsg  string
	fields    map[string]json.RawMessage
}

func parseEnvelope(body []byte) (*envelope, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	env := &envelope{fields: fields}
	if raw, ok := fields["success"]; ok {
		_ = json.Unmarshal(raw, &env.Success)
	}
	if raw, ok := fields["errorCode"]; ok {
		_ = json.Unmarshal(raw, &env.ErrorCode)
	}
	if raw, ok := fields["errorMsg"]; ok {
		_ = json.Unmarshal(raw, &env.ErrorMsg)
	}
	if env.ErrorMsg == "" {
		if raw, ok := fields["errorMessage"]; ok {
			_ = json.Unmarshal(raw, &env.ErrorMsg)
		}
	}
	return env, nil
}

// payload returns the response payload regardless of which key the
// provider nested it under. Probe order: result, obj.packageList, obj,
// data, list.
func (e *envelope) payload() (json.RawMessage, bool) {
	if raw, ok := e.field("result"); ok {
		return raw, true
	}
	if raw, ok := e.field("obj"); ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err == nil {
			if list, ok := inner["packageList"]; ok && notNull(list) {
				return list, true
			}
		}
		return raw, true
	}
	if raw, ok := e.field("data"); ok {
		return raw, true
	}
	if raw, ok := e.field("list"); ok {
		return raw, true
	}
	return nil, false
}

func (e *envelope) field(key string) (json.RawMessage, bool) {
	raw, ok := e.fields[key]
	if !ok || !notNull(raw) {
		return nil, false
	}
	return raw, true
}

func notNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// decodeList decodes a payload that may be either a JSON array or a
// single object, always yielding a slice.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode provider payload: %w", err)
		}
		return items, nil
	}
	var item T
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, fmt.Errorf("decode provider payload: %w", err)
	}
	return []T{item}, nil
}

// classify maps a provider error to its domain kind by code first, then
// by message heuristics for codes not seen before.
func classify(code, msg string) apperrors.ProviderErrorKind {
	switch code {
	case "200010", "BALANCE_INSUFFICIENT":
		return apperrors.ProviderInsufficientBalance
	case "200007", "PACKAGE_NOT_EXIST":
		return apperrors.ProviderInvalidPackageCode
	case "200015", "DUPLICATE_TRANSACTION":
		return apperrors.ProviderDuplicateRequest
	case "200013", "ORDER_PROCESSING":
		return apperrors.ProviderPending
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "balance"):
		return apperrors.ProviderInsufficientBalance
	case strings.Contains(lower, "package"):
		return apperrors.ProviderInvalidPackageCode
	case strings.Contains(lower, "duplicate"), strings.Contains(lower, "repeat"):
		return apperrors.ProviderDuplicateRequest
	case strings.Contains(lower, "processing"), strings.Contains(lower, "pending"):
		return apperrors.ProviderPending
	}
	return apperrors.ProviderUnknown
}

func (c *HTTPClient) do(ctx context.Context, op, endpoint string, reqBody any) (*envelope, error) {
	target := *c.baseURL
	target.Path = path.Join(target.Path, endpoint)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(accessCodeHeader, c.accessCode)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, apperrors.TransportError{Op: op, Err: TooManyRequestsError{RetryAfter: retryAfter}}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("provider request failed",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return nil, apperrors.TransportError{Op: op, Err: fmt.Errorf("provider status %s", resp.Status)}
	}

	env, err := parseEnvelope(body)
	if err != nil {
		return nil, apperrors.TransportError{Op: op, Err: err}
	}

	if !env.Success {
		kind := classify(env.ErrorCode, env.ErrorMsg)
		c.logger.Warn("provider rejected request",
			slog.String("op", op),
			slog.String("code", env.ErrorCode),
			slog.String("message", env.ErrorMsg))
		return nil, apperrors.ProviderError{Kind: kind, Code: env.ErrorCode, Message: env.ErrorMsg}
	}

	return env, nil
}

// ListPackages returns the catalog for one location code. The caller is
// responsible for exact-match filtering; the provider treats the
// location parameter as a prefix hint.
func (c *HTTPClient) ListPackages(ctx context.Context, locationCode string) ([]PackagePayload, error) {
	req := map[string]any{
		"locationCode": locationCode,
		"type":         "BASE",
	}
	env, err := c.do(ctx, "list packages", "/open/package/list", req)
	if err != nil {
		return nil, err
	}
	raw, ok := env.payload()
	if !ok {
		return nil, apperrors.ErrNoData
	}
	return decodeList[PackagePayload](raw)
}

// CreateOrder places a provisioning order. Profiles are present in the
// result only when the provider fulfilled synchronously; otherwise the
// order number is the join key for later polling.
func (c *HTTPClient) CreateOrder(ctx context.Context, transactionID, packageCode string, count int, amount int64) (*OrderResult, error) {
	req := map[string]any{
		"transactionId": transactionID,
		"amount":        amount,
		"packageInfoList": []map[string]any{{
			"packageCode": packageCode,
			"count":       count,
			"price":       amount,
		}},
	}
	env, err := c.do(ctx, "create order", "/open/esim/order", req)
	if err != nil {
		return nil, err
	}
	return decodeOrderResult(env)
}

// QueryProfiles fetches provisioned profiles by order number, ICCID, or
// provider transaction number.
func (c *HTTPClient) QueryProfiles(ctx context.Context, q ProfileQuery) ([]ProfilePayload, error) {
	req := struct {
		ProfileQuery
		Pager map[string]int `json:"pager"`
	}{
		ProfileQuery: q,
		Pager:        map[string]int{"pageNum": 1, "pageSize": 20},
	}
	env, err := c.do(ctx, "query profiles", "/open/esim/query", req)
	if err != nil {
		return nil, err
	}
	raw, ok := env.payload()
	if !ok {
		return nil, apperrors.ErrNoData
	}
	var wrapper struct {
		EsimList []ProfilePayload `json:"esimList"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.EsimList) > 0 {
		return wrapper.EsimList, nil
	}
	return decodeList[ProfilePayload](raw)
}

// Topup extends an existing profile's allowance with a new package.
func (c *HTTPClient) Topup(ctx context.Context, esimTranNo, transactionID, packageCode string, amount int64) (*OrderResult, error) {
	req := map[string]any{
		"esimTranNo":    esimTranNo,
		"transactionId": transactionID,
		"packageCode":   packageCode,
		"amount":        amount,
	}
	env, err := c.do(ctx, "topup", "/open/esim/topup", req)
	if err != nil {
		return nil, err
	}
	return decodeOrderResult(env)
}

// Cancel revokes an unused profile.
func (c *HTTPClient) Cancel(ctx context.Context, esimTranNo string) error {
	_, err := c.do(ctx, "cancel profile", "/open/esim/cancel", map[string]any{"esimTranNo": esimTranNo})
	return err
}

// Suspend pauses connectivity for a profile.
func (c *HTTPClient) Suspend(ctx context.Context, esimTranNo string) error {
	_, err := c.do(ctx, "suspend profile", "/open/esim/suspend", map[string]any{"esimTranNo": esimTranNo})
	return err
}

// Resume restores connectivity for a suspended profile.
func (c *HTTPClient) Resume(ctx context.Context, esimTranNo string) error {
	_, err := c.do(ctx, "resume profile", "/open/esim/unsuspend", map[string]any{"esimTranNo": esimTranNo})
	return err
}

// SendSMS delivers a text to the device holding the profile.
func (c *HTTPClient) SendSMS(ctx context.Context, iccid, message string) error {
	req := map[string]any{
		"iccid":   iccid,
		"message": message,
	}
	_, err := c.do(ctx, "send sms", "/open/esim/sendSms", req)
	return err
}

// Balance returns the merchant balance in units of 1/10000 USD.
func (c *HTTPClient) Balance(ctx context.Context) (int64, error) {
	env, err := c.do(ctx, "query balance", "/open/balance/query", map[string]any{})
	if err != nil {
		return 0, err
	}
	raw, ok := env.payload()
	if !ok {
		return 0, apperrors.ErrNoData
	}
	var payload BalancePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, fmt.Errorf("decode balance payload: %w", err)
	}
	return payload.Balance, nil
}

// RegisterWebhook points provider notifications at the given URL.
func (c *HTTPClient) RegisterWebhook(ctx context.Context, webhookURL string) error {
	_, err := c.do(ctx, "register webhook", "/open/webhook/save", map[string]any{"webhook": webhookURL})
	return err
}

func decodeOrderResult(env *envelope) (*OrderResult, error) {
	raw, ok := env.payload()
	if !ok {
		return nil, apperrors.ErrNoData
	}
	var payload struct {
		OrderNo  string           `json:"orderNo"`
		EsimList []ProfilePayload `json:"esimList"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode order payload: %w", err)
	}
	if payload.OrderNo == "" {
		return nil, apperrors.DataIntegrityError{Field: "orderNo", Detail: "missing in order response"}
	}
	return &OrderResult{OrderNo: payload.OrderNo, Profiles: payload.EsimList}, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 5 * time.Second
}
