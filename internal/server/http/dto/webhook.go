package dto

// PaymentWebhook is the gateway's event envelope.
type PaymentWebhook struct {
	UpdateType string                `json:"update_type"`
	Payload    PaymentWebhookInvoice `json:"payload"`
}

// PaymentWebhookInvoice carries the settled invoice details. Payload
// echoes the transaction ID attached at invoice creation.
type PaymentWebhookInvoice struct {
	InvoiceID int64  `json:"invoice_id"`
	Status    string `json:"status"`
	Payload   string `json:"payload"`
	PaidAt    string `json:"paid_at"`
}

// Provider webhook notify types.
const (
	NotifyOrderStatus   = "ORDER_STATUS"
	NotifyESimStatus    = "ESIM_STATUS"
	NotifyDataUsage     = "DATA_USAGE"
	NotifyValidityUsage = "VALIDITY_USAGE"
)

// ProviderWebhook is the provisioning API's callback envelope.
type ProviderWebhook struct {
	NotifyType string                 `json:"notifyType"`
	Content    ProviderWebhookContent `json:"content"`
}

// ProviderWebhookContent is the union of fields across notify types;
// each type fills its own subset.
type ProviderWebhookContent struct {
	OrderNo       string `json:"orderNo"`
	TransactionID string `json:"transactionId"`
	OrderStatus   string `json:"orderStatus"`
	EsimTranNo    string `json:"esimTranNo"`
	ICCID         string `json:"iccid"`
	EsimStatus    string `json:"esimStatus"`
	SMDPStatus    string `json:"smdpStatus"`
	TotalVolume   int64  `json:"totalVolume"`
	OrderUsage    int64  `json:"orderUsage"`
	ExpiredTime   string `json:"expiredTime"`
}
