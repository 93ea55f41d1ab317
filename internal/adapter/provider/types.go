package provider

// PackagePayload mirrors one catalog entry as the provider returns it.
// Volume is in bytes and Price in units of 1/10000 USD; conversion to
// user-facing figures happens in the catalog synchronizer.
type PackagePayload struct {
	PackageCode   string `json:"packageCode"`
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	Volume        int64  `json:"volume"`
	Duration      int    `json:"duration"`
	DurationUnit  string `json:"durationUnit"`
	Location      string `json:"location"`
	Description   string `json:"description"`
	ActiveType    int    `json:"activeType"`
	SupportTopUp  int    `json:"supportTopUpType"`
	RetailPrice   int64  `json:"retailPrice"`
	SpeedLimit    string `json:"speed"`
	LocationNames string `json:"locationNetworkList,omitempty"`
}

// ProfilePayload mirrors one provisioned eSIM profile.
type ProfilePayload struct {
	EsimTranNo    string `json:"esimTranNo"`
	OrderNo       string `json:"orderNo"`
	TransactionID string `json:"transactionId"`
	ICCID         string `json:"iccid"`
	AC            string `json:"ac"`
	QRCodeURL     string `json:"qrCodeUrl"`
	ShortURL      string `json:"shortUrl"`
	SMDPStatus    string `json:"smdpStatus"`
	EsimStatus    string `json:"esimStatus"`
	TotalVolume   int64  `json:"totalVolume"`
	OrderUsage    int64  `json:"orderUsage"`
	TotalDuration int    `json:"totalDuration"`
	ExpiredTime   string `json:"expiredTime"`
	PackageList   []struct {
		PackageCode string `json:"packageCode"`
	} `json:"packageList"`
}

// OrderResult carries the provider order reference. Profiles is filled
// only when the provider provisioned synchronously.
type OrderResult struct {
	OrderNo  string
	Profiles []ProfilePayload
}

// BalancePayload carries the merchant account balance in units of
// 1/10000 USD.
type BalancePayload struct {
	Balance int64 `json:"balance"`
}

// UsagePayload carries current allowance consumption for one profile.
type UsagePayload struct {
	EsimTranNo  string `json:"esimTranNo"`
	TotalVolume int64  `json:"totalVolume"`
	OrderUsage  int64  `json:"orderUsage"`
	ExpiredTime string `json:"expiredTime"`
}

// ProfileQuery selects profiles by exactly one reference. Empty fields
// are omitted from the request.
type ProfileQuery struct {
	OrderNo       string `json:"orderNo,omitempty"`
	ICCID         string `json:"iccid,omitempty"`
	EsimTranNo    string `json:"esimTranNo,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}
