package dto

import (
	"time"

	"github.com/esimlab/esimbroker/internal/domain/model"
)

// ESimResponse is the wire form of one provisioned profile.
type ESimResponse struct {
	ICCID          string     `json:"iccid"`
	ActivationCode string     `json:"activation_code"`
	QRCodeURL      string     `json:"qr_code_url,omitempty"`
	ShortURL       string     `json:"short_url,omitempty"`
	Status         string     `json:"status"`
	SMDPStatus     string     `json:"smdp_status,omitempty"`
	TotalBytes     int64      `json:"total_bytes"`
	UsedBytes      int64      `json:"used_bytes"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
}

// ToESimResponse converts the domain profile.
func ToESimResponse(esim model.ESim) ESimResponse {
	return ESimResponse{
		ICCID:          esim.ICCID,
		ActivationCode: esim.ActivationCode,
		QRCodeURL:      esim.QRCodeURL,
		ShortURL:       esim.ShortURL,
		Status:         string(esim.Status),
		SMDPStatus:     esim.SMDPStatus,
		TotalBytes:     esim.TotalBytes,
		UsedBytes:      esim.UsedBytes,
		ExpiredAt:      esim.ExpiredAt,
	}
}

// SendSMSRequest delivers a text message to a profile.
type SendSMSRequest struct {
	ChatID  int64  `json:"chat_id" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// ESimActionRequest identifies the acting chat user.
type ESimActionRequest struct {
	ChatID int64 `json:"chat_id" binding:"required"`
}
