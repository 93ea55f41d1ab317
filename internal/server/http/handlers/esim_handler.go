package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/esimlab/esimbroker/internal/server/http/dto"
)

// ESimHandler manages profile endpoints for the chat bridge.
type ESimHandler struct {
	facade BrokerFacade
}

// NewESimHandler constructs ESimHandler.
func NewESimHandler(facade BrokerFacade) *ESimHandler {
	return &ESimHandler{facade: facade}
}

// List handles GET /api/esims.
func (h *ESimHandler) List(c *gin.Context) {
	chatID, ok := chatIDQuery(c)
	if !ok {
		return
	}
	user := resolveUser(c, h.facade, chatID, "")
	if user == nil {
		return
	}

	esims, err := h.facade.ESims(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(esims) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	response := make([]dto.ESimResponse, 0, len(esims))
	for _, esim := range esims {
		response = append(response, dto.ToESimResponse(esim))
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/esims/:iccid.
func (h *ESimHandler) Get(c *gin.Context) {
	chatID, ok := chatIDQuery(c)
	if !ok {
		return
	}
	user := resolveUser(c, h.facade, chatID, "")
	if user == nil {
		return
	}

	esim, err := h.facade.ESim(c.Request.Context(), user.ID, c.Param("iccid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToESimResponse(*esim))
}

func (h *ESimHandler) action(c *gin.Context, run func(userID int64, iccid string) error) {
	var req dto.ESimActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	user := resolveUser(c, h.facade, req.ChatID, "")
	if user == nil {
		return
	}

	if err := run(user.ID, c.Param("iccid")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Suspend handles POST /api/esims/:iccid/suspend.
func (h *ESimHandler) Suspend(c *gin.Context) {
	h.action(c, func(userID int64, iccid string) error {
		return h.facade.SuspendESim(c.Request.Context(), userID, iccid)
	})
}

// Resume handles POST /api/esims/:iccid/resume.
func (h *ESimHandler) Resume(c *gin.Context) {
	h.action(c, func(userID int64, iccid string) error {
		return h.facade.ResumeESim(c.Request.Context(), userID, iccid)
	})
}

// SendSMS handles POST /api/esims/:iccid/sms.
func (h *ESimHandler) SendSMS(c *gin.Context) {
	var req dto.SendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	user := resolveUser(c, h.facade, req.ChatID, "")
	if user == nil {
		return
	}

	if err := h.facade.SendSMS(c.Request.Context(), user.ID, c.Param("iccid"), req.Message); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
