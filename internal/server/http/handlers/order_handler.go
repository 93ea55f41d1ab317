package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/esimlab/esimbroker/internal/server/http/dto"
)

// OrderHandler manages order endpoints for the chat bridge.
type OrderHandler struct {
	facade BrokerFacade
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(facade BrokerFacade) *OrderHandler {
	return &OrderHandler{facade: facade}
}

// Create handles POST /api/orders.
func (h *OrderHandler) Create(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	user := resolveUser(c, h.facade, req.ChatID, req.Locale)
	if user == nil {
		return
	}

	order, err := h.facade.CreateOrder(c.Request.Context(), user.ID, req.PackageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.ToOrderResponse(*order))
}

// CreateTopup handles POST /api/topups.
func (h *OrderHandler) CreateTopup(c *gin.Context) {
	var req dto.CreateTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	user := resolveUser(c, h.facade, req.ChatID, "")
	if user == nil {
		return
	}

	order, err := h.facade.CreateTopup(c.Request.Context(), user.ID, req.ICCID, req.PackageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.ToOrderResponse(*order))
}

// Get handles GET /api/orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	chatID, ok := chatIDQuery(c)
	if !ok {
		return
	}
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	user := resolveUser(c, h.facade, chatID, "")
	if user == nil {
		return
	}

	order, err := h.facade.Order(c.Request.Context(), user.ID, orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToOrderResponse(*order))
}

// List handles GET /api/orders.
func (h *OrderHandler) List(c *gin.Context) {
	chatID, ok := chatIDQuery(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	user := resolveUser(c, h.facade, chatID, "")
	if user == nil {
		return
	}

	orders, err := h.facade.Orders(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(orders) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	response := make([]dto.OrderResponse, 0, len(orders))
	for _, order := range orders {
		response = append(response, dto.ToOrderResponse(order))
	}
	c.JSON(http.StatusOK, response)
}

// CheckPayment handles POST /api/orders/:id/payment. It polls the
// gateway on demand so the bridge can settle an invoice whose webhook
// never arrived.
func (h *OrderHandler) CheckPayment(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	var req dto.CheckPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	user := resolveUser(c, h.facade, req.ChatID, "")
	if user == nil {
		return
	}

	order, err := h.facade.CheckPayment(c.Request.Context(), user.ID, orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToOrderResponse(*order))
}

// Cancel handles POST /api/orders/:id/cancel. Only the owning user can
// cancel, and only while the order is unpaid; paid orders go through
// the admin endpoint with a refund reference.
func (h *OrderHandler) Cancel(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	user := resolveUser(c, h.facade, req.ChatID, "")
	if user == nil {
		return
	}

	if err := h.facade.CancelOrder(c.Request.Context(), user.ID, orderID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// AdminCancel handles POST /api/admin/orders/:id/cancel.
func (h *OrderHandler) AdminCancel(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	var req dto.AdminCancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.Status(http.StatusBadRequest)
		return
	}

	if err := h.facade.AdminCancelOrder(c.Request.Context(), orderID, req.RefundRef); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
