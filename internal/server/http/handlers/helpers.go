package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	domainErrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
)

// resolveUser maps a chat ID onto an account, replying 500 and
// returning nil when resolution fails.
func resolveUser(c *gin.Context, facade UserFacade, chatID int64, locale string) *model.User {
	user, err := facade.ResolveUser(c.Request.Context(), chatID, locale)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return nil
	}
	return user
}

// chatIDQuery reads the acting chat user from the query string.
func chatIDQuery(c *gin.Context) (int64, bool) {
	raw := c.Query("chat_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		c.Status(http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// respondError maps domain failures onto HTTP statuses. Provider and
// state details never leak to the chat bridge.
func respondError(c *gin.Context, err error) {
	var stateConflict domainErrors.StateConflictError
	var providerErr domainErrors.ProviderError
	var paymentErr domainErrors.PaymentError
	switch {
	case errors.Is(err, domainErrors.ErrNotFound):
		c.Status(http.StatusNotFound)
	case errors.Is(err, domainErrors.ErrAlreadyExists):
		c.Status(http.StatusConflict)
	case errors.As(err, &stateConflict):
		c.JSON(http.StatusConflict, gin.H{"status": stateConflict.Current})
	case errors.As(err, &providerErr) && providerErr.Kind == domainErrors.ProviderInsufficientBalance:
		// Temporarily out of stock from the user's point of view.
		c.Status(http.StatusServiceUnavailable)
	case errors.As(err, &paymentErr):
		c.JSON(http.StatusConflict, gin.H{"error": paymentErr.Reason})
	default:
		c.Status(http.StatusInternalServerError)
	}
}
