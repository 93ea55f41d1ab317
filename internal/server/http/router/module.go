package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/esimlab/esimbroker/internal/adapter/payment"
	"github.com/esimlab/esimbroker/internal/config"
	"github.com/esimlab/esimbroker/internal/server/http/handlers"
)

// Module registers HTTP router construction for fx runtime.
var Module = fx.Provide(newRouter)

func newRouter(facade handlers.BrokerFacade, verifier payment.Verifier, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	return Setup(facade, verifier, cfg.AdminToken, logger)
}
