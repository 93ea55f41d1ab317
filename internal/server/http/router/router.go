package router

import (
	"log/slog"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/esimlab/esimbroker/internal/adapter/payment"
	"github.com/esimlab/esimbroker/internal/server/http/handlers"
	"github.com/esimlab/esimbroker/internal/server/http/middleware"
)

// Setup configures the gin router with handlers and middleware.
// Webhook endpoints authenticate their own payloads and stay outside
// the token gate; everything under /api requires the service token.
func Setup(facade handlers.BrokerFacade, verifier payment.Verifier, serviceToken string, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(logger))
	engine.Use(middleware.DecompressRequest())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	catalogHandler := handlers.NewCatalogHandler(facade)
	orderHandler := handlers.NewOrderHandler(facade)
	esimHandler := handlers.NewESimHandler(facade)
	webhookHandler := handlers.NewWebhookHandler(facade, verifier, logger)

	webhook := engine.Group("/webhook")
	webhook.POST("/payment", webhookHandler.Payment)
	webhook.POST("/provider", webhookHandler.Provider)

	api := engine.Group("/api")
	api.Use(middleware.TokenRequired(serviceToken))

	api.GET("/catalog/countries", catalogHandler.Countries)
	api.GET("/catalog/countries/:code/packages", catalogHandler.Packages)

	api.POST("/orders", orderHandler.Create)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)
	api.POST("/orders/:id/payment", orderHandler.CheckPayment)
	api.POST("/topups", orderHandler.CreateTopup)

	api.GET("/esims", esimHandler.List)
	api.GET("/esims/:iccid", esimHandler.Get)
	api.POST("/esims/:iccid/suspend", esimHandler.Suspend)
	api.POST("/esims/:iccid/resume", esimHandler.Resume)
	api.POST("/esims/:iccid/sms", esimHandler.SendSMS)

	api.POST("/admin/sync", catalogHandler.Sync)
	api.POST("/admin/orders/:id/cancel", orderHandler.AdminCancel)

	return engine
}
