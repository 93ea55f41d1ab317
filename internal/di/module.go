package di

import (
	"go.uber.org/fx"

	"github.com/esimlab/esimbroker/internal/adapter/payment"
	"github.com/esimlab/esimbroker/internal/adapter/provider"
	"github.com/esimlab/esimbroker/internal/app"
	"github.com/esimlab/esimbroker/internal/config"
	"github.com/esimlab/esimbroker/internal/logger"
	"github.com/esimlab/esimbroker/internal/notify"
	"github.com/esimlab/esimbroker/internal/server/http/handlers"
	"github.com/esimlab/esimbroker/internal/server/http/router"
	"github.com/esimlab/esimbroker/internal/storage/postgres"
	"github.com/esimlab/esimbroker/internal/usecase"
)

func Module(opts ...fx.Option) fx.Option {
	modules := []fx.Option{
		config.Module,
		logger.Module,
		postgres.Module,
		provider.Module,
		payment.Module,
		notify.Module,
		usecase.Module,
		fx.Provide(func(f *app.BrokerFacade) handlers.BrokerFacade { return f }),
		router.Module,
		app.Module,
	}
	modules = append(modules, opts...)
	return fx.Options(modules...)
}
