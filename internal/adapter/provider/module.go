package provider

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/esimlab/esimbroker/internal/config"
)

// Module exposes the provider client implementation to the fx graph.
var Module = fx.Provide(newClient)

type clientParams struct {
	fx.In

	Config *config.Config
	Logger *slog.Logger
}

func newClient(p clientParams) (Client, error) {
	return NewHTTPClient(p.Config.ProviderAPIURL, p.Config.ProviderAccessCode, p.Logger)
}
