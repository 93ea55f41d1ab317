package payment

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/esimlab/esimbroker/internal/config"
)

// Module exposes the payment gateway client and webhook verifier.
var Module = fx.Options(
	fx.Provide(newGateway),
	fx.Provide(newVerifier),
)

type gatewayParams struct {
	fx.In

	Config *config.Config
	Logger *slog.Logger
}

func newGateway(p gatewayParams) (Gateway, error) {
	return NewHTTPGateway(p.Config.PaymentAPIURL, p.Config.PaymentAPIToken, p.Logger)
}

func newVerifier(cfg *config.Config) Verifier {
	return NewHMACVerifier(cfg.PaymentAPIToken)
}
