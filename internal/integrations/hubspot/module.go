package hubspot

import (
	"github.com/hublink/hublink/internal/config"
	"go.uber.org/fx"
)

// Module provides the HubSpot provider
var Module = fx.Module("hubspot",
	fx.Provide(
		func(cfg *config.Config) *Provider {
			return NewProvider(&cfg.HubSpot)
		},
	),
)
