package flow

import (
	"github.com/hublink/hublink/internal/config"
	"github.com/hublink/hublink/internal/store"
	"go.uber.org/fx"
)

// Module provides the flow state manager and credential vault
var Module = fx.Module("flow",
	fx.Provide(
		func(s store.Store, cfg *config.Config) *StateManager {
			return NewStateManager(s, cfg.Flow.StateTTL)
		},
		func(s store.Store, cfg *config.Config) *CredentialVault {
			return NewCredentialVault(s, cfg.Flow.CredentialTTL)
		},
	),
)
