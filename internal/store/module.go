package store

import (
	"context"

	"github.com/hublink/hublink/internal/config"
	"github.com/hublink/hublink/internal/logger"
	"go.uber.org/fx"
)

// Module provides the ephemeral store with an explicit lifecycle: the
// connection is validated at startup and the store is torn down at
// shutdown. Components receive the Store handle through fx rather than
// reaching for a process-wide instance.
var Module = fx.Module("store",
	fx.Provide(
		fx.Annotate(
			newStore,
			fx.As(new(Store)),
		),
	),
)

func newStore(lc fx.Lifecycle, cfg *config.Config) *MemoryStore {
	s := NewMemoryStore(cfg.Store.SweepInterval)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Ping(ctx); err != nil {
				return err
			}
			logger.Info("ephemeral store ready")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Close()
		},
	})

	return s
}
