package graceful

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// Context creates a context that is canceled when SIGINT or SIGTERM is
// received. Coordinated invocations already in flight still finalize their
// transactions; the signal only stops new work from starting.
func Context(ctx context.Context, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("received termination signal, starting graceful shutdown")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
