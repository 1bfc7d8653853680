// Package metrics exposes coordinator activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"batchtx/pkg/txcoord"
)

// Collector implements txcoord.Observer.
type Collector struct {
	invocations     *prometheus.CounterVec
	batches         *prometheus.CounterVec
	barrierTimeouts prometheus.Counter
	batchDuration   *prometheus.HistogramVec
}

// NewCollector registers the batchtx metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batchtx_invocations_total",
			Help: "Coordinated invocations by mode and result.",
		}, []string{"mode", "success"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batchtx_batches_total",
			Help: "Batches by terminal state.",
		}, []string{"mode", "state"}),
		barrierTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "batchtx_barrier_timeouts_total",
			Help: "Barrier waits that exceeded the configured timeout.",
		}),
		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchtx_batch_duration_seconds",
			Help:    "Time from worker start to terminal state.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"mode"}),
	}
}

func (c *Collector) BatchFinished(mode txcoord.Mode, state txcoord.State, elapsed time.Duration) {
	c.batches.WithLabelValues(mode.String(), state.String()).Inc()
	c.batchDuration.WithLabelValues(mode.String()).Observe(elapsed.Seconds())
}

func (c *Collector) BarrierTimedOut() {
	c.barrierTimeouts.Inc()
}

func (c *Collector) InvocationFinished(mode txcoord.Mode, success bool, _ time.Duration) {
	c.invocations.WithLabelValues(mode.String(), strconv.FormatBool(success)).Inc()
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
