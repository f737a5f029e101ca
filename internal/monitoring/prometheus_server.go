package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusServer serves metrics and a health probe on its own port
type PrometheusServer struct {
	server      *http.Server
	port        int
	metricsPath string
	healthPath  string
	gatherer    prometheus.Gatherer
	metrics     *Metrics
}

// NewPrometheusServer creates a new Prometheus server
func NewPrometheusServer(port int, metricsPath, healthPath string, gatherer prometheus.Gatherer, metrics *Metrics) *PrometheusServer {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if healthPath == "" {
		healthPath = "/health"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &PrometheusServer{
		port:        port,
		metricsPath: metricsPath,
		healthPath:  healthPath,
		gatherer:    gatherer,
		metrics:     metrics,
	}
}

// Handler returns the metrics mux
func (ps *PrometheusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(ps.metricsPath, promhttp.HandlerFor(ps.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc(ps.healthPath, ps.healthHandler)
	return mux
}

// Start starts the Prometheus server
func (ps *PrometheusServer) Start(ctx context.Context) error {
	ps.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", ps.port),
		Handler:           ps.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go ps.collectSystemMetrics(ctx)

	go func() {
		if err := ps.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Component("monitoring").WithError(err).Error("Prometheus server error")
		}
	}()

	logger.Component("monitoring").Infof("Prometheus server started on port %d", ps.port)
	return nil
}

// Stop stops the Prometheus server
func (ps *PrometheusServer) Stop(ctx context.Context) error {
	if ps.server != nil {
		return ps.server.Shutdown(ctx)
	}
	return nil
}

func (ps *PrometheusServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
		"port":   ps.port,
	})
}

// collectSystemMetrics collects runtime metrics periodically
func (ps *PrometheusServer) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ps.updateSystemMetrics()
		}
	}
}

func (ps *PrometheusServer) updateSystemMetrics() {
	if ps.metrics == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	ps.metrics.MemoryUsage.Set(float64(m.Alloc))
	ps.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))
}
