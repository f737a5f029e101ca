package monitoring

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// MetricsMiddleware provides middleware for collecting metrics
type MetricsMiddleware struct {
	metrics *Metrics
}

// NewMetricsMiddleware creates a new metrics middleware
func NewMetricsMiddleware(metrics *Metrics) *MetricsMiddleware {
	return &MetricsMiddleware{
		metrics: metrics,
	}
}

// HTTPMiddleware records request count and latency per route pattern
func (mm *MetricsMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mm.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()

		mm.metrics.RequestsInFlight.Inc()
		defer mm.metrics.RequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		mm.metrics.RecordRequest(r.Method, routePattern(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// GRPCMetricsInterceptor records admin RPC count and latency
func (mm *MetricsMiddleware) GRPCMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if mm.metrics == nil {
			return handler(ctx, req)
		}
		start := time.Now()

		mm.metrics.RequestsInFlight.Inc()
		defer mm.metrics.RequestsInFlight.Dec()

		resp, err := handler(ctx, req)

		mm.metrics.RecordRequest("grpc", info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// WebSocketMiddleware tracks live feed connections
func (mm *MetricsMiddleware) WebSocketMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mm.metrics != nil {
			mm.metrics.WebSocketConnections.Inc()
			defer mm.metrics.WebSocketConnections.Dec()
		}
		next.ServeHTTP(w, r)
	})
}

// routePattern keeps label cardinality bounded
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
