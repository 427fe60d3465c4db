package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"connectrpc.com/connect"
	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/Max423423/OnChainRiddle/internal/util"
)

const (
	RequestIDHeader string = "X-Request-Id"
	requestIDLength int    = 9
	unmatchedRoute  string = "unmatched"
)

type RequestIDContextKey struct{}

func GetRequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey{}).(string)
	return id
}

type IRequestMetrics interface {
	ObserveRequest(method string, route string, status string, seconds float64)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// RequestLogMiddleware tags every request with an id, logs it and records
// its latency. It also serves as a connect interceptor for the RPC surface.
type RequestLogMiddleware struct {
	metrics IRequestMetrics
	clk     clock.Clock
	logger  logrus.FieldLogger
}

func (rlm *RequestLogMiddleware) requestID(header string) string {
	if header != "" {
		return header
	}
	id, err := util.CreateRandStr(requestIDLength)
	if err != nil {
		return "unknown"
	}
	return id
}

func (rlm *RequestLogMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := rlm.clk.Now()
		id := rlm.requestID(r.Header.Get(RequestIDHeader))
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		req := r.WithContext(context.WithValue(r.Context(), RequestIDContextKey{}, id))
		next.ServeHTTP(rec, req)

		// routegroupとServeMuxがマッチしたパターンをreqに書き込む
		route := req.Pattern
		if route == "" {
			route = unmatchedRoute
		}
		elapsed := rlm.clk.Since(start)
		rlm.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), elapsed.Seconds())

		entry := rlm.logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   elapsed.String(),
		})
		if rec.status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	})
}

func (rlm *RequestLogMiddleware) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, request connect.AnyRequest) (connect.AnyResponse, error) {
		start := rlm.clk.Now()
		res, err := next(ctx, request)

		entry := rlm.logger.WithFields(logrus.Fields{
			"request_id": GetRequestIDFromCtx(ctx),
			"procedure":  request.Spec().Procedure,
			"duration":   rlm.clk.Since(start).String(),
		})
		if err != nil {
			entry.WithField("code", connect.CodeOf(err).String()).WithError(err).Warn("rpc failed")
			return res, err
		}
		entry.Debug("rpc served")
		return res, nil
	}
}

func (rlm *RequestLogMiddleware) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	// ストリーミングRPCは提供していないので素通し
	return next
}

func (rlm *RequestLogMiddleware) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func NewRequestLogMiddleware(metrics IRequestMetrics, clk clock.Clock, logger logrus.FieldLogger) *RequestLogMiddleware {
	return &RequestLogMiddleware{
		metrics: metrics,
		clk:     clk,
		logger:  logger.WithField("component", "http"),
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}

var _ connect.Interceptor = (*RequestLogMiddleware)(nil)
