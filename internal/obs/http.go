package obs

import (
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// accessRecorder captures what the courseware handlers sent back.
type accessRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *accessRecorder) WriteHeader(code int) {
	if r.status != 0 {
		return
	}
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *accessRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *accessRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *accessRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// RequestContextMiddleware gives every request a request ID, taken from
// X-Request-Id, then from a W3C traceparent, then freshly generated. The ID
// is echoed in the response and attached to the request's log lines.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent := strings.TrimSpace(r.Header.Get("traceparent"))
		traceID := traceIDFrom(traceparent)

		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		switch {
		case requestID != "":
		case traceID != "":
			requestID = traceID
		default:
			requestID = newRequestID()
		}
		w.Header().Set("X-Request-Id", requestID)

		ctx := WithCorrelation(r.Context(), Correlation{
			RequestID:   requestID,
			TraceID:     traceID,
			Traceparent: traceparent,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLogMiddleware logs one http_access line per request at debug level.
// The query string is left out so that program IDs and form values never
// reach the log.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &accessRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		From(r.Context()).With("pkg", pkg).Debug("http_access",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode(),
			"dur_ms", float64(time.Since(start).Microseconds())/1000.0,
			"req_bytes", max(r.ContentLength, 0),
			"resp_bytes", rec.bytes,
		)
	})
}

// traceIDFrom returns the trace ID of a version-00 style traceparent, or ""
// when the header is absent or malformed.
func traceIDFrom(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ""
	}
	id := strings.ToLower(parts[1])
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != 16 {
		return ""
	}
	for _, b := range raw {
		if b != 0 {
			return id
		}
	}
	return ""
}
