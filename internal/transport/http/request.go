package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/usecase"
)

const maxBodySize = 10 << 20

// flexString accepts a JSON string or number. Runtime clients send ids as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string {
	return string(f)
}

// Int parses the value like a lenient integer parser: "30", "30.0" and 30 all yield 30
func (f flexString) Int() (int64, bool) {
	s := string(f)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && v >= math.MinInt64 && v < math.MaxInt64 {
		return int64(v), true
	}
	return 0, false
}

// decodeBody decodes a JSON body into dst and returns the raw fields as well.
// An empty body decodes to nothing.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) (map[string]interface{}, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	fields := map[string]interface{}{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return fields, nil
}

// clientAddress returns the first X-Forwarded-For entry, else X-Real-IP, else the peer
func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestView normalizes the request for the classifier
func requestView(r *http.Request, body map[string]interface{}) domain.RequestView {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}
	return domain.RequestView{
		Headers:       headers,
		UserAgent:     r.UserAgent(),
		BodyFields:    body,
		SourceAddress: clientAddress(r),
	}
}

// serverURL is the configured public URL or the one the request came in on
func (h *Handler) serverURL(r *http.Request) string {
	if h.cfg.PublicURL != "" {
		return strings.TrimRight(h.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// writeError maps pipeline errors to responses. Rejections never carry the reason.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, msg := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, errorBody(msg))
}

func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRejected):
		return http.StatusForbidden, "Access denied"
	case errors.Is(err, domain.ErrWrongAnswer):
		return http.StatusForbidden, "Wrong solution"
	case errors.Is(err, domain.ErrChallengeExpired), errors.Is(err, domain.ErrAddressMismatch):
		return http.StatusForbidden, "Challenge expired"
	case errors.Is(err, usecase.ErrMissingFields):
		return http.StatusBadRequest, "Missing fields"
	case errors.Is(err, usecase.ErrDeviceIDRequired):
		return http.StatusBadRequest, "HWID required"
	case errors.Is(err, usecase.ErrInvalidFormat):
		return http.StatusBadRequest, "Invalid format"
	case errors.Is(err, domain.ErrStaticWhitelist):
		return http.StatusBadRequest, "Static whitelist entries cannot be removed"
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, domain.ErrPayloadUnavailable):
		return http.StatusInternalServerError, "Script not configured"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
