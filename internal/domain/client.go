package domain

import "strings"

// ClientCategory is the classification of an inbound request
type ClientCategory int

const (
	CategoryUnknown ClientCategory = iota
	CategoryBot
	CategoryBrowser
	CategoryTargetRuntime
)

// String returns the wire name of the category
func (c ClientCategory) String() string {
	switch c {
	case CategoryBot:
		return "bot"
	case CategoryBrowser:
		return "browser"
	case CategoryTargetRuntime:
		return "executor"
	default:
		return "unknown"
	}
}

// Identity is what a request presents for gating decisions
type Identity struct {
	DeviceID       string `json:"hwid,omitempty"`
	IdentityID     string `json:"userId,omitempty"`
	PlaceContext   string `json:"placeId,omitempty"`
	NetworkAddress string `json:"ip,omitempty"`
}

// RequestView is the normalized request handed over by the transport layer.
// Header names are lower-cased.
type RequestView struct {
	Headers       map[string]string
	UserAgent     string
	BodyFields    map[string]interface{}
	SourceAddress string
}

// Header returns a header value by case-insensitive name
func (r RequestView) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers[strings.ToLower(name)]
}

// HasHeader reports whether a non-empty header is present
func (r RequestView) HasHeader(name string) bool {
	return r.Header(name) != ""
}
