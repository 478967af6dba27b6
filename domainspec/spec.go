package domainspec

import (
	"regexp"
	"strconv"
	"strings"
)

// Scheme is a URL scheme a domain can be exposed under.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Schemes lists the supported schemes in implicit expansion order.
var Schemes = []Scheme{SchemeHTTP, SchemeHTTPS}

// ParseScheme matches s case-insensitively against the supported schemes.
func ParseScheme(s string) (Scheme, bool) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case SchemeHTTP:
		return SchemeHTTP, true
	case SchemeHTTPS:
		return SchemeHTTPS, true
	default:
		return "", false
	}
}

// DefaultPort returns 80 for http and 443 for https.
func (s Scheme) DefaultPort() uint16 {
	if s == SchemeHTTPS {
		return 443
	}
	return 80
}

// PortMapping binds a scheme to the container port serving it.
type PortMapping struct {
	Scheme Scheme `json:"scheme"`
	Port   uint16 `json:"port"`
}

// Spec is one parsed token: a domain and at least one mapping, with each
// scheme appearing at most once.
type Spec struct {
	Domain   string        `json:"domain"`
	Mappings []PortMapping `json:"mappings"`
}

var idPattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

// ID derives an identifier safe for template engines and store keys by
// replacing every character outside [A-Za-z0-9_] with an underscore.
func (s Spec) ID() string {
	return idPattern.ReplaceAllString(s.Domain, "_")
}

// Port returns the port mapped for scheme.
func (s Spec) Port(scheme Scheme) (uint16, bool) {
	for _, m := range s.Mappings {
		if m.Scheme == scheme {
			return m.Port, true
		}
	}
	return 0, false
}

// String renders the spec in its fully explicit token form, which parses
// back to an equal Spec.
func (s Spec) String() string {
	var b strings.Builder
	b.WriteString(s.Domain)
	for _, m := range s.Mappings {
		b.WriteByte(':')
		b.WriteString(string(m.Scheme))
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(int(m.Port)))
	}
	return b.String()
}
