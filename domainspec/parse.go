package domainspec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kbukum/beachhead/validation"
)

// Policy decides what a rejected token does to the rest of its declaration.
type Policy int

const (
	// PerToken drops rejected tokens and keeps the rest.
	PerToken Policy = iota
	// Atomic rejects the whole declaration when any token is rejected.
	Atomic
)

func (p Policy) String() string {
	if p == Atomic {
		return "atomic"
	}
	return "per_token"
}

// ParsePolicy maps the configuration values "per_token" and "atomic".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per_token", "per-token":
		return PerToken, nil
	case "atomic":
		return Atomic, nil
	default:
		return PerToken, fmt.Errorf("unknown parse policy %q", s)
	}
}

type options struct {
	policy Policy
}

// Option configures Parse.
type Option func(*options)

// WithPolicy selects the error policy. The default is PerToken.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// Parse parses a declaration into specs, in token order.
//
// Under PerToken the valid specs are returned together with a *ParseError
// listing every rejected token. Under Atomic any rejected token yields nil
// specs and the *ParseError. An empty or blank declaration yields no specs
// and no error.
func Parse(raw string, opts ...Option) ([]Spec, error) {
	o := options{policy: PerToken}
	for _, opt := range opts {
		opt(&o)
	}

	tokens := strings.Fields(raw)
	specs := make([]Spec, 0, len(tokens))
	var perr *ParseError

	for i, tok := range tokens {
		spec, terr := parseToken(tok)
		if terr != nil {
			terr.Token = tok
			terr.Index = i
			if perr == nil {
				perr = &ParseError{}
			}
			perr.Tokens = append(perr.Tokens, terr)
			continue
		}
		specs = append(specs, spec)
	}

	if perr == nil {
		return specs, nil
	}
	if o.policy == Atomic {
		return nil, perr
	}
	return specs, perr
}

// MustParse is like Parse but panics on any rejected token. For tests and
// static configuration.
func MustParse(raw string) []Spec {
	specs, err := Parse(raw, WithPolicy(Atomic))
	if err != nil {
		panic(err)
	}
	return specs
}

func parseToken(tok string) (Spec, *TokenError) {
	parts := strings.Split(tok, ":")

	domain := strings.ToLower(strings.TrimSuffix(parts[0], "."))
	if domain == "" {
		return Spec{}, malformed("empty domain")
	}
	if !validation.Hostname(domain) {
		return Spec{}, malformed("invalid domain %q", domain)
	}

	spec := Spec{Domain: domain}
	if len(parts) == 1 {
		for _, s := range Schemes {
			spec.Mappings = append(spec.Mappings, PortMapping{Scheme: s, Port: s.DefaultPort()})
		}
		return spec, nil
	}

	for _, part := range parts[1:] {
		m, terr := parseMapping(part)
		if terr != nil {
			return Spec{}, terr
		}
		if _, dup := spec.Port(m.Scheme); dup {
			return Spec{}, &TokenError{Err: ErrDuplicateScheme, Reason: fmt.Sprintf("scheme %s given more than once", m.Scheme)}
		}
		spec.Mappings = append(spec.Mappings, m)
	}
	return spec, nil
}

func parseMapping(part string) (PortMapping, *TokenError) {
	key, value, hasPort := strings.Cut(part, "=")
	if strings.TrimSpace(key) == "" {
		return PortMapping{}, malformed("empty mapping")
	}
	scheme, ok := ParseScheme(key)
	if !ok {
		return PortMapping{}, malformed("unknown scheme %q", key)
	}
	if !hasPort {
		return PortMapping{Scheme: scheme, Port: scheme.DefaultPort()}, nil
	}

	port, err := strconv.ParseUint(strings.TrimSpace(value), 10, 16)
	if err != nil || port == 0 {
		return PortMapping{}, malformed("invalid %s port %q", scheme, value)
	}
	return PortMapping{Scheme: scheme, Port: uint16(port)}, nil
}
