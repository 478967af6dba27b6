package domainspec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateScheme is reported when a token names a scheme twice.
	ErrDuplicateScheme = errors.New("duplicate scheme")
	// ErrMalformedToken is reported for an empty or invalid domain, an
	// unknown scheme, an empty mapping or a port outside 1..65535.
	ErrMalformedToken = errors.New("malformed token")
)

// TokenError describes why a single token was rejected.
type TokenError struct {
	// Token is the raw token text.
	Token string
	// Index is the token's position in the declaration.
	Index int
	// Reason is a short human-readable explanation.
	Reason string
	// Err is ErrDuplicateScheme or ErrMalformedToken.
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token %d %q: %v: %s", e.Index, e.Token, e.Err, e.Reason)
}

func (e *TokenError) Unwrap() error { return e.Err }

// ParseError collects every rejected token of one declaration. errors.Is
// matches the sentinels of any contained TokenError.
type ParseError struct {
	Tokens []*TokenError
}

func (e *ParseError) Error() string {
	if len(e.Tokens) == 1 {
		return e.Tokens[0].Error()
	}
	msgs := make([]string, len(e.Tokens))
	for i, t := range e.Tokens {
		msgs[i] = t.Error()
	}
	return fmt.Sprintf("%d invalid tokens: %s", len(e.Tokens), strings.Join(msgs, "; "))
}

func (e *ParseError) Unwrap() []error {
	errs := make([]error, len(e.Tokens))
	for i, t := range e.Tokens {
		errs[i] = t
	}
	return errs
}

func malformed(reason string, args ...any) *TokenError {
	return &TokenError{Err: ErrMalformedToken, Reason: fmt.Sprintf(reason, args...)}
}
