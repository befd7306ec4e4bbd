package registry

import (
	"errors"

	"SynthLedger/internal/oracle"
)

var (
	// ErrConfiguration is returned when the token and adapter lists do not
	// pair up one-to-one.
	ErrConfiguration = errors.New("registry: token and adapter lists must have the same length")
	// ErrUnsupported is returned for tokens the registry was not built with.
	ErrUnsupported = errors.New("registry: unsupported collateral token")
)

// Registry is the immutable set of approved collateral tokens, each paired
// with its oracle adapter. Built once at startup; no mutation afterward.
type Registry struct {
	tokens   []string
	adapters map[string]*oracle.Adapter
}

// New pairs tokens[i] with adapters[i]. The length check is the only
// construction-time validation.
func New(tokens []string, adapters []*oracle.Adapter) (*Registry, error) {
	if len(tokens) != len(adapters) {
		return nil, ErrConfiguration
	}

	r := &Registry{
		tokens:   make([]string, len(tokens)),
		adapters: make(map[string]*oracle.Adapter, len(tokens)),
	}
	copy(r.tokens, tokens)
	for i, t := range tokens {
		r.adapters[t] = adapters[i]
	}
	return r, nil
}

func (r *Registry) IsSupported(token string) bool {
	_, ok := r.adapters[token]
	return ok
}

func (r *Registry) AdapterFor(token string) (*oracle.Adapter, error) {
	a, ok := r.adapters[token]
	if !ok {
		return nil, ErrUnsupported
	}
	return a, nil
}

// Tokens returns the approved tokens in registration order.
func (r *Registry) Tokens() []string {
	out := make([]string, len(r.tokens))
	copy(out, r.tokens)
	return out
}
