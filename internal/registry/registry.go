package registry

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownModel = errors.New("unknown model alias")

// Registry resolves model aliases to backend identifiers. It is built once
// from configuration and never mutated.
type Registry struct {
	models       map[string]string
	defaultModel string
}

func New(models map[string]string, defaultModel string) *Registry {
	m := make(map[string]string, len(models))
	for alias, backend := range models {
		m[alias] = backend
	}
	return &Registry{models: m, defaultModel: defaultModel}
}

// Resolve returns the backend id for alias. An empty alias resolves
// through the default model. When no aliases are configured at all, the
// alias is passed through unchanged so a bare worker CLI still works.
func (r *Registry) Resolve(alias string) (string, error) {
	if alias == "" {
		alias = r.defaultModel
	}
	if len(r.models) == 0 {
		return alias, nil
	}
	if alias == "" {
		return "", fmt.Errorf("%w: no model given and no default_model configured", ErrUnknownModel)
	}
	backend, ok := r.models[alias]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, alias)
	}
	return backend, nil
}

func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

// Aliases returns the configured aliases in sorted order.
func (r *Registry) Aliases() []string {
	aliases := make([]string, 0, len(r.models))
	for alias := range r.models {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}
