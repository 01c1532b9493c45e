// Package env composes the environment handed to agent processes.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

type Var map[string]string

type Env struct {
	Var   Var // global variables (K->V)
	base  Var // cached OS environment
	useOS bool
}

// New returns an Env. With useOS the console's own environment is the base.
func New(useOS bool) *Env {
	return &Env{Var: make(Var), useOS: useOS}
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetPairs applies "K=V" entries. Entries without '=' or with an empty key
// are rejected.
func (e *Env) SetPairs(pairs []string) error {
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("invalid env entry %q", kv)
		}
		e.Set(strings.TrimSpace(k), v)
	}
	return nil
}

// LoadFiles reads dotenv files in order; later files win.
func (e *Env) LoadFiles(paths ...string) error {
	for _, p := range paths {
		m, err := godotenv.Read(p)
		if err != nil {
			return fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range m {
			e.Set(k, v)
		}
	}
	return nil
}

func (e *Env) fromOS() Var {
	if e.base != nil {
		return e.base
	}
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			base[k] = v
		}
	}
	e.base = base
	return base
}

// Merge composes the final environment: OS base (when enabled), then global
// variables with $VAR expansion, then perAgent entries verbatim. perAgent
// values are never expanded, so secrets containing '$' pass through intact.
// The result is sorted by key.
func (e *Env) Merge(perAgent []string) []string {
	m := make(Var)
	if e.useOS {
		for k, v := range e.fromOS() {
			m[k] = v
		}
	}
	globals := make(Var, len(e.Var))
	for k, v := range e.Var {
		if k != "" {
			globals[k] = v
		}
	}
	for k, v := range globals {
		m[k] = expand(v, m, globals)
	}
	for _, kv := range perAgent {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// expand replaces $VAR and ${VAR} using globals first, then the base.
func expand(s string, base, globals Var) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := globals[k]; ok && !strings.Contains(v, "${"+k+"}") {
			return v
		}
		return base[k]
	})
}
