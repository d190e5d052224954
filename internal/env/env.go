package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to the supervised process.
// The zero value starts from an empty base; use FromOS to inherit the
// control service's own environment.
type Env struct {
	base Var
	vars Var
}

func New() *Env {
	return &Env{vars: make(Var)}
}

// FromOS returns a copy of e whose base is the current process environment.
func (e *Env) FromOS() *Env {
	n := e.clone()
	n.base = parsePairs(os.Environ())
	return n
}

// WithSet returns a copy of e with K=V applied on top of earlier values.
func (e *Env) WithSet(k, v string) *Env {
	n := e.clone()
	if k != "" {
		n.vars[k] = v
	}
	return n
}

// WithPairs applies "K=V" entries in order. Malformed entries are skipped.
func (e *Env) WithPairs(kvs []string) *Env {
	n := e.clone()
	for k, v := range parsePairs(kvs) {
		n.vars[k] = v
	}
	return n
}

// WithFile applies the variables of a .env style file.
func (e *Env) WithFile(path string) (*Env, error) {
	m, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	n := e.clone()
	for k, v := range m {
		n.vars[k] = v
	}
	return n, nil
}

// Merge composes the final environment list applying order:
// base (OS env when FromOS was used), then variables set on e, then perProc
// overrides. ${VAR} references are expanded once against the composed map.
// The result is sorted by key.
func (e *Env) Merge(perProc []string) []string {
	m := make(Var, len(e.base)+len(e.vars)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for k, v := range parsePairs(perProc) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// LoadFile parses a simple .env file with KEY=VALUE lines (no export, no quotes).
// Lines starting with # are ignored.
func LoadFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

func (e *Env) clone() *Env {
	n := &Env{base: e.base, vars: make(Var, len(e.vars))}
	for k, v := range e.vars {
		n.vars[k] = v
	}
	return n
}

func parsePairs(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
