// Package readiness implements the readiness check of the messenger daemon. A component reports ready once and
// stays ready; the check is meant for orchestration, not for monitoring.
package readiness

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

type Component string

const (
	ComponentDatabase Component = "database"
	ComponentEngine   Component = "engine"
	ComponentAPI      Component = "api"
)

// Registry tracks the components that have to be ready before the daemon is.
type Registry struct {
	mu         sync.Mutex
	components map[Component]bool
}

func NewRegistry(components ...Component) *Registry {
	r := &Registry{components: make(map[Component]bool, len(components))}
	for _, c := range components {
		r.components[c] = false
	}
	return r
}

// SetReady marks c as ready. Components the registry was not created with are ignored.
func (r *Registry) SetReady(c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[c]; ok {
		r.components[c] = true
	}
}

// Ready reports whether every registered component is ready.
func (r *Registry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ready := range r.components {
		if !ready {
			return false
		}
	}
	return true
}

// Handler answers 200 OK when every component is ready and 412 Precondition Failed otherwise. The body lists
// the components for operators and is not meant to be parsed.
func (r *Registry) Handler(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	names := make([]string, 0, len(r.components))
	for c := range r.components {
		names = append(names, string(c))
	}
	sort.Strings(names)

	ready := true
	resp := new(bytes.Buffer)
	resp.WriteString("[not suitable for monitoring - do not parse]\n\n")
	for _, name := range names {
		v := r.components[Component(name)]
		fmt.Fprintf(resp, "%s\t%v\n", name, v)
		ready = ready && v
	}
	r.mu.Unlock()

	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusPreconditionFailed)
	}
	_, _ = resp.WriteTo(w)
}
