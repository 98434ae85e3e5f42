package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// handlerFunc decodes a payload and runs the typed handler. It returns the
// decoded job so completion hooks can inspect it.
type handlerFunc func(ctx context.Context, payload []byte) (Job, error)

// Registry maps job names to handlers. It is built once at startup.
type Registry struct {
	handlers   map[Name]handlerFunc
	duplicates []Name
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Name]handlerFunc)}
}

// Handle registers fn as the handler for T's job name. Registering the same
// name twice is reported by Verify.
func Handle[T Job](r *Registry, fn func(ctx context.Context, job T) error) {
	var zero T
	name := zero.Name()
	if _, exists := r.handlers[name]; exists {
		r.duplicates = append(r.duplicates, name)
		return
	}
	r.handlers[name] = func(ctx context.Context, payload []byte) (Job, error) {
		var job T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &job); err != nil {
				return nil, Permanent(fmt.Errorf("decode %s payload: %w", name, err))
			}
		}
		return job, fn(ctx, job)
	}
}

// Verify checks that every declared job name has exactly one handler.
func (r *Registry) Verify() error {
	var errs []error
	for _, d := range r.duplicates {
		errs = append(errs, fmt.Errorf("job %s has more than one handler", d))
	}

	names := AllNames()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, n := range names {
		if _, ok := r.handlers[n]; !ok {
			errs = append(errs, fmt.Errorf("job %s has no handler", n))
		}
	}
	for n := range r.handlers {
		if _, ok := QueueFor(n); !ok {
			errs = append(errs, fmt.Errorf("handler registered for undeclared job %s", n))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) lookup(name Name) (handlerFunc, bool) {
	h, ok := r.handlers[name]
	return h, ok
}
