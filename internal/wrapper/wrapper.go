package wrapper

import (
	"errors"
	"sync"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
)

// Wrapper keeps the typed view of the last fetched snapshot, indexed by
// alias and by owner/name.
type Wrapper struct {
	mu      sync.RWMutex
	byAlias map[string]*ServiceData
	byName  map[string]*ServiceData
}

// New returns an empty wrapper.
func New() *Wrapper {
	return &Wrapper{
		byAlias: map[string]*ServiceData{},
		byName:  map[string]*ServiceData{},
	}
}

// Reload rebuilds the index from payloads. Payloads that cannot be converted
// are left out and reported in the returned error; the rest are still indexed.
func (w *Wrapper) Reload(payloads []domain.ServicePayload) error {
	byAlias := make(map[string]*ServiceData, len(payloads))
	byName := make(map[string]*ServiceData, len(payloads))

	var errs []error
	for _, p := range payloads {
		data, err := FromPayload(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if data.Alias != "" {
			byAlias[data.Alias] = data
		}
		byName[domain.QualifiedName(data.Owner, data.Name)] = data
	}

	w.mu.Lock()
	w.byAlias = byAlias
	w.byName = byName
	w.mu.Unlock()

	return errors.Join(errs...)
}

// Get returns the service addressed by id.
func (w *Wrapper) Get(id domain.Identity) (*ServiceData, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if id.ByAlias() {
		data, ok := w.byAlias[id.Alias]
		return data, ok
	}
	data, ok := w.byName[domain.QualifiedName(id.Owner, id.Name)]
	return data, ok
}

// Len returns the number of indexed services.
func (w *Wrapper) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.byName)
}
