// Package state manages partitioned, snapshottable component state.
//
// A Holder maps partition keys to lazily created states. The partition of a
// call is carried in its context:
//
//	ctx = state.WithPartitionKey(ctx, "tenant-7")
//	err := state.Scope(ctx, holder, func(s *TableState) error { ... })
//
// Every Get must be paired with exactly one Return on every exit path;
// Scope does this with defer.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultPartition is the partition key used when the context carries none.
const DefaultPartition = ""

type partitionKeyCtx struct{}

// WithPartitionKey returns a context that selects partition key.
func WithPartitionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, partitionKeyCtx{}, key)
}

// PartitionKey returns the partition selected by ctx, or DefaultPartition.
func PartitionKey(ctx context.Context) string {
	if ctx == nil {
		return DefaultPartition
	}
	if key, ok := ctx.Value(partitionKeyCtx{}).(string); ok {
		return key
	}
	return DefaultPartition
}

// State is the per-partition state of one component.
type State interface {
	// CanDestroy reports whether the state may be evicted once no caller uses it.
	CanDestroy() bool

	// Snapshot returns the serialized sub-components of the state.
	Snapshot() (map[string][]byte, error)

	// Prepare decodes a Snapshot result without touching the current
	// content. The returned commit installs it and must not fail.
	Prepare(map[string][]byte) (commit func(), err error)
}

// Snapshot is the serialized form of a Holder: partition key → component name → opaque blob.
type Snapshot map[string]map[string][]byte

type entry[S State] struct {
	state S
	users int
}

// Holder owns the partition → state mapping of one component.
// It is safe for concurrent use. It does not synchronize access to the states
// themselves; that is the owning component's job.
type Holder[S State] struct {
	mu      sync.Mutex
	factory func() S
	entries map[string]*entry[S]
}

// NewHolder creates a holder that builds states with factory on first access.
func NewHolder[S State](factory func() S) *Holder[S] {
	return &Holder[S]{
		factory: factory,
		entries: make(map[string]*entry[S]),
	}
}

// Get returns the state of the partition selected by ctx, creating it if needed.
func (h *Holder[S]) Get(ctx context.Context) S {
	key := PartitionKey(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[key]
	if !ok {
		e = &entry[S]{state: h.factory()}
		h.entries[key] = e
	}
	e.users++
	return e.state
}

// Return releases a state obtained from Get with the same ctx. A state that
// can be destroyed is evicted when its last user returns it.
func (h *Holder[S]) Return(ctx context.Context, _ S) {
	key := PartitionKey(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[key]
	if !ok {
		return
	}
	if e.users > 0 {
		e.users--
	}
	if e.users == 0 && e.state.CanDestroy() {
		delete(h.entries, key)
	}
}

// Partitions returns the live partition keys in sorted order.
func (h *Holder[S]) Partitions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]string, 0, len(h.entries))
	for k := range h.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot serializes every live partition.
func (h *Holder[S]) Snapshot() (Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := make(Snapshot, len(h.entries))
	for key, e := range h.entries {
		components, err := e.state.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshot partition %q: %w", key, err)
		}
		snap[key] = components
	}
	return snap, nil
}

// Restore restores every partition in snap, creating missing ones. Partitions
// not present in snap are left as they are. Either every partition is
// restored or, on error, none is.
func (h *Holder[S]) Restore(snap Snapshot) error {
	commit, err := h.Prepare(snap)
	if err != nil {
		return err
	}
	commit()
	return nil
}

// Prepare decodes every partition in snap into staged states. Nothing is
// visible until the returned commit runs; on error nothing was changed.
func (h *Holder[S]) Prepare(snap Snapshot) (func(), error) {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type staged struct {
		key    string
		fresh  bool
		state  S
		commit func()
	}

	h.mu.Lock()
	current := make(map[string]S, len(keys))
	for _, key := range keys {
		if e, ok := h.entries[key]; ok {
			current[key] = e.state
		}
	}
	h.mu.Unlock()

	plan := make([]staged, 0, len(keys))
	for _, key := range keys {
		st := staged{key: key}
		s, ok := current[key]
		if !ok {
			s = h.factory()
			st.fresh = true
		}
		commit, err := s.Prepare(snap[key])
		if err != nil {
			return nil, fmt.Errorf("restore partition %q: %w", key, err)
		}
		st.state, st.commit = s, commit
		plan = append(plan, st)
	}

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		for _, st := range plan {
			st.commit()
			if !st.fresh {
				continue
			}
			if e, ok := h.entries[st.key]; ok {
				e.state = st.state
				continue
			}
			h.entries[st.key] = &entry[S]{state: st.state}
		}
	}, nil
}

// Scope runs fn with the state of the partition selected by ctx and returns
// it afterwards, also when fn panics.
func Scope[S State](ctx context.Context, h *Holder[S], fn func(S) error) error {
	s := h.Get(ctx)
	defer h.Return(ctx, s)
	return fn(s)
}
