// Package codec centralizes the payload encoding of holder snapshots and
// checkpoint manifests.
//
// Codec selection is a compatibility boundary: persisted bytes always record
// the codec name so they can be decoded by name on restore.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateName is returned by Register for a name that is already taken.
var ErrDuplicateName = errors.New("codec: duplicate name")

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Codec{}
)

// Register makes c resolvable by ByName, so snapshots written with a custom
// codec can be restored. Built-in names cannot be replaced.
func Register(c Codec) error {
	if c == nil || c.Name() == "" {
		return errors.New("codec: register needs a named codec")
	}
	name := c.Name()
	if _, ok := builtin(name); ok {
		return fmt.Errorf("%w: %s is built in", ErrDuplicateName, name)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	registry[name] = c
	return nil
}

// ByName returns a built-in or registered codec by its stable name.
//
// Self-describing formats (holder snapshots, checkpoint manifests) store the
// codec name in their header and resolve it here on restore.
func ByName(name string) (Codec, bool) {
	if c, ok := builtin(name); ok {
		return c, true
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	return c, ok
}

// Names returns the names of all resolvable codecs in sorted order.
func Names() []string {
	registryMu.RLock()
	names := []string{"go-json", "json"}
	for name := range registry {
		names = append(names, name)
	}
	registryMu.RUnlock()

	sort.Strings(names)
	return names
}

func builtin(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for tests and static fixtures.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
