package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/hupe1980/eventtable/event"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63n returns a non-negative pseudo-random int64 in [0,n).
func (r *RNG) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63n(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Accounts returns n account rows with ids drawn from [0, idSpace).
// Ids may repeat; balances are in [0, 1000).
// Locks only once per call.
func (r *RNG) Accounts(n int, idSpace int64) []*event.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]*event.Row, n)
	for i := range rows {
		id := r.rand.Int63n(idSpace)
		rows[i] = Account(id, fmt.Sprintf("user-%d", id), r.rand.Int63n(1000))
	}
	return rows
}

// AccountsSchema returns the {id Int, name String, balance Int} schema.
func AccountsSchema() *event.Schema {
	return event.MustSchema("accounts",
		event.Attribute{Name: "id", Type: event.TypeInt},
		event.Attribute{Name: "name", Type: event.TypeString},
		event.Attribute{Name: "balance", Type: event.TypeInt},
	)
}

// DeltaSchema returns the {id Int, delta Int} schema of an incoming stream.
func DeltaSchema() *event.Schema {
	return event.MustSchema("deltas",
		event.Attribute{Name: "id", Type: event.TypeInt},
		event.Attribute{Name: "delta", Type: event.TypeInt},
	)
}

// Account builds one accounts row.
func Account(id int64, name string, balance int64) *event.Row {
	return event.NewRow(0, event.Int(id), event.String(name), event.Int(balance))
}

// Delta builds one deltas row.
func Delta(id, delta int64) *event.Row {
	return event.NewRow(0, event.Int(id), event.Int(delta))
}

// Accounts returns n rows with ids 1..n, names "user-<id>" and balance id*10.
func Accounts(n int) []*event.Row {
	rows := make([]*event.Row, n)
	for i := range rows {
		id := int64(i + 1)
		rows[i] = Account(id, fmt.Sprintf("user-%d", id), id*10)
	}
	return rows
}

// IDs extracts the id column of account rows.
func IDs(rows []*event.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i], _ = r.Get(0).AsInt64()
	}
	return out
}
