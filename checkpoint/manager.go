package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/eventtable/blobstore"
	"github.com/hupe1980/eventtable/codec"
	"github.com/hupe1980/eventtable/resource"
	"github.com/hupe1980/eventtable/state"
)

// Snapshotter is a table whose content can be checkpointed.
// *eventtable.Table implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) (state.Snapshot, error)
	Restore(ctx context.Context, snap state.Snapshot) error
}

// RestorePreparer is a Snapshotter that can decode a snapshot before
// installing it. The Manager stages every such table before committing any.
type RestorePreparer interface {
	PrepareRestore(ctx context.Context, snap state.Snapshot) (commit func() error, err error)
}

type registration struct {
	id   string
	snap Snapshotter
}

// Manager checkpoints registered tables to a blob store.
// It is safe for concurrent use; concurrent Persist calls are serialized.
type Manager struct {
	store  blobstore.BlobStore
	opts   Options
	layout layout
	writer string
	logger *slog.Logger

	persistMu sync.Mutex

	mu     sync.RWMutex
	tables map[string]Snapshotter
}

// NewManager creates a Manager on store.
func NewManager(store blobstore.BlobStore, optFns ...Option) *Manager {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	writer := uuid.NewString()
	return &Manager{
		store:  store,
		opts:   opts,
		layout: layout{prefix: opts.Prefix},
		writer: writer,
		logger: opts.Logger.With("component", "checkpoint", "writer", writer),
		tables: make(map[string]Snapshotter),
	}
}

// Register adds a table under id.
func (m *Manager) Register(id string, s Snapshotter) error {
	if id == "" {
		return errors.New("checkpoint: empty table id")
	}
	if s == nil {
		return errors.New("checkpoint: nil snapshotter")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	m.tables[id] = s
	return nil
}

// Unregister removes id. It reports whether id was registered.
func (m *Manager) Unregister(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[id]
	delete(m.tables, id)
	return ok
}

// registered returns the registrations sorted by id.
func (m *Manager) registered() []registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]registration, 0, len(m.tables))
	for id, s := range m.tables {
		out = append(out, registration{id: id, snap: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Persist writes a new checkpoint of every registered table and makes it
// the latest. Each table snapshot is consistent on its own; tables are not
// frozen against each other.
func (m *Manager) Persist(ctx context.Context) (string, error) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	start := time.Now()
	revs, err := m.Revisions(ctx)
	if err != nil {
		return "", err
	}
	next := uint64(1)
	if len(revs) > 0 {
		n, _ := parseRevision(revs[len(revs)-1])
		next = n + 1
	}
	rev := formatRevision(next)

	tables := m.registered()
	entries := make([]TableEntry, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for i, t := range tables {
		g.Go(func() error {
			e, err := m.persistTable(gctx, rev, t)
			if err != nil {
				return fmt.Errorf("checkpoint table %s: %w", t.id, err)
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.discard(context.WithoutCancel(ctx), rev)
		return "", err
	}

	man := &Manifest{
		Version:     manifestVersion,
		Revision:    rev,
		CreatedAt:   time.Now().UTC(),
		Writer:      m.writer,
		Codec:       m.opts.Codec.Name(),
		Compression: m.opts.Compression.String(),
		Tables:      entries,
	}
	data, err := encodeManifest(man)
	if err != nil {
		m.discard(context.WithoutCancel(ctx), rev)
		return "", err
	}
	if err := m.store.Put(ctx, m.layout.manifest(rev), data); err != nil {
		m.discard(context.WithoutCancel(ctx), rev)
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := m.store.Put(ctx, m.layout.current(), []byte(rev)); err != nil {
		m.discard(context.WithoutCancel(ctx), rev)
		return "", fmt.Errorf("commit revision %s: %w", rev, err)
	}

	m.logger.Info("checkpoint persisted",
		"revision", rev,
		"tables", len(entries),
		"duration", time.Since(start),
	)
	return rev, nil
}

func (m *Manager) persistTable(ctx context.Context, rev string, t registration) (TableEntry, error) {
	rc := m.opts.Resources
	if err := rc.AcquireWorker(ctx); err != nil {
		return TableEntry{}, err
	}
	defer rc.ReleaseWorker()

	snap, err := t.snap.Snapshot(ctx)
	if err != nil {
		return TableEntry{}, err
	}
	payload, err := m.opts.Codec.Marshal(snap)
	if err != nil {
		return TableEntry{}, fmt.Errorf("encode: %w", err)
	}

	// The payload and its compressed block are live together.
	reserved := int64(2 * len(payload))
	if err := rc.AcquireMemory(ctx, reserved); err != nil {
		return TableEntry{}, err
	}
	defer rc.ReleaseMemory(reserved)

	block, err := compressBlock(payload, m.opts.Compression)
	if err != nil {
		return TableEntry{}, fmt.Errorf("compress: %w", err)
	}

	name := m.layout.table(rev, t.id)
	if err := m.writeBlob(ctx, name, block); err != nil {
		return TableEntry{}, err
	}

	partitions := make([]string, 0, len(snap))
	for key := range snap {
		partitions = append(partitions, key)
	}
	sort.Strings(partitions)

	m.logger.Debug("table checkpointed",
		"table", t.id,
		"revision", rev,
		"bytes", len(block),
		"raw_bytes", len(payload),
	)
	return TableEntry{
		ID:         t.id,
		Blob:       name,
		Size:       int64(len(block)),
		CRC32:      crc32.ChecksumIEEE(block),
		Partitions: partitions,
	}, nil
}

func (m *Manager) writeBlob(ctx context.Context, name string, data []byte) error {
	w, err := m.store.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := resource.NewRateLimitedWriter(ctx, w, m.opts.Resources).Write(data); err != nil {
		return errors.Join(err, w.Close())
	}
	return w.Close()
}

// discard removes the blobs of a revision that never became current.
func (m *Manager) discard(ctx context.Context, rev string) {
	names, err := m.store.List(ctx, m.layout.dir(rev))
	if err != nil {
		m.logger.Warn("list abandoned revision", "revision", rev, "error", err)
		return
	}
	for _, name := range names {
		if err := m.store.Delete(ctx, name); err != nil {
			m.logger.Warn("delete abandoned blob", "blob", name, "error", err)
		}
	}
}

// Writer returns the ID recorded in the manifests this Manager writes.
func (m *Manager) Writer() string { return m.writer }

// Latest returns the revision CURRENT points at.
func (m *Manager) Latest(ctx context.Context) (string, error) {
	data, err := blobstore.ReadAll(ctx, m.store, m.layout.current())
	if errors.Is(err, blobstore.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	rev := strings.TrimSpace(string(data))
	if _, ok := parseRevision(rev); !ok {
		return "", fmt.Errorf("%w: CURRENT holds %q", ErrCorrupt, rev)
	}
	return rev, nil
}

// Revisions returns all revisions with a manifest, oldest first.
func (m *Manager) Revisions(ctx context.Context) ([]string, error) {
	root := m.layout.root()
	names, err := m.store.List(ctx, root)
	if err != nil {
		return nil, err
	}
	var revs []string
	for _, name := range names {
		rev, file, ok := strings.Cut(strings.TrimPrefix(name, root), "/")
		if !ok || file != manifestBlob {
			continue
		}
		if _, ok := parseRevision(rev); ok {
			revs = append(revs, rev)
		}
	}
	sort.Strings(revs)
	return revs, nil
}

// Manifest reads the manifest of rev.
func (m *Manager) Manifest(ctx context.Context, rev string) (*Manifest, error) {
	if _, ok := parseRevision(rev); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRevision, rev)
	}
	data, err := blobstore.ReadAll(ctx, m.store, m.layout.manifest(rev))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: revision %s", ErrNotFound, rev)
	}
	if err != nil {
		return nil, err
	}
	return decodeManifest(data)
}

// RestoreLatest restores the revision CURRENT points at.
func (m *Manager) RestoreLatest(ctx context.Context) (*Manifest, error) {
	rev, err := m.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return m.Restore(ctx, rev)
}

// Restore loads rev into the registered tables.
//
// Restore runs in two phases. First every table blob is read and verified,
// and every table implementing RestorePreparer decodes its snapshot into
// staged storage. Only when all of that succeeded are the staged tables
// committed, so a corrupt or incompatible checkpoint leaves all tables
// untouched. Tables that only implement Snapshotter are restored after the
// commits and are not covered by that guarantee. Registered tables missing
// from the manifest are left as they are.
func (m *Manager) Restore(ctx context.Context, rev string) (*Manifest, error) {
	start := time.Now()
	man, err := m.Manifest(ctx, rev)
	if err != nil {
		return nil, err
	}
	cdc, ok := codec.ByName(man.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrCorrupt, man.Codec)
	}
	comp, err := ParseCompression(man.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	tables := m.registered()
	known := make(map[string]bool, len(tables))
	snaps := make([]state.Snapshot, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for i, t := range tables {
		known[t.id] = true
		entry, ok := man.Table(t.id)
		if !ok {
			m.logger.Warn("table not in checkpoint", "table", t.id, "revision", rev)
			continue
		}
		g.Go(func() error {
			snap, err := m.loadTable(gctx, entry, comp, cdc)
			if err != nil {
				return fmt.Errorf("checkpoint table %s: %w", t.id, err)
			}
			snaps[i] = snap
			return nil
		})
	}
	for _, e := range man.Tables {
		if !known[e.ID] {
			m.logger.Warn("checkpointed table not registered", "table", e.ID, "revision", rev)
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type pending struct {
		id     string
		commit func() error
	}
	var staged, plain []pending
	for i, t := range tables {
		if snaps[i] == nil {
			continue
		}
		p, ok := t.snap.(RestorePreparer)
		if !ok {
			plain = append(plain, pending{id: t.id, commit: func() error { return t.snap.Restore(ctx, snaps[i]) }})
			continue
		}
		commit, err := p.PrepareRestore(ctx, snaps[i])
		if err != nil {
			return nil, fmt.Errorf("restore table %s: %w", t.id, err)
		}
		staged = append(staged, pending{id: t.id, commit: commit})
	}
	for _, p := range append(staged, plain...) {
		if err := p.commit(); err != nil {
			return nil, fmt.Errorf("restore table %s: %w", p.id, err)
		}
	}

	m.logger.Info("checkpoint restored",
		"revision", rev,
		"tables", len(man.Tables),
		"duration", time.Since(start),
	)
	return man, nil
}

func (m *Manager) loadTable(ctx context.Context, e TableEntry, comp Compression, cdc codec.Codec) (state.Snapshot, error) {
	rc := m.opts.Resources
	if err := rc.AcquireWorker(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseWorker()

	if err := rc.AcquireMemory(ctx, e.Size); err != nil {
		return nil, err
	}
	defer rc.ReleaseMemory(e.Size)

	data, err := blobstore.ReadAll(ctx, m.store, e.Blob)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: missing blob %s", ErrCorrupt, e.Blob)
	}
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != e.Size {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrCorrupt, e.Blob, len(data), e.Size)
	}
	if sum := crc32.ChecksumIEEE(data); sum != e.CRC32 {
		return nil, fmt.Errorf("%w: %s checksum %08x, want %08x", ErrCorrupt, e.Blob, sum, e.CRC32)
	}
	payload, err := decompressBlock(data, comp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var snap state.Snapshot
	if err := cdc.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, e.Blob, err)
	}
	if snap == nil {
		snap = state.Snapshot{}
	}
	return snap, nil
}

// Prune deletes all but the newest keep revisions. The revision CURRENT
// points at is never deleted. It returns the removed revisions.
func (m *Manager) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	revs, err := m.Revisions(ctx)
	if err != nil {
		return nil, err
	}
	if len(revs) <= keep {
		return nil, nil
	}
	latest, err := m.Latest(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var removed []string
	for _, rev := range revs[:len(revs)-keep] {
		if rev == latest {
			continue
		}
		names, err := m.store.List(ctx, m.layout.dir(rev))
		if err != nil {
			return removed, err
		}
		// Manifest last, so an interrupted prune still lists the revision.
		sort.SliceStable(names, func(i, j int) bool {
			return !strings.HasSuffix(names[i], manifestBlob) && strings.HasSuffix(names[j], manifestBlob)
		})
		for _, name := range names {
			if err := m.store.Delete(ctx, name); err != nil {
				return removed, err
			}
		}
		removed = append(removed, rev)
	}
	if len(removed) > 0 {
		m.logger.Info("checkpoints pruned", "removed", len(removed), "kept", len(revs)-len(removed))
	}
	return removed, nil
}
