package checkpoint

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/hupe1980/eventtable/codec"
)

const (
	currentBlob  = "CURRENT"
	manifestBlob = "manifest.json"
	snapSuffix   = ".snap"

	manifestVersion = 1
)

// Manifest describes one checkpoint revision. Writer identifies the Manager
// instance that wrote it.
type Manifest struct {
	Version     int          `json:"version"`
	Revision    string       `json:"revision"`
	CreatedAt   time.Time    `json:"created_at"`
	Writer      string       `json:"writer"`
	Codec       string       `json:"codec"`
	Compression string       `json:"compression"`
	Tables      []TableEntry `json:"tables"`
}

// TableEntry locates the snapshot blob of one table.
type TableEntry struct {
	ID         string   `json:"id"`
	Blob       string   `json:"blob"`
	Size       int64    `json:"size"`
	CRC32      uint32   `json:"crc32"`
	Partitions []string `json:"partitions"`
}

// Table returns the entry of id.
func (m *Manifest) Table(id string) (TableEntry, bool) {
	for _, t := range m.Tables {
		if t.ID == id {
			return t, true
		}
	}
	return TableEntry{}, false
}

// Manifests are always JSON so any build can inspect them; the table
// payload codec is recorded by name.
func encodeManifest(m *Manifest) ([]byte, error) {
	return codec.GoJSON{}.Marshal(m)
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := (codec.GoJSON{}).Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("%w: manifest version %d", ErrCorrupt, m.Version)
	}
	return &m, nil
}

// formatRevision renders n so that lexical and numeric order agree.
func formatRevision(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func parseRevision(s string) (uint64, bool) {
	if len(s) != 20 {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}

type layout struct {
	prefix string
}

func (l layout) current() string { return path.Join(l.prefix, currentBlob) }

func (l layout) dir(rev string) string { return path.Join(l.prefix, rev) + "/" }

func (l layout) manifest(rev string) string { return path.Join(l.prefix, rev, manifestBlob) }

func (l layout) table(rev, id string) string {
	return path.Join(l.prefix, rev, url.PathEscape(id)+snapSuffix)
}

// root is the List prefix covering all revisions.
func (l layout) root() string {
	if l.prefix == "" {
		return ""
	}
	return path.Clean(l.prefix) + "/"
}
