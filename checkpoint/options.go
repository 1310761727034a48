package checkpoint

import (
	"log/slog"

	"github.com/hupe1980/eventtable/codec"
	"github.com/hupe1980/eventtable/resource"
)

// Options configures a Manager.
type Options struct {
	// Prefix is prepended to every blob name.
	Prefix string
	// Compression applies to table snapshot blobs. Default: zstd.
	Compression Compression
	// Codec encodes table snapshots. Default: codec.Default.
	Codec codec.Codec
	// Concurrency bounds the tables encoded or decoded in parallel. Default: 4.
	Concurrency int
	// Resources throttles memory, workers and write bandwidth. Nil means unlimited.
	Resources *resource.Controller
	Logger    *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
		Codec:       codec.Default,
		Concurrency: 4,
		Logger:      slog.Default(),
	}
}

// WithPrefix stores checkpoints under prefix.
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

// WithCompression sets the snapshot compression.
func WithCompression(c Compression) Option {
	return func(o *Options) { o.Compression = c }
}

// WithCodec sets the snapshot codec.
func WithCodec(c codec.Codec) Option {
	return func(o *Options) {
		if c != nil {
			o.Codec = c
		}
	}
}

// WithConcurrency bounds parallel table encoding.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithResourceController throttles persistence through rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *Options) { o.Resources = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
