package eventtable

import (
	"log/slog"

	"github.com/hupe1980/eventtable/codec"
	"github.com/hupe1980/eventtable/event"
)

type options struct {
	codec            codec.Codec
	cloner           event.Cloner
	metricsCollector MetricsCollector
	logger           *Logger
	backend          Operations
}

// Option configures a table.
type Option func(*options)

// WithCodec configures the codec used to encode partition snapshots.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCloner configures how rows are copied when they enter or leave the table.
//
// If nil is passed, event.DefaultCloner is used.
func WithCloner(c event.Cloner) Option {
	return func(o *options) {
		if c == nil {
			c = event.DefaultCloner
		}
		o.cloner = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &eventtable.BasicMetricsCollector{}
//	t, _ := eventtable.Open(def, eventtable.WithMetricsCollector(metrics))
//	// ... use t ...
//	stats := metrics.GetStats()
//	fmt.Printf("Adds: %d, Avg read latency: %dns\n", stats.AddCount, stats.ReadAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := eventtable.NewJSONLogger(slog.LevelInfo)
//	t, _ := eventtable.Open(def, eventtable.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithOperations selects the backend a Table dispatches to. The backend is
// initialized by Open. Defaults to a new InMemoryTable.
func WithOperations(ops Operations) Option {
	return func(o *options) {
		o.backend = ops
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		cloner:           event.DefaultCloner,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
