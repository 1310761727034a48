package operator

import (
	"errors"
	"fmt"

	"github.com/hupe1980/eventtable/event"
)

// ErrExtractorFailed is returned when an unmatched incoming row of an
// update-or-add batch cannot be converted into an insertable row.
var ErrExtractorFailed = errors.New("extractor failed to produce an insertable row")

// Extractor converts the matching context of an unmatched incoming row into a
// row for the table. The operator stores a copy of the returned row.
type Extractor interface {
	Extract(ev *event.StateEvent) (*event.Row, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ev *event.StateEvent) (*event.Row, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ev *event.StateEvent) (*event.Row, error) { return f(ev) }

// StreamExtractor returns an extractor that takes the row at stream position
// stream as is. The row must already have the table's shape.
func StreamExtractor(stream int) Extractor {
	return ExtractorFunc(func(ev *event.StateEvent) (*event.Row, error) {
		r := ev.At(stream)
		if r == nil {
			return nil, fmt.Errorf("no row at stream position %d", stream)
		}
		return r, nil
	})
}
