package event

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	gojson "github.com/goccy/go-json"
)

// valueJSON is the persisted form of a Value.
//
// Floats are stored as their IEEE 754 bit pattern in hex so NaN, ±Inf and -0
// survive. Strings that are not valid UTF-8 go to "x" as raw bytes (base64),
// because JSON strings would replace the invalid bytes.
type valueJSON struct {
	Kind Kind              `json:"k"`
	I64  int64             `json:"i,omitempty"`
	F64  gojson.RawMessage `json:"f,omitempty"`
	S    string            `json:"s,omitempty"`
	Raw  []byte            `json:"x,omitempty"`
	B    bool              `json:"b,omitempty"`
}

// MarshalJSON implements json.Marshaler. The encoding is lossless.
func (v Value) MarshalJSON() ([]byte, error) {
	w := valueJSON{Kind: v.Kind, I64: v.I64, B: v.B}
	if bits := math.Float64bits(v.F64); bits != 0 {
		w.F64 = gojson.RawMessage(strconv.Quote(strconv.FormatUint(bits, 16)))
	}
	if utf8.ValidString(v.S) {
		w.S = v.S
	} else {
		w.Raw = []byte(v.S)
	}
	return gojson.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. A plain JSON number in "f" is
// accepted as well.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueJSON
	if err := gojson.Unmarshal(data, &w); err != nil {
		return err
	}
	*v = Value{Kind: w.Kind, I64: w.I64, S: w.S, B: w.B}
	if w.Raw != nil {
		v.S = string(w.Raw)
	}
	if len(w.F64) == 0 {
		return nil
	}
	if w.F64[0] == '"' {
		hex, err := strconv.Unquote(string(w.F64))
		if err != nil {
			return fmt.Errorf("event: float bits %s: %w", w.F64, err)
		}
		bits, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return fmt.Errorf("event: float bits %q: %w", hex, err)
		}
		v.F64 = math.Float64frombits(bits)
		return nil
	}
	f, err := strconv.ParseFloat(string(w.F64), 64)
	if err != nil {
		return fmt.Errorf("event: float %s: %w", w.F64, err)
	}
	v.F64 = f
	return nil
}
