package reporting

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes each result as an indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
	stream *jsoniter.Encoder
}

// NewJSONReporter creates a JSON reporter that owns writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return &JSONReporter{writer: writer, stream: enc}
}

// Write encodes result.
func (r *JSONReporter) Write(result *schemas.ScanResult) error {
	if err := r.stream.Encode(result); err != nil {
		return fmt.Errorf("failed to encode scan result: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
