// Package reporting renders scan results for people and for tooling.
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

// Output formats accepted by New.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatSARIF = "sarif"
)

// Reporter writes scan results to an output.
type Reporter interface {
	// Write processes a single scan result.
	Write(result *schemas.ScanResult) error
	// Close finalizes the report and closes the underlying output.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath. An empty path or
// "stdout" writes to standard output, which is never closed.
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	switch format {
	case FormatText, FormatJSON, FormatSARIF:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer, toolVersion, logger)
}

// NewWithWriter creates a reporter over an already opened writer. The
// reporter takes ownership of writer.
func NewWithWriter(format string, writer io.WriteCloser, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch format {
	case FormatText:
		return NewTextReporter(writer), nil
	case FormatJSON:
		return NewJSONReporter(writer), nil
	case FormatSARIF:
		return NewSARIFReporter(writer, toolVersion, logger), nil
	default:
		writer.Close()
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
