// Package reporting renders committed run findings for human and machine
// consumers. Renderers take ownership of their writer; Close flushes and
// releases it exactly once.
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/verityscan/verity-cli/api/schemas"
)

// RunInfo is the run-level context a renderer may embed in its output.
type RunInfo struct {
	RunID     string
	TargetURL string
}

// Renderer writes one run's findings to an output.
type Renderer interface {
	// Render emits the findings. It may be called once per run.
	Render(info RunInfo, findings []schemas.Finding) error
	// Close finalizes the output and releases the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer with a no-op Close, for stdout.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error { return nil }

// New creates a renderer for the given format. An empty or "stdout" output
// path writes to standard output.
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Renderer, error) {
	var writer io.WriteCloser
	isStdout := outputPath == "" || outputPath == "stdout"

	if isStdout {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "sarif":
		return NewSARIFRenderer(writer, toolVersion, logger), nil
	case "text":
		return NewTextRenderer(writer), nil
	default:
		if !isStdout {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}
