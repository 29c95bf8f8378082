package reporting

import (
	"fmt"
	"io"

	"github.com/verityscan/verity-cli/api/schemas"
)

// TextRenderer writes the human-readable report the CLI prints by default.
type TextRenderer struct {
	writer io.WriteCloser
}

// NewTextRenderer creates a renderer that takes ownership of the writer.
func NewTextRenderer(writer io.WriteCloser) *TextRenderer {
	return &TextRenderer{writer: writer}
}

func (r *TextRenderer) Render(info RunInfo, findings []schemas.Finding) error {
	if info.RunID != "" {
		fmt.Fprintf(r.writer, "Run %s", info.RunID)
		if info.TargetURL != "" {
			fmt.Fprintf(r.writer, " against %s", info.TargetURL)
		}
		fmt.Fprintln(r.writer)
	}

	if len(findings) == 0 {
		fmt.Fprintln(r.writer, "No findings. Every expectation delivered its promised outcome.")
		return nil
	}

	for _, f := range findings {
		fmt.Fprintf(r.writer, "[%s] %s (%s, confidence %s %.2f)\n",
			f.Status, f.Type, f.Severity, f.Confidence.Level, f.Confidence.Score)
		fmt.Fprintf(r.writer, "    %s\n", f.Description)
		if f.Guardrails != nil {
			for _, g := range f.Guardrails.Applied {
				fmt.Fprintf(r.writer, "    guardrail %s [%s]: %s\n", g.RuleID, g.Severity, g.Message)
			}
		}
		if f.DecisionUsefulness != "" {
			fmt.Fprintf(r.writer, "    guidance: %s\n", f.DecisionUsefulness)
		}
	}
	fmt.Fprintf(r.writer, "\n%d finding(s).\n", len(findings))
	return nil
}

func (r *TextRenderer) Close() error {
	return r.writer.Close()
}
