package reporting

import (
	"fmt"
	"io"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/reporting/sarif"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// Tool identification stamped into every SARIF log.
const (
	ToolName     = "verity"
	ToolInfoURI  = "https://github.com/verityscan/verity-cli"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleCatalog is the fixed SARIF rule set: one rule per failure class. The
// taxonomy is closed, so the catalog is static rather than fingerprinted from
// finding content.
var ruleCatalog = []struct {
	Type schemas.FindingType
	Help string
}{
	{schemas.FindingSilentButton, "A button accepted a click but produced no observable outcome."},
	{schemas.FindingSilentForm, "A form submission fired but the promised outcome never appeared."},
	{schemas.FindingSilentValidation, "Client-side validation produced no visible feedback."},
	{schemas.FindingBrokenNavigation, "A navigation control did not move the page as promised."},
	{schemas.FindingStaleState, "A state-driven view did not update after the interaction."},
	{schemas.FindingMissingNetwork, "An interaction that should call the backend produced no network activity."},
}

// SARIFRenderer emits findings as a SARIF 2.1.0 log. It is single-use: one
// Render, one Close.
type SARIFRenderer struct {
	writer    io.WriteCloser
	logger    *zap.Logger
	log       *sarif.Log
	ruleIndex map[schemas.FindingType]int
}

// NewSARIFRenderer creates a renderer that takes ownership of the writer.
func NewSARIFRenderer(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFRenderer {
	driver := &sarif.ToolComponent{
		Name:           ToolName,
		Version:        pString(toolVersion),
		InformationURI: pString(ToolInfoURI),
		Rules:          []*sarif.ReportingDescriptor{},
	}
	ruleIndex := make(map[schemas.FindingType]int, len(ruleCatalog))
	for i, entry := range ruleCatalog {
		ruleIndex[entry.Type] = i
		driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
			ID:               string(entry.Type),
			Name:             pString(string(entry.Type)),
			ShortDescription: &sarif.MultiformatMessageString{Text: pString(entry.Help)},
		})
	}

	return &SARIFRenderer{
		writer: writer,
		logger: logger.Named("sarif"),
		log: &sarif.Log{
			Version: SARIFVersion,
			Schema:  SARIFSchema,
			Runs: []*sarif.Run{{
				Tool:    &sarif.Tool{Driver: driver},
				Results: []*sarif.Result{},
			}},
		},
		ruleIndex: ruleIndex,
	}
}

// Render converts each finding into a SARIF result.
func (r *SARIFRenderer) Render(info RunInfo, findings []schemas.Finding) error {
	run := r.log.Runs[0]
	for _, f := range findings {
		idx, known := r.ruleIndex[f.Type]
		if !known {
			// Unknown types still surface; they land without a rule binding.
			r.logger.Warn("Finding type missing from the rule catalog.", zap.String("type", string(f.Type)))
		}

		result := &sarif.Result{
			RuleID:    string(f.Type),
			RuleIndex: idx,
			Message:   &sarif.Message{Text: pString(f.Description)},
			Level:     mapStatusToLevel(f.Status),
			PartialFingerprints: map[string]string{
				"runId":       f.RunID,
				"expectation": strconv.Itoa(f.ExpNum),
			},
			Properties: sarif.PropertyBag{
				"status":           string(f.Status),
				"severity":         string(f.Severity),
				"confidenceScore":  f.Confidence.Score,
				"confidenceLevel":  string(f.Confidence.Level),
				"decisionGuidance": string(f.DecisionUsefulness),
			},
		}
		if info.TargetURL != "" {
			result.Locations = []*sarif.Location{{
				PhysicalLocation: &sarif.PhysicalLocation{
					ArtifactLocation: &sarif.ArtifactLocation{URI: pString(info.TargetURL)},
				},
			}}
		}
		if f.Guardrails != nil && len(f.Guardrails.Applied) > 0 {
			ids := make([]string, 0, len(f.Guardrails.Applied))
			for _, g := range f.Guardrails.Applied {
				ids = append(ids, g.RuleID)
			}
			result.Properties["guardrails"] = ids
		}
		run.Results = append(run.Results, result)
	}

	r.logger.Debug("Rendered findings to SARIF buffer.",
		zap.String("run_id", info.RunID), zap.Int("findings", len(findings)))
	return nil
}

// Close encodes the accumulated log and releases the writer. An encoding
// failure takes precedence over a close failure; the output is corrupt either
// way, and the encode error says why.
func (r *SARIFRenderer) Close() error {
	encoder := jsonx.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(r.log)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close report output: %w", closeErr)
	}
	return nil
}

// mapStatusToLevel translates the pipeline's truth status into SARIF levels.
func mapStatusToLevel(status schemas.TruthStatus) sarif.Level {
	switch status {
	case schemas.StatusConfirmed:
		return sarif.LevelError
	case schemas.StatusSuspected:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

func pString(s string) *string { return &s }
