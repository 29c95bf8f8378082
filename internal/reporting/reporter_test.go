package reporting

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/reporting/sarif"
)

type closableBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closableBuffer) Close() error {
	b.closed = true
	return nil
}

func sampleFindings() []schemas.Finding {
	return []schemas.Finding{
		{
			ID:          "f-1",
			RunID:       "run-1",
			ExpNum:      1,
			Type:        schemas.FindingSilentButton,
			Status:      schemas.StatusConfirmed,
			Severity:    schemas.SeverityHigh,
			Confidence:  schemas.Confidence{Score: 0.85, Level: schemas.ConfidenceHigh},
			Description: `button "Save" promised a ui-change outcome but delivered none`,
			Guardrails:  &schemas.GuardrailReport{FinalStatus: schemas.StatusConfirmed},
		},
		{
			ID:         "f-2",
			RunID:      "run-1",
			ExpNum:     3,
			Type:       schemas.FindingBrokenNavigation,
			Status:     schemas.StatusSuspected,
			Severity:   schemas.SeverityHigh,
			Confidence: schemas.Confidence{Score: 0.40, Level: schemas.ConfidenceLow},
			Guardrails: &schemas.GuardrailReport{
				Applied: []schemas.AppliedGuardrail{
					{RuleID: "GR-030", Severity: schemas.GuardrailSeverityDowngrade, Message: "Hash-only or shallow routing detected."},
				},
				FinalStatus:   schemas.StatusSuspected,
				StatusChanged: true,
			},
		},
	}
}

func TestSARIFRenderer(t *testing.T) {
	renderSARIF := func(t *testing.T, findings []schemas.Finding) sarif.Log {
		t.Helper()
		buf := &closableBuffer{}
		r := NewSARIFRenderer(buf, "0.1.0", zaptest.NewLogger(t))
		require.NoError(t, r.Render(RunInfo{RunID: "run-1", TargetURL: "https://a.test/"}, findings))
		require.NoError(t, r.Close())
		require.True(t, buf.closed)

		var log sarif.Log
		require.NoError(t, jsonx.Unmarshal(buf.Bytes(), &log))
		return log
	}

	t.Run("log structure carries the tool and the static rule catalog", func(t *testing.T) {
		log := renderSARIF(t, nil)
		assert.Equal(t, SARIFVersion, log.Version)
		require.Len(t, log.Runs, 1)

		driver := log.Runs[0].Tool.Driver
		assert.Equal(t, ToolName, driver.Name)
		require.Len(t, driver.Rules, len(ruleCatalog))
		assert.Equal(t, string(schemas.FindingSilentButton), driver.Rules[0].ID)
	})

	t.Run("findings become leveled results with fingerprints", func(t *testing.T) {
		log := renderSARIF(t, sampleFindings())
		results := log.Runs[0].Results
		require.Len(t, results, 2)

		assert.Equal(t, string(schemas.FindingSilentButton), results[0].RuleID)
		assert.Equal(t, sarif.LevelError, results[0].Level)
		assert.Equal(t, "run-1", results[0].PartialFingerprints["runId"])
		assert.Equal(t, "1", results[0].PartialFingerprints["expectation"])

		assert.Equal(t, sarif.LevelWarning, results[1].Level)
		assert.Equal(t, "3", results[1].PartialFingerprints["expectation"])

		require.Len(t, results[0].Locations, 1)
		assert.Equal(t, "https://a.test/", *results[0].Locations[0].PhysicalLocation.ArtifactLocation.URI)
	})

	t.Run("applied guardrails land in the property bag", func(t *testing.T) {
		log := renderSARIF(t, sampleFindings())
		props := log.Runs[0].Results[1].Properties
		require.Contains(t, props, "guardrails")
		assert.Equal(t, []interface{}{"GR-030"}, props["guardrails"])
	})

	t.Run("status maps onto SARIF levels", func(t *testing.T) {
		assert.Equal(t, sarif.LevelError, mapStatusToLevel(schemas.StatusConfirmed))
		assert.Equal(t, sarif.LevelWarning, mapStatusToLevel(schemas.StatusSuspected))
		assert.Equal(t, sarif.LevelNote, mapStatusToLevel(schemas.StatusInformational))
	})
}

func TestTextRenderer(t *testing.T) {
	buf := &closableBuffer{}
	r := NewTextRenderer(buf)
	require.NoError(t, r.Render(RunInfo{RunID: "run-1", TargetURL: "https://a.test/"}, sampleFindings()))
	require.NoError(t, r.Close())

	out := buf.String()
	assert.Contains(t, out, "Run run-1 against https://a.test/")
	assert.Contains(t, out, "[CONFIRMED] silent-button-failure")
	assert.Contains(t, out, "guardrail GR-030 [DOWNGRADE]: Hash-only or shallow routing detected.")
	assert.Contains(t, out, "2 finding(s).")
}

func TestNew(t *testing.T) {
	t.Run("rejects unknown formats", func(t *testing.T) {
		_, err := New("xml", "", "0.1.0", zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported report format")
	})

	t.Run("writes sarif to a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.sarif")
		r, err := New("sarif", path, "0.1.0", zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, r.Render(RunInfo{RunID: "run-1"}, nil))
		require.NoError(t, r.Close())

		assert.FileExists(t, path)
	})

	t.Run("stdout path selects the text renderer", func(t *testing.T) {
		r, err := New("text", "stdout", "0.1.0", zaptest.NewLogger(t))
		require.NoError(t, err)
		_, ok := r.(*TextRenderer)
		assert.True(t, ok)
		assert.NoError(t, r.Close())
	})
}
