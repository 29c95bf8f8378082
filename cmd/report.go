package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/artifacts"
	"github.com/verityscan/verity-cli/internal/observability"
	"github.com/verityscan/verity-cli/internal/reporting"
)

// newReportCmd creates and configures the `report` command.
func newReportCmd() *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Renders the findings of a committed verification run",
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir, _ := cmd.Flags().GetString("run-dir")
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")

			if runDir == "" {
				return fmt.Errorf("--run-dir is required")
			}
			expanded, err := homedir.Expand(runDir)
			if err != nil {
				return fmt.Errorf("failed to expand run directory: %w", err)
			}

			findings, info, err := loadRun(expanded)
			if err != nil {
				return err
			}

			renderer, err := reporting.New(format, output, Version, observability.GetLogger())
			if err != nil {
				return err
			}
			if err := renderer.Render(info, findings); err != nil {
				renderer.Close()
				return err
			}
			return renderer.Close()
		},
	}

	reportCmd.Flags().String("run-dir", "", "Path to a committed run's artifact directory.")
	reportCmd.Flags().String("format", "text", "Report format: text or sarif.")
	reportCmd.Flags().StringP("output", "o", "", "Output path (defaults to stdout).")
	return reportCmd
}

// loadRun reads findings.json and the run summary from a run directory,
// refusing poisoned (incomplete or rolled-back) runs.
func loadRun(runDir string) ([]schemas.Finding, reporting.RunInfo, error) {
	var info reporting.RunInfo

	if _, err := os.Stat(filepath.Join(runDir, artifacts.PoisonMarkerName)); err == nil {
		return nil, info, fmt.Errorf("run at %s is poisoned (incomplete or rolled back); its artifacts are not trustworthy", runDir)
	}

	data, err := os.ReadFile(filepath.Join(runDir, "findings.json"))
	if err != nil {
		return nil, info, fmt.Errorf("failed to read findings.json: %w", err)
	}
	var findings []schemas.Finding
	if err := jsonx.Unmarshal(data, &findings); err != nil {
		return nil, info, fmt.Errorf("malformed findings.json in %s: %w", runDir, err)
	}

	// The summary is context, not evidence. A missing or malformed one does
	// not block the report.
	if data, err := os.ReadFile(filepath.Join(runDir, "run_summary.json")); err == nil {
		var summary struct {
			RunID     string `json:"run_id"`
			TargetURL string `json:"target_url"`
		}
		if err := jsonx.Unmarshal(data, &summary); err == nil {
			info.RunID = summary.RunID
			info.TargetURL = summary.TargetURL
		}
	}
	return findings, info, nil
}
