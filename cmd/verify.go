package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/browser/session"
	"github.com/verityscan/verity-cli/internal/guardrails"
	"github.com/verityscan/verity-cli/internal/observability"
	"github.com/verityscan/verity-cli/internal/runner"
	"github.com/verityscan/verity-cli/internal/store"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// newVerifyCmd creates and configures the `verify` command.
func newVerifyCmd() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify <target-url>",
		Short: "Runs the expectation list against a live page and reports silent failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appCfg

			target := args[0]
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				target = "https://" + target
			}
			cfg.SetVerifyTargetURL(target)

			expFile, _ := cmd.Flags().GetString("expectations")
			cfg.SetVerifyExpectationsFile(expFile)

			if out, _ := cmd.Flags().GetString("output"); out != "" {
				expanded, err := homedir.Expand(out)
				if err != nil {
					return fmt.Errorf("failed to expand output path: %w", err)
				}
				cfg.SetArtifactsOutputDir(expanded)
			}
			if cmd.Flags().Changed("headless") {
				headless, _ := cmd.Flags().GetBool("headless")
				cfg.SetBrowserHeadless(headless)
			}

			expectations, err := loadExpectations(expFile)
			if err != nil {
				return err
			}
			if len(expectations) == 0 {
				return fmt.Errorf("expectation file %s contains no expectations", expFile)
			}

			policy, err := loadPolicy(cfg.Guardrails().PolicyFile)
			if err != nil {
				return err
			}

			sink, pool, err := initializeSink(ctx, logger)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			sess, err := session.New(ctx, cfg.Browser(), logger)
			if err != nil {
				return fmt.Errorf("failed to start browser session: %w", err)
			}
			defer sess.Close()

			logger.Info("Starting verification run",
				zap.String("target", target),
				zap.Int("expectations", len(expectations)))

			run := runner.New(cfg, sess, policy, sink, logger)
			summary, err := run.Run(ctx, expectations)
			if err != nil {
				return fmt.Errorf("verification run failed: %w", err)
			}

			fmt.Printf("\nRun Complete. Run ID: %s\n", summary.RunID)
			fmt.Printf("Attempts: %d  Findings: %d\n", len(summary.Attempts), len(summary.Findings))
			fmt.Printf("Artifacts: %s\n", summary.Dir)
			if len(summary.Findings) > 0 {
				fmt.Printf("To inspect the findings, run: verity report --run-dir %s\n", summary.Dir)
			}
			return nil
		},
	}

	verifyCmd.Flags().StringP("expectations", "e", "", "Path to the extractor-produced expectation list (JSON). Required.")
	verifyCmd.Flags().StringP("output", "o", "", "Artifact output directory. (Overrides config/env)")
	verifyCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	_ = verifyCmd.MarkFlagRequired("expectations")

	return verifyCmd
}

// loadExpectations reads and decodes the expectation list.
func loadExpectations(path string) ([]schemas.Expectation, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand expectations path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read expectations file: %w", err)
	}
	var expectations []schemas.Expectation
	if err := jsonx.Unmarshal(data, &expectations); err != nil {
		return nil, fmt.Errorf("malformed expectations file %s: %w", path, err)
	}
	for i, exp := range expectations {
		if exp.ID == "" {
			return nil, fmt.Errorf("expectation %d has no id", i)
		}
	}
	return expectations, nil
}

// loadPolicy loads the configured guardrails policy, or the built-in one.
func loadPolicy(path string) (*guardrails.Policy, error) {
	if path == "" {
		return guardrails.DefaultPolicy(), nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand policy path: %w", err)
	}
	return guardrails.LoadPolicy(expanded)
}

// initializeSink connects the optional Postgres mirror. A run without a
// configured database persists to disk only.
func initializeSink(ctx context.Context, logger *zap.Logger) (*store.Store, *pgxpool.Pool, error) {
	dbURL := appCfg.Database().URL
	if dbURL == "" {
		return nil, nil, nil
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sink, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	return sink, pool, nil
}
