// Package runner drives one verification run end to end: navigate, then for
// each expectation resolve, interact, classify, build evidence, apply
// guardrails, score confidence, and enforce the hard lock. Attempts run
// strictly sequentially against the page; cancellation is budget-driven,
// checked before each attempt.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/artifacts"
	"github.com/verityscan/verity-cli/internal/browser"
	"github.com/verityscan/verity-cli/internal/classify"
	"github.com/verityscan/verity-cli/internal/confidence"
	"github.com/verityscan/verity-cli/internal/config"
	"github.com/verityscan/verity-cli/internal/findings"
	"github.com/verityscan/verity-cli/internal/guardrails"
	"github.com/verityscan/verity-cli/internal/interaction"
	"github.com/verityscan/verity-cli/internal/selector"
	"github.com/verityscan/verity-cli/internal/store"
)

// globalTimeoutReason is the reason stamped on attempts skipped because the
// run's wall-clock budget ran out.
const globalTimeoutReason = "global-timeout-exceeded"

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

func marshalIndent(v interface{}) ([]byte, error) {
	return jsonx.MarshalIndent(v, "", "  ")
}

// Summary is the run's outcome handed back to the CLI.
type Summary struct {
	RunID     string                       `json:"run_id"`
	TargetURL string                       `json:"target_url"`
	Dir       string                       `json:"-"`
	Attempts  []schemas.InteractionAttempt `json:"attempts"`
	Findings  []schemas.Finding            `json:"-"`
	StartedAt time.Time                    `json:"started_at"`
	EndedAt   time.Time                    `json:"ended_at"`
}

// Runner executes one verification run. It is single-use: one Runner, one
// run directory, one Run call.
type Runner struct {
	cfg      config.Interface
	driver   browser.Driver
	engine   *guardrails.Engine
	sink     *store.Store
	logger   *zap.Logger
	limiter  *rate.Limiter
	pipeline *artifacts.Pipeline
	runID    string
	runDir   string
}

// New assembles a runner. sink may be nil when no database is configured.
func New(cfg config.Interface, driver browser.Driver, policy *guardrails.Policy, sink *store.Store, logger *zap.Logger) *Runner {
	runID := uuid.NewString()
	runDir := filepath.Join(cfg.Artifacts().OutputDir, runID)
	return &Runner{
		cfg:      cfg,
		driver:   driver,
		engine:   guardrails.NewEngine(policy, logger),
		sink:     sink,
		logger:   logger.Named("runner"),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Verify().AttemptsPerSecond), 1),
		pipeline: artifacts.New(runDir, cfg.Artifacts().Version, logger),
		runID:    runID,
		runDir:   runDir,
	}
}

// RunID returns the run's identifier.
func (r *Runner) RunID() string { return r.runID }

// RunDir returns the run's artifact directory.
func (r *Runner) RunDir() string { return r.runDir }

// Run executes every expectation and commits the run's artifacts. Any
// integrity or evidence-law failure rolls the whole run back; the artifact
// directory is never left looking plausibly complete when it is not.
func (r *Runner) Run(ctx context.Context, expectations []schemas.Expectation) (*Summary, error) {
	summary := &Summary{
		RunID:     r.runID,
		TargetURL: r.cfg.Verify().TargetURL,
		Dir:       r.runDir,
		StartedAt: time.Now().UTC(),
	}

	if err := r.pipeline.Begin(); err != nil {
		return nil, fmt.Errorf("failed to open artifact staging: %w", err)
	}

	executor := interaction.New(r.driver, r.cfg.Verify(), r.pipeline.StagingDir(), r.logger)
	resolver := selector.New(r.driver, r.logger)

	if err := r.driver.Navigate(ctx, summary.TargetURL); err != nil {
		return nil, r.abort(summary, fmt.Errorf("failed to navigate to target: %w", err))
	}

	deadline := time.Now().Add(r.cfg.Verify().GlobalBudget)
	for i, exp := range expectations {
		expNum := i + 1

		if time.Now().After(deadline) {
			summary.Attempts = append(summary.Attempts, r.budgetExceededAttempt(expNum, exp))
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, r.abort(summary, fmt.Errorf("run cancelled while pacing: %w", err))
		}

		attempt, finding, err := r.runAttempt(ctx, executor, resolver, expNum, exp)
		if err != nil {
			return nil, r.abort(summary, err)
		}
		summary.Attempts = append(summary.Attempts, attempt)
		if finding != nil {
			summary.Findings = append(summary.Findings, *finding)
		}
	}
	summary.EndedAt = time.Now().UTC()

	if err := r.persist(summary); err != nil {
		return nil, r.abort(summary, err)
	}
	if err := r.pipeline.Commit(); err != nil {
		return nil, r.abort(summary, err)
	}

	if r.sink != nil {
		if err := r.sink.PersistRun(ctx, r.runID, summary.TargetURL, summary.Findings); err != nil {
			// The committed artifact directory is the source of truth; a sink
			// failure does not poison the run.
			r.logger.Error("Failed to mirror findings to database.", zap.Error(err))
		}
	}

	r.logger.Info("Run complete.",
		zap.String("run_id", r.runID),
		zap.Int("attempts", len(summary.Attempts)),
		zap.Int("findings", len(summary.Findings)))
	return summary, nil
}

// runAttempt executes the full per-expectation pipeline. The returned error
// is reserved for lifecycle breaks and evidence-law violations; everything
// the page does wrong lands in the attempt and finding.
func (r *Runner) runAttempt(ctx context.Context, executor *interaction.Executor, resolver *selector.Resolver, expNum int, exp schemas.Expectation) (schemas.InteractionAttempt, *schemas.Finding, error) {
	res, err := resolver.Resolve(ctx, exp)
	if err != nil {
		return schemas.InteractionAttempt{}, nil, err
	}

	attempt, bundle, err := executor.Execute(ctx, expNum, exp, res)
	if err != nil {
		return attempt, nil, err
	}

	verdict := classify.Classify(exp, attempt)
	attempt.Cause = verdict.Cause
	attempt.Reason = verdict.Reason
	attempt.OutcomeMatched = verdict.OutcomeMatched

	r.logger.Debug("Attempt classified.",
		zap.Int("exp_num", expNum),
		zap.String("expectation", exp.ID),
		zap.Bool("matched", verdict.OutcomeMatched),
		zap.String("cause", string(verdict.Cause)))

	if !verdict.Failed {
		return attempt, nil, nil
	}

	in := findings.BuildInput{
		Expectation: exp,
		Attempt:     attempt,
		Selector:    res.Selector,
		Network:     bundle.NetworkEvents(),
	}
	probe := findings.Build(in)

	report := r.engine.Evaluate(guardrails.Target{
		Type:     verdict.Type,
		Status:   verdict.Status,
		Cause:    verdict.Cause,
		Signals:  attempt.Signals,
		Evidence: probe,
	})

	scored := confidence.Compute(confidence.Input{
		FindingType: verdict.Type,
		Cause:       verdict.Cause,
		Status:      verdict.Status,
		Signals:     attempt.Signals,
		Evidence:    probe,
		Guardrails:  &report,
	})

	pkg, err := findings.BuildAndEnforce(in, scored.Status)
	if err != nil {
		// Evidence Law violation. Must propagate; the run rolls back.
		return attempt, nil, err
	}

	f := findings.NewFinding(
		uuid.NewString(), r.runID, expNum,
		verdict.Type, scored.Status, verdict.Severity,
		scored.Confidence, verdict.Description,
		pkg, &report, scored.DecisionUsefulness,
	)
	return attempt, &f, nil
}

// budgetExceededAttempt records an expectation the run never got to.
func (r *Runner) budgetExceededAttempt(expNum int, exp schemas.Expectation) schemas.InteractionAttempt {
	now := time.Now().UTC()
	r.logger.Warn("Global budget exhausted; skipping expectation.",
		zap.Int("exp_num", expNum), zap.String("expectation", exp.ID))
	return schemas.InteractionAttempt{
		ID:            uuid.NewString(),
		ExpNum:        expNum,
		ExpectationID: exp.ID,
		Attempted:     false,
		Action:        schemas.ActionObserve,
		Cause:         schemas.CauseTimeout,
		Reason:        globalTimeoutReason,
		StartedAt:     now,
		EndedAt:       now,
	}
}

// persist stages findings.json and the run summary.
func (r *Runner) persist(summary *Summary) error {
	findingsData, err := marshalIndent(summary.Findings)
	if err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}
	if err := r.pipeline.WriteArtifact("findings.json", findingsData); err != nil {
		return err
	}

	summaryData, err := marshalIndent(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	return r.pipeline.WriteArtifact("run_summary.json", summaryData)
}

// abort rolls the run back and returns the triggering error. Rollback
// failures are logged, not stacked on top of the cause.
func (r *Runner) abort(summary *Summary, cause error) error {
	summary.EndedAt = time.Now().UTC()
	if r.pipeline.State() == artifacts.StatusStaging {
		if rbErr := r.pipeline.Rollback(cause); rbErr != nil {
			r.logger.Error("Rollback failed.", zap.Error(rbErr))
		}
	}
	return cause
}
