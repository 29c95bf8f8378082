// Package artifacts guarantees that a run's persisted outputs are either
// complete and checksum-verified or visibly poisoned. The pipeline is a
// state machine over one run's artifact directory: INIT -> STAGING ->
// {COMMITTED | ROLLED_BACK}. Partial commits are structurally impossible:
// every staged file is hashed, re-verified, and moved with one atomic rename
// per file, and the poison marker only disappears after the last rename.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the pipeline state.
type Status string

const (
	StatusInit       Status = "INIT"
	StatusStaging    Status = "STAGING"
	StatusCommitted  Status = "COMMITTED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Reserved filenames.
const (
	PoisonMarkerName = ".poison-marker.json"
	ManifestName     = "integrity.manifest.json"
	LedgerName       = "ledger.json"
	stagingDirName   = ".staging"
)

// ErrNotWhitelisted means a write targeted a filename outside the artifact
// contract. This is a hard error; nothing is written elsewhere.
var ErrNotWhitelisted = errors.New("artifact filename not whitelisted")

// ErrChecksumMismatch means a staged file no longer matches its own manifest
// entry. Commit aborts before any rename.
var ErrChecksumMismatch = errors.New("artifact checksum verification failed")

// ErrBadState means a pipeline method was called out of order.
var ErrBadState = errors.New("artifact pipeline state violation")

// whitelist is the closed set of artifact names a run may produce.
var whitelist = []*regexp.Regexp{
	regexp.MustCompile(`^exp_\d+_before\.png$`),
	regexp.MustCompile(`^exp_\d+_after\.png$`),
	regexp.MustCompile(`^exp_\d+_dom_diff\.json$`),
	regexp.MustCompile(`^exp_\d+_network\.json$`),
	regexp.MustCompile(`^exp_\d+_console_errors\.json$`),
	regexp.MustCompile(`^findings\.json$`),
	regexp.MustCompile(`^run_summary\.json$`),
}

// Whitelisted reports whether name is a permitted artifact filename.
func Whitelisted(name string) bool {
	for _, re := range whitelist {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// poisonMarker signals "run incomplete" by its mere presence.
type poisonMarker struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
}

// manifest is the integrity record committed alongside the artifacts.
type manifest struct {
	Checksums   map[string]string `json:"checksums"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Errors      []string          `json:"errors"`
}

// ledgerEntry records one rollback in the run-level ledger.
type ledgerEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Status    string            `json:"status"`
	Error     string            `json:"error"`
	Stack     string            `json:"stack"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Pipeline owns one run's artifact directory. Not safe for concurrent use;
// a run is single-threaded by design.
type Pipeline struct {
	runDir     string
	stagingDir string
	version    string
	logger     *zap.Logger
	state      Status

	// checksumFn computes the digest of one staged file. Tests swap it to
	// corrupt an artifact between the hashing and verification passes.
	checksumFn func(path string) (string, error)
}

// New creates a pipeline for a run directory. Nothing touches the disk
// until Begin.
func New(runDir, version string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		runDir:     runDir,
		stagingDir: filepath.Join(runDir, stagingDirName),
		version:    version,
		logger:     logger.Named("artifacts"),
		state:      StatusInit,
		checksumFn: fileChecksum,
	}
}

// State returns the current pipeline state.
func (p *Pipeline) State() Status { return p.state }

// StagingDir is where all artifact writes go while the run is live.
func (p *Pipeline) StagingDir() string { return p.stagingDir }

// Begin creates the run and staging directories and writes the poison
// marker. From this moment the run is visibly incomplete until Commit.
func (p *Pipeline) Begin() error {
	if p.state != StatusInit {
		return fmt.Errorf("%w: Begin called in state %s", ErrBadState, p.state)
	}
	if err := os.MkdirAll(p.stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	marker := poisonMarker{
		Timestamp: time.Now().UTC(),
		Version:   p.version,
		Status:    "in-progress",
	}
	data, err := jsonx.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode poison marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.runDir, PoisonMarkerName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write poison marker: %w", err)
	}
	p.state = StatusStaging
	p.logger.Info("Artifact staging opened.", zap.String("dir", p.stagingDir))
	return nil
}

// WriteArtifact writes one named artifact into staging. Non-whitelisted
// names are a hard error, never a silent redirect.
func (p *Pipeline) WriteArtifact(name string, data []byte) error {
	if p.state != StatusStaging {
		return fmt.Errorf("%w: WriteArtifact called in state %s", ErrBadState, p.state)
	}
	if !Whitelisted(name) {
		return fmt.Errorf("%w: %q", ErrNotWhitelisted, name)
	}
	if err := os.WriteFile(filepath.Join(p.stagingDir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to stage artifact %s: %w", name, err)
	}
	return nil
}

// Commit verifies and publishes the staged artifacts: hash every file,
// write the manifest, re-verify every file against its manifest entry, then
// move each file into the run directory with an atomic rename. The poison
// marker is removed only after every rename has succeeded. Any verification
// failure aborts before the first rename.
func (p *Pipeline) Commit() error {
	if p.state != StatusStaging {
		return fmt.Errorf("%w: Commit called in state %s", ErrBadState, p.state)
	}

	names, err := p.stagedFiles()
	if err != nil {
		return err
	}

	m := manifest{
		Checksums:   make(map[string]string, len(names)),
		GeneratedAt: time.Now().UTC(),
		Errors:      []string{},
	}
	for _, name := range names {
		sum, err := p.checksumFn(filepath.Join(p.stagingDir, name))
		if err != nil {
			return fmt.Errorf("failed to checksum staged artifact %s: %w", name, err)
		}
		m.Checksums[name] = sum
	}

	// Re-read and compare. Catches corruption between staging and
	// verification; a mismatch here means the disk lied.
	for _, name := range names {
		sum, err := p.checksumFn(filepath.Join(p.stagingDir, name))
		if err != nil {
			return fmt.Errorf("%w: %s unreadable on verify: %v", ErrChecksumMismatch, name, err)
		}
		if sum != m.Checksums[name] {
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, name)
		}
	}

	manifestData, err := jsonx.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.runDir, ManifestName), manifestData, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	for _, name := range names {
		src := filepath.Join(p.stagingDir, name)
		dst := filepath.Join(p.runDir, name)
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("failed to publish artifact %s: %w", name, err)
		}
	}

	if err := os.Remove(filepath.Join(p.runDir, PoisonMarkerName)); err != nil {
		return fmt.Errorf("failed to remove poison marker: %w", err)
	}
	_ = os.Remove(p.stagingDir)

	p.state = StatusCommitted
	p.logger.Info("Artifacts committed.", zap.Int("count", len(names)), zap.String("dir", p.runDir))
	return nil
}

// Rollback records the failure in the ledger and deletes the staged files.
// The poison marker stays: a poisoned run must never be read as valid later.
func (p *Pipeline) Rollback(cause error) error {
	if p.state != StatusStaging {
		return fmt.Errorf("%w: Rollback called in state %s", ErrBadState, p.state)
	}

	entry := ledgerEntry{
		Timestamp: time.Now().UTC(),
		Status:    string(StatusRolledBack),
		Stack:     string(debug.Stack()),
		Metadata:  map[string]string{"version": p.version},
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := p.appendLedger(entry); err != nil {
		p.logger.Error("Failed to append rollback ledger entry.", zap.Error(err))
	}

	if err := os.RemoveAll(p.stagingDir); err != nil {
		return fmt.Errorf("failed to delete staged files: %w", err)
	}

	p.state = StatusRolledBack
	p.logger.Warn("Run rolled back; poison marker retained.",
		zap.String("dir", p.runDir), zap.NamedError("cause", cause))
	return nil
}

// stagedFiles lists the staged artifact names, enforcing the whitelist on
// everything found there.
func (p *Pipeline) stagedFiles() ([]string, error) {
	entries, err := os.ReadDir(p.stagingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			return nil, fmt.Errorf("%w: unexpected directory %q in staging", ErrNotWhitelisted, e.Name())
		}
		if !Whitelisted(e.Name()) {
			return nil, fmt.Errorf("%w: %q found in staging", ErrNotWhitelisted, e.Name())
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// appendLedger appends one entry to the run-level ledger file.
func (p *Pipeline) appendLedger(entry ledgerEntry) error {
	path := filepath.Join(p.runDir, LedgerName)
	var entries []ledgerEntry
	if data, err := os.ReadFile(path); err == nil {
		if err := jsonx.Unmarshal(data, &entries); err != nil {
			// A corrupt ledger must not block recording the failure.
			p.logger.Warn("Ledger unreadable; starting a fresh one.", zap.Error(err))
			entries = nil
		}
	}
	entries = append(entries, entry)
	data, err := jsonx.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fileChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
