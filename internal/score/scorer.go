package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lemon07r/tally/internal/compliance"
	"github.com/lemon07r/tally/internal/config"
	errsummary "github.com/lemon07r/tally/internal/errors"
	"github.com/lemon07r/tally/internal/functional"
	"github.com/lemon07r/tally/internal/gate"
	"github.com/lemon07r/tally/internal/result"
	"github.com/lemon07r/tally/internal/runner"
	"github.com/lemon07r/tally/internal/task"
	"github.com/lemon07r/tally/internal/visual"
)

// Scorer runs the full scoring pipeline against a workspace.
type Scorer struct {
	cfg         *config.Config
	exec        runner.Executor
	judge       compliance.Judge
	categorizer *errsummary.Categorizer
	logger      *slog.Logger
}

// NewScorer creates a scorer. judge may be nil to skip rubric criteria.
func NewScorer(cfg *config.Config, exec runner.Executor, judge compliance.Judge, logger *slog.Logger) (*Scorer, error) {
	extra := make([]errsummary.Category, 0, len(cfg.FailureCategories))
	for _, rule := range cfg.FailureCategories {
		cat, err := errsummary.ParseCategory(rule.Name, rule.Pattern)
		if err != nil {
			return nil, err
		}
		extra = append(extra, cat)
	}
	return &Scorer{
		cfg:         cfg,
		exec:        exec,
		judge:       judge,
		categorizer: errsummary.NewCategorizer(extra...),
		logger:      logger,
	}, nil
}

// Request describes one scoring run.
type Request struct {
	Workspace string
	Task      *task.Spec
	// TaskDir resolves a relative visual reference image before the workspace does.
	TaskDir  string
	Snapshot *Snapshot
	RunID    string
	// RunIncomplete, when set, fails run_completed with this reason.
	RunIncomplete string
	// AllowNoBaseline passes stack_integrity when neither a snapshot nor
	// task baseline_scripts exist.
	AllowNoBaseline bool
}

// Score runs gates, functional, coverage, compliance, requirements and
// visual evaluation, then combines them. Task failures are recorded in the
// scorecard; an error means scoring itself could not finish.
func (s *Scorer) Score(ctx context.Context, req Request) (*result.Scorecard, error) {
	spec := req.Task
	if spec == nil {
		return nil, errors.New("no task specification")
	}
	workspace, err := filepath.Abs(req.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", workspace)
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := s.logger.With("run_id", runID, "task", spec.Name)
	started := time.Now().UTC()

	v := spec.Verification
	gates := gate.NewWatcher(s.exec, s.categorizer, gate.Options{
		Timeout:         config.Seconds(s.cfg.Timeouts.Gate),
		MaxOutputLength: s.cfg.Scoring.MaxOutputLength,
	}, logger)
	history, err := gates.Run(ctx, workspace, v.Gates, v.MaxGateFailures)
	if err != nil {
		return nil, fmt.Errorf("running gates: %w", err)
	}

	fn, err := functional.NewEvaluator(s.exec, functional.Options{
		BuildCommand:    FirstNonEmpty(v.BuildCommand, s.cfg.Scoring.BuildCommand),
		TestCommand:     FirstNonEmpty(v.TestCommand, s.cfg.Scoring.TestCommand),
		TolerateNoTests: v.TolerateNoTests || s.cfg.Scoring.TolerateNoTests,
		BuildTimeout:    config.Seconds(s.cfg.Timeouts.Build),
		TestTimeout:     config.Seconds(s.cfg.Timeouts.Test),
		MaxOutputLength: s.cfg.Scoring.MaxOutputLength,
	}, logger).Evaluate(ctx, workspace, history, len(v.Gates))
	if err != nil {
		return nil, err
	}

	coverage := functional.EvaluateCoverage(workspace, s.cfg.Scoring.CoverageSummary, history, v.CoverageThreshold)

	dirs := FirstNonEmpty(spec.Source.Dirs, s.cfg.Scoring.SourceDirs)
	exts := FirstNonEmpty(spec.Source.Extensions, s.cfg.Scoring.SourceExtensions)
	comp := compliance.NewEvaluator(compliance.Options{
		SourceDirs:  dirs,
		Extensions:  exts,
		TestMarkers: s.cfg.Scoring.TestFileMarkers,
	}, s.judge, logger)
	compRes, err := comp.Evaluate(ctx, workspace, spec.Compliance)
	if err != nil {
		return nil, fmt.Errorf("evaluating compliance: %w", err)
	}
	reqs, err := comp.MapRequirements(workspace, spec.Compliance.Requirements)
	if err != nil {
		return nil, fmt.Errorf("mapping requirements: %w", err)
	}

	var vis *visual.Result
	if spec.Visual != nil {
		vis, err = s.scoreVisual(ctx, logger, workspace, req.TaskDir, spec.Visual)
		if err != nil {
			return nil, err
		}
	}

	eff := Efficiency(history)
	weights := spec.Weights.Effective(spec.Visual != nil)
	dims := Dimensions{
		Functional: fn.Score,
		Compliance: compRes.Score,
		Efficiency: eff.Score,
	}
	if vis != nil {
		dims.Visual = vis.Similarity
	}
	quality := Quality(dims, weights)

	integrity, err := StackIntegrity(workspace, req.Snapshot, spec)
	if err != nil {
		return nil, fmt.Errorf("checking stack integrity: %w", err)
	}
	if integrity.BaselineSource == BaselineNone && req.AllowNoBaseline {
		integrity.Passed = true
		integrity.Detail = "no baseline available, check waived"
	}
	audit, err := Audit(workspace, req.Snapshot, dirs, exts)
	if err != nil {
		return nil, fmt.Errorf("auditing scaffold: %w", err)
	}

	checks := Qualify(QualificationInput{
		RunIncomplete:   req.RunIncomplete,
		History:         history,
		GatesConfigured: len(v.Gates),
		Functional:      fn,
		Coverage:        coverage,
		Visual:          vis,
		Requirements:    reqs,
		Quality:         quality,
		MinQuality:      v.MinQualityScore,
		Integrity:       integrity,
	})

	sc := &result.Scorecard{
		RunID:            runID,
		Task:             spec.Name,
		TaskFingerprint:  spec.Fingerprint(),
		ScoringVersion:   task.ScoringVersion,
		StartedAt:        started,
		CompletedAt:      time.Now().UTC(),
		QualityScore:     quality,
		Reward:           Reward(quality, checks),
		Functional:       *fn,
		Compliance:       *compRes,
		Visual:           vis,
		Efficiency:       eff,
		Coverage:         coverage,
		Requirements:     *reqs,
		Qualification:    checks,
		EffectiveWeights: weights,
		GateSummary:      history.Summarize(len(v.Gates)),
		GateHistory:      history,
		StackIntegrity:   integrity,
		ScaffoldAudit:    audit,
	}
	if sc.GateHistory == nil {
		sc.GateHistory = gate.History{}
	}

	logger.Info("scoring finished",
		"quality", sc.QualityScore,
		"reward", sc.Reward,
		"failed_checks", sc.FailedChecks())
	return sc, nil
}

func (s *Scorer) scoreVisual(ctx context.Context, logger *slog.Logger, workspace, taskDir string, v *task.Visual) (*visual.Result, error) {
	actual := v.ActualImage
	if actual == "" {
		actual = s.cfg.Visual.ActualImage
	}
	scorer := visual.NewScorer(s.exec, visual.Options{
		CompareCommand:     s.cfg.Visual.CompareCommand,
		AntialiasThreshold: s.cfg.Visual.AntialiasThreshold,
		CaptureTimeout:     config.Seconds(s.cfg.Timeouts.Screenshot),
		CompareTimeout:     config.Seconds(s.cfg.Timeouts.Compare),
	}, logger)
	res, err := scorer.Score(ctx, visual.Request{
		Workspace:         workspace,
		ReferenceImage:    ResolveReference(v.ReferenceImage, taskDir, workspace),
		ScreenshotCommand: v.ScreenshotCommand,
		ActualImage:       actual,
		DiffImage:         s.cfg.Visual.DiffImage,
		Threshold:         v.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("scoring visual: %w", err)
	}
	return res, nil
}

// ResolveReference returns an absolute reference image path. Relative paths
// are looked up in taskDir first, then in the workspace.
func ResolveReference(ref, taskDir, workspace string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	if taskDir != "" {
		p := filepath.Join(taskDir, ref)
		if _, err := os.Stat(p); err == nil {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return filepath.Join(workspace, ref)
}

// FirstNonEmpty returns a unless it is empty, then b. Task settings override
// config defaults this way.
func FirstNonEmpty(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}
