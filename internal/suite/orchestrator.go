package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lemon07r/tally/internal/result"
	"github.com/lemon07r/tally/internal/task"
)

// Attempt identifies one execution of one repeat.
type Attempt struct {
	SuiteID     string
	RepeatIndex int
	Number      int // 1 for the initial attempt, 2 for the retry
	RunID       string
}

// Outcome is what a substrate reports for an attempt. Completed false or a
// non-empty Fault marks an infrastructure fault; a scorecard with failing
// checks is a legitimate result.
type Outcome struct {
	Workspace string
	Completed bool
	Fault     string
	Scorecard *result.Scorecard
}

// Substrate executes an agent attempt in an isolated workspace and scores it.
// An error is treated as an infrastructure fault of that attempt.
type Substrate interface {
	Execute(ctx context.Context, a Attempt) (Outcome, error)
}

// Options configures a suite.
type Options struct {
	SuiteID   string // Generated from the start time when empty
	Task      *task.Spec
	Harness   string
	Model     string
	Repeats   int
	Parallel  int
	RetryVoid bool
	Timeout   time.Duration // Suite-wide, 0 disables
	OutputDir string        // Scorecards are saved here when set
}

// Orchestrator runs the repeats of a suite.
type Orchestrator struct {
	substrate Substrate
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an orchestrator.
func New(substrate Substrate, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Repeats <= 0 {
		opts.Repeats = 1
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	return &Orchestrator{substrate: substrate, opts: opts, logger: logger, now: time.Now}
}

// Run executes the initial batch, then one retry batch for voided repeats
// when retries are enabled. Cancellation voids every repeat not yet scored
// with reason suite_timeout; the returned record is complete either way.
func (o *Orchestrator) Run(ctx context.Context) (*result.SuiteRecord, error) {
	if o.opts.Task == nil {
		return nil, errors.New("no task specification")
	}
	created := o.now().UTC()

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	id := o.opts.SuiteID
	if id == "" {
		id = result.SuiteID(created, o.opts.Task.Name, o.opts.Harness, o.opts.Model, o.opts.Repeats)
	}
	rec := &result.SuiteRecord{
		SuiteID:         id,
		Task:            o.opts.Task.Name,
		TaskFingerprint: o.opts.Task.Fingerprint(),
		Harness:         o.opts.Harness,
		Model:           o.opts.Model,
		Repeats:         o.opts.Repeats,
		Parallel:        o.opts.Parallel,
		RetryVoid:       o.opts.RetryVoid,
		Runs:            make([]result.RunRecord, o.opts.Repeats),
		CreatedAt:       created,
	}
	for i := range rec.Runs {
		rec.Runs[i] = result.RunRecord{
			RepeatIndex: i + 1,
			State:       result.StatePending,
			VoidReasons: []string{},
			Attempts:    []result.AttemptRecord{},
		}
	}
	logger := o.logger.With("suite", rec.SuiteID)
	logger.Info("suite started", "repeats", o.opts.Repeats, "parallel", o.opts.Parallel, "retry_void", o.opts.RetryVoid)

	all := make([]int, len(rec.Runs))
	for i := range all {
		all[i] = i
	}
	if err := o.batch(ctx, logger, rec, all, 1); err != nil {
		return nil, err
	}

	var voided []int
	for i := range rec.Runs {
		if rec.Runs[i].State == result.StateVoided {
			voided = append(voided, i)
		}
	}
	if len(voided) > 0 && o.opts.RetryVoid && ctx.Err() == nil {
		logger.Info("retrying voided repeats", "count", len(voided))
		if err := o.batch(ctx, logger, rec, voided, 2); err != nil {
			return nil, err
		}
	}

	for i := range rec.Runs {
		r := &rec.Runs[i]
		if r.State == result.StateVoided {
			if err := transition(r, result.StateVoidedFinal); err != nil {
				return nil, err
			}
		}
	}

	rec.Cancelled = ctx.Err() != nil
	rec.Aggregate = Aggregate(rec.Runs)
	rec.Retry = Retry(rec.Runs, o.opts.Repeats)
	rec.CompletedAt = o.now().UTC()

	logger.Info("suite finished",
		"scored", rec.Retry.AchievedScoredRuns,
		"voids", rec.Aggregate.VoidCount,
		"unresolved", rec.Retry.UnresolvedVoidCount,
		"target_met", rec.Retry.TargetMet)
	return rec, nil
}

// batch runs one attempt for each listed repeat, bounded by Parallel. Each
// goroutine owns exactly one RunRecord slot, and a repeat index appears at
// most once per batch, so attempts of the same repeat never overlap.
func (o *Orchestrator) batch(ctx context.Context, logger *slog.Logger, rec *result.SuiteRecord, indices []int, number int) error {
	sem := semaphore.NewWeighted(int64(o.opts.Parallel))
	var g errgroup.Group

	for _, idx := range indices {
		r := &rec.Runs[idx]
		if err := sem.Acquire(ctx, 1); err != nil {
			if verr := o.voidUnstarted(r, number, VoidSuiteTimeout); verr != nil {
				return verr
			}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			return o.attempt(ctx, logger, rec.SuiteID, r, number)
		})
	}
	return g.Wait()
}

// voidUnstarted records a repeat that never got to run.
func (o *Orchestrator) voidUnstarted(r *result.RunRecord, number int, reason string) error {
	now := o.now().UTC()
	if number > 1 {
		if err := transition(r, result.StateRetried); err != nil {
			return err
		}
		r.RetriesUsed++
		if err := transition(r, result.StateVoidedFinal); err != nil {
			return err
		}
	} else if err := transition(r, result.StateVoided); err != nil {
		return err
	}
	r.Attempt = number
	r.VoidReasons = []string{reason}
	r.Attempts = append(r.Attempts, result.AttemptRecord{
		Attempt:     number,
		Voided:      true,
		VoidReasons: []string{reason},
		Fault:       "suite cancelled before the attempt started",
		StartedAt:   now,
		CompletedAt: now,
	})
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	r.CompletedAt = now
	return nil
}

func (o *Orchestrator) attempt(ctx context.Context, logger *slog.Logger, suiteID string, r *result.RunRecord, number int) error {
	if ctx.Err() != nil {
		return o.voidUnstarted(r, number, VoidSuiteTimeout)
	}

	next := result.StateRunning
	if number > 1 {
		next = result.StateRetried
		r.RetriesUsed++
	}
	if err := transition(r, next); err != nil {
		return err
	}

	a := Attempt{SuiteID: suiteID, RepeatIndex: r.RepeatIndex, Number: number, RunID: uuid.NewString()}
	started := o.now().UTC()
	if r.StartedAt.IsZero() {
		r.StartedAt = started
	}
	r.RunID = a.RunID
	r.Attempt = number

	log := logger.With("repeat", r.RepeatIndex, "attempt", number, "run_id", a.RunID)
	log.Info("attempt started")

	out, err := o.substrate.Execute(ctx, a)
	completed := o.now().UTC()
	reasons, fault := voidReasons(ctx, out, err)

	r.Workspace = out.Workspace
	r.Scorecard = out.Scorecard
	r.CompletedAt = completed
	r.Attempts = append(r.Attempts, result.AttemptRecord{
		Attempt:     number,
		RunID:       a.RunID,
		Workspace:   out.Workspace,
		Voided:      len(reasons) > 0,
		VoidReasons: reasons,
		Fault:       fault,
		StartedAt:   started,
		CompletedAt: completed,
	})

	if out.Scorecard != nil && o.opts.OutputDir != "" {
		dir := filepath.Join(o.opts.OutputDir, "runs", fmt.Sprintf("repeat-%02d-attempt-%d", r.RepeatIndex, number))
		if serr := out.Scorecard.Save(dir); serr != nil {
			log.Warn("failed to save scorecard", "error", serr)
		}
	}

	if len(reasons) == 0 {
		r.VoidReasons = []string{}
		log.Info("attempt scored", "reward", out.Scorecard.Reward, "quality", out.Scorecard.QualityScore)
		return transition(r, result.StateScored)
	}

	r.VoidReasons = reasons
	log.Warn("attempt voided", "reasons", reasons, "fault", fault)
	if number > 1 {
		return transition(r, result.StateVoidedFinal)
	}
	return transition(r, result.StateVoided)
}

// voidReasons decides whether an attempt is void. Task failures recorded in
// the scorecard never void a run; only the substrate's fault signal, command
// timeouts, and cancellation do.
func voidReasons(ctx context.Context, out Outcome, err error) ([]string, string) {
	if ctx.Err() != nil && (err != nil || !out.Completed || out.Scorecard == nil) {
		return []string{VoidSuiteTimeout}, ctx.Err().Error()
	}
	if err != nil {
		reasons := ClassifyVoid(err.Error())
		if len(reasons) == 1 && reasons[0] == VoidInfrastructureFault {
			reasons = []string{VoidSubstrateException}
		}
		return reasons, err.Error()
	}
	if !out.Completed || out.Fault != "" {
		fault := out.Fault
		if fault == "" {
			fault = "run did not complete"
		}
		return ClassifyVoid(fault), fault
	}
	if out.Scorecard == nil {
		return []string{VoidInfrastructureFault}, "no scorecard produced"
	}
	if what, ok := timedOut(out.Scorecard); ok {
		return []string{VoidCommandTimeout}, what + " timed out"
	}
	return nil, ""
}

func timedOut(sc *result.Scorecard) (string, bool) {
	if ev, ok := sc.GateHistory.TimedOut(); ok {
		return "gate " + ev.GateName, true
	}
	if sc.Functional.CommandTimedOut {
		return "build or test command", true
	}
	if sc.Visual != nil && sc.Visual.CommandTimedOut {
		return "visual command", true
	}
	return "", false
}
