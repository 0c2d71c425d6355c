package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNoTargets aborts a run when the configuration yields nothing to do.
var ErrNoTargets = errors.New("no targets configured")

type RunnerConfig struct {
	// DataDir is the root of all monitor state: snapshots/, history/,
	// targets/ and targets_summary.json live under it.
	DataDir string

	// MaxWorkers caps concurrent trial processing within one target.
	MaxWorkers int

	// ItemTimeout bounds one trial's fetch+process. Zero disables it.
	ItemTimeout time.Duration

	// GroupTimeout bounds one whole target. On expiry the target is
	// finalized with whatever completed. Zero disables it.
	GroupTimeout time.Duration

	// Watchlist selects the fixed-field fallback detector instead of the
	// full structural diff.
	Watchlist bool

	// RunLogPath is the SQLite run-log location. Empty disables it.
	RunLogPath string
}

// Runner drives the fetch → detect → ledger → snapshot pipeline across
// all targets of a run.
type Runner struct {
	cfg       RunnerConfig
	fetcher   Fetcher
	snapshots *SnapshotStore
	ledger    *Ledger
	detector  *Detector
	runlog    *RunLog
	logger    *logrus.Logger
	now       func() time.Time
}

func NewRunner(cfg RunnerConfig, fetcher Fetcher, logger *logrus.Logger) (*Runner, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}

	snapshots := NewSnapshotStore(filepath.Join(cfg.DataDir, "snapshots"))
	var strategy DiffStrategy = StructuralDiff{}
	if cfg.Watchlist {
		strategy = WatchlistDiff{}
	}
	logger.WithField("detector", strategy.Name()).Info("change detection configured")

	r := &Runner{
		cfg:       cfg,
		fetcher:   fetcher,
		snapshots: snapshots,
		ledger:    NewLedger(filepath.Join(cfg.DataDir, "history"), logger),
		detector:  NewDetector(snapshots, strategy, logger),
		logger:    logger,
		now:       time.Now,
	}
	if cfg.RunLogPath != "" {
		rl, err := OpenRunLog(cfg.RunLogPath)
		if err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}
		r.runlog = rl
	}
	return r, nil
}

func (r *Runner) Close() error {
	return r.runlog.Close()
}

// RunSummary aggregates one full run.
type RunSummary struct {
	Targets int
	Trials  int
	Changed int
	Errors  int
}

// Run processes every target sequentially, writes the per-target
// artifacts and the global summary, and records the run in the run log.
// Targets are processed one at a time; parallelism lives inside a target.
func (r *Runner) Run(ctx context.Context, targets []Target) (*RunSummary, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	start := r.now()
	runID := r.runlog.BeginRun(start)
	summary := &RunSummary{}
	summaries := make([]TargetSummary, 0, len(targets))
	targetsDir := filepath.Join(r.cfg.DataDir, "targets")

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		r.logger.WithFields(logrus.Fields{
			"target": target.Name,
			"trials": len(target.Trials),
		}).Info("processing target")

		reports, raws, errs := r.ProcessTarget(ctx, target, runID)
		summary.Errors += errs

		changed := 0
		for _, rep := range reports {
			if rep.MonitorStatus == "Changed" {
				changed++
			}
		}

		if len(reports) > 0 {
			if err := WriteTargetData(targetsDir, target.Name, reports, raws); err != nil {
				summary.Errors++
				r.logger.WithField("target", target.Name).Errorf("write target data: %v", err)
			}
			if err := r.ledger.AppendGroupEvent(target.Name, reports); err != nil {
				summary.Errors++
				r.logger.WithField("target", target.Name).Errorf("append target history: %v", err)
			}
		}

		summaries = append(summaries, TargetSummary{
			Name:         target.Name,
			Description:  target.Description,
			TrialCount:   len(reports),
			ChangedCount: changed,
		})
		summary.Targets++
		summary.Trials += len(reports)
		summary.Changed += changed
	}

	if err := WriteTargetsSummary(r.cfg.DataDir, summaries); err != nil {
		summary.Errors++
		r.logger.Errorf("write targets summary: %v", err)
	}

	r.runlog.FinishRun(runID, *summary, ctx.Err())
	r.logger.WithFields(logrus.Fields{
		"targets": summary.Targets,
		"trials":  summary.Trials,
		"changed": summary.Changed,
		"errors":  summary.Errors,
		"elapsed": time.Since(start),
	}).Info("run finished")
	return summary, nil
}

// ProcessTarget fans the target's trials across a bounded worker pool and
// collects the per-trial outcomes. The returned reports are in completion
// order, not submission order. The third return value is the number of
// trials dropped by errors.
func (r *Runner) ProcessTarget(ctx context.Context, target Target, runID uint) ([]Report, []map[string]any, int) {
	gctx := ctx
	cancel := func() {}
	if r.cfg.GroupTimeout > 0 {
		gctx, cancel = context.WithTimeout(ctx, r.cfg.GroupTimeout)
	}
	defer cancel()

	type outcome struct {
		report Report
		raw    map[string]any
	}
	results := make(chan outcome, len(target.Trials))
	var errCount atomic.Int32

	g := &errgroup.Group{}
	g.SetLimit(r.cfg.MaxWorkers)
	for _, ref := range target.Trials {
		ref := ref
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			ictx := gctx
			icancel := func() {}
			if r.cfg.ItemTimeout > 0 {
				ictx, icancel = context.WithTimeout(gctx, r.cfg.ItemTimeout)
			}
			defer icancel()

			rep, raw, err := r.processTrial(ictx, target.Name, ref, runID)
			if err != nil {
				errCount.Add(1)
				r.logger.WithFields(logrus.Fields{
					"trial_id": ref.ID,
					"target":   target.Name,
				}).Warnf("trial skipped: %v", err)
				return nil
			}
			// A result arriving after the group deadline must not reach
			// this target's aggregate.
			select {
			case results <- outcome{report: *rep, raw: raw}:
			case <-gctx.Done():
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var reports []Report
	var raws []map[string]any
	collect := func(res outcome) {
		reports = append(reports, res.report)
		raws = append(raws, res.raw)
	}

	done := false
	for !done {
		select {
		case res, ok := <-results:
			if !ok {
				done = true
				break
			}
			collect(res)
		case <-gctx.Done():
			// Deadline: drain whatever settled before it, abandon the rest.
			drained := false
			for !drained {
				select {
				case res, ok := <-results:
					if !ok {
						drained = true
						break
					}
					collect(res)
				default:
					drained = true
				}
			}
			done = true
		}
	}

	if gctx.Err() != nil && ctx.Err() == nil {
		abandoned := len(target.Trials) - len(reports) - int(errCount.Load())
		if abandoned > 0 {
			r.logger.WithFields(logrus.Fields{
				"target":    target.Name,
				"abandoned": abandoned,
			}).Warn("target deadline reached, abandoning unfinished trials")
		}
	}
	return reports, raws, int(errCount.Load())
}

// processTrial runs the full per-trial pipeline. All errors are scoped to
// the trial: the caller logs them and excludes the trial from the run.
func (r *Runner) processTrial(ctx context.Context, targetName string, ref TrialRef, runID uint) (*Report, map[string]any, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	rec, fetchErr := r.fetcher.Fetch(ctx, ref.ID)
	usedSnapshot := false
	if fetchErr != nil || rec == nil {
		if fetchErr != nil {
			r.logger.WithField("trial_id", ref.ID).Infof("fetch failed, falling back to snapshot: %v", fetchErr)
		}
		prev, err := r.snapshots.Read(ref.ID)
		if err != nil {
			r.recordFetch(runID, ref.ID, targetName, start, false, false, false, fetchErr)
			return nil, nil, fmt.Errorf("no data available for %s", ref.ID)
		}
		rec = prev
		usedSnapshot = true
	}

	raw := FlattenRecord(rec)
	raw["_target"] = targetName

	outcomeKind, diff := r.detector.Compare(ref.ID, rec)
	changed := outcomeKind == DifferenceFound
	diffText := ""
	if changed {
		diffText = FormatDiff(diff)
		r.logger.WithField("trial_id", ref.ID).Info("changes found")
	}

	// Cancellation point: do not start ledger/snapshot writes past the
	// deadline.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if changed {
		if err := r.ledger.AppendRecordEvent(ref.ID, diffText); err != nil {
			return nil, nil, fmt.Errorf("append history: %w", err)
		}
	} else if len(r.ledger.ReadRecordEvents(ref.ID)) == 0 {
		r.logger.WithField("trial_id", ref.ID).Info("initializing history")
		if err := r.ledger.AppendRecordEvent(ref.ID, initialCollectionEvent); err != nil {
			return nil, nil, fmt.Errorf("initialize history: %w", err)
		}
	}

	events := r.ledger.ReadRecordEvents(ref.ID)
	rep := BuildReport(ref, targetName, rec, changed, diffText, events, r.now())

	// The snapshot is overwritten on every successful pass, changed or not.
	if err := r.snapshots.Write(ref.ID, rec); err != nil {
		return nil, nil, fmt.Errorf("write snapshot: %w", err)
	}

	r.recordFetch(runID, ref.ID, targetName, start, true, usedSnapshot, changed, fetchErr)
	return &rep, raw, nil
}

func (r *Runner) recordFetch(runID uint, trialID, targetName string, start time.Time, ok, usedSnapshot, changed bool, fetchErr error) {
	e := FetchEntry{
		RunID:        runID,
		TrialID:      trialID,
		Target:       targetName,
		FetchedAt:    start,
		OK:           ok,
		UsedSnapshot: usedSnapshot,
		Changed:      changed,
		DurationMs:   time.Since(start).Milliseconds(),
	}
	if fetchErr != nil {
		e.Error = fetchErr.Error()
	}
	r.runlog.RecordFetch(e)
}
