// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/shadowshift/internal/draft"
	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/sources"
	"github.com/user/shadowshift/internal/thread"
	"github.com/user/shadowshift/internal/types"
)

// Drafter writes a reply for a serialized thread state.
type Drafter interface {
	Draft(ctx context.Context, state string, source types.Source, opts draft.Options) (draft.Result, error)
}

// Predictor labels a state with the action to take.
type Predictor interface {
	PredictWithThreshold(state string, threshold float64) (types.Prediction, error)
}

// Config tunes a poll cycle.
type Config struct {
	// Window is the number of trailing events serialized per thread.
	Window int
	// DraftConcurrency bounds parallel drafts within one source.
	DraftConcurrency int
	// MaxWords is passed to the drafter.
	MaxWords int
	// Threshold is the confidence below which predictions become ask_clarification.
	Threshold float64
}

// DefaultConfig matches the interactive defaults.
func DefaultConfig() Config {
	return Config{Window: thread.DefaultWindow, DraftConcurrency: 4, MaxWords: draft.PollWords, Threshold: 0.5}
}

// Orchestrator runs poll cycles: fetch every source concurrently, group
// records into threads, serialize each thread and draft a reply.
//
// At most one cycle runs at a time. Stats and the last-records cache are
// replaced as whole values under a lock that is never held across a fetch,
// draft or delivery call; readers get copies.
type Orchestrator struct {
	sources    []sources.Source
	drafter    Drafter
	predictor  Predictor
	sink       types.Sink
	normalizer *normalize.Normalizer
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time

	running atomic.Bool

	mu    sync.RWMutex
	stats Stats
	last  map[types.Source][]normalize.Record
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPredictor attaches an action classifier to each suggestion.
func WithPredictor(p Predictor) Option {
	return func(o *Orchestrator) { o.predictor = p }
}

// WithSink delivers each suggestion as it is drafted.
func WithSink(s types.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(o *Orchestrator) { o.normalizer = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over srcs.
func New(srcs []sources.Source, drafter Drafter, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Window < 1 {
		cfg.Window = thread.DefaultWindow
	}
	if cfg.DraftConcurrency < 1 {
		cfg.DraftConcurrency = 1
	}
	o := &Orchestrator{
		sources: srcs,
		drafter: drafter,
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
		stats:   Stats{Status: StatusIdle},
		last:    map[types.Source][]normalize.Record{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.normalizer == nil {
		o.normalizer = &normalize.Normalizer{Now: o.now}
	}
	return o
}

// Sources returns the configured source kinds in processing order.
func (o *Orchestrator) Sources() []types.Source {
	out := make([]types.Source, 0, len(o.sources))
	for _, s := range o.sources {
		out = append(out, s.Kind())
	}
	return out
}

// Running reports whether a cycle is active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastRunStats returns a copy of the current or most recent cycle's stats.
func (o *Orchestrator) LastRunStats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats.clone()
}

// LastEvents returns a copy of the records fetched by the most recent cycle,
// per source. Records are never mutated after fetch.
func (o *Orchestrator) LastEvents() map[types.Source][]normalize.Record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[types.Source][]normalize.Record, len(o.last))
	for k, v := range o.last {
		out[k] = slices.Clone(v)
	}
	return out
}

// ThreadEvents returns the normalized, time-ordered events of one thread from
// the most recent cycle.
func (o *Orchestrator) ThreadEvents(source types.Source, threadID string) ([]types.Event, bool) {
	records := o.LastEvents()[source]
	var out []types.Event
	for _, ev := range o.normalizer.NormalizeAll(records) {
		if ev.ThreadID == threadID {
			out = append(out, ev)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	thread.Sort(out)
	return out, true
}

type fetchResult struct {
	kind    types.Source
	records []normalize.Record
	err     error
}

type threadResult struct {
	drafted bool
	errs    []string
}

// RunOnce runs one full cycle and returns its stats. Fetch and draft failures
// are recorded in the stats rather than returned. The only error is
// ErrCycleInProgress when another cycle is active.
func (o *Orchestrator) RunOnce(ctx context.Context) (Stats, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Stats{}, types.ErrCycleInProgress
	}
	defer o.running.Store(false)

	run := Stats{
		RunID:     types.NewRunID(),
		Status:    StatusRunning,
		StartedAt: o.now().UTC(),
		Found:     make(map[types.Source]int, len(o.sources)),
	}
	for _, s := range o.sources {
		run.Found[s.Kind()] = 0
	}
	o.publish(run, nil)
	o.logger.Info("poll cycle started", zap.String("run_id", string(run.RunID)))

	fetched := o.fetchAll(ctx)

	last := make(map[types.Source][]normalize.Record, len(fetched))
	for _, f := range fetched {
		if f.err != nil {
			run.Errors = append(run.Errors, (&types.SourceFetchError{Source: f.kind, Err: f.err}).Error())
		}
		last[f.kind] = append(last[f.kind], f.records...)
		run.Found[f.kind] += len(f.records)
	}
	o.publish(run, last)

	for _, f := range fetched {
		drafted, errs := o.draftSource(ctx, run.RunID, f.kind, f.records)
		run.Drafted += drafted
		run.Errors = append(run.Errors, errs...)
	}

	run.FinishedAt = o.now().UTC()
	run.Status = StatusCompleted
	if len(run.Errors) > 0 {
		run.Status = StatusCompletedWithErrors
	}
	o.publish(run, nil)

	o.logger.Info("poll cycle finished",
		zap.String("run_id", string(run.RunID)),
		zap.String("status", string(run.Status)),
		zap.Int("drafted", run.Drafted),
		zap.Int("errors", len(run.Errors)),
		zap.Duration("duration", run.Duration()))
	return run.clone(), nil
}

// publish replaces the shared stats, and the cache when last is non-nil.
func (o *Orchestrator) publish(run Stats, last map[types.Source][]normalize.Record) {
	snapshot := run.clone()
	o.mu.Lock()
	o.stats = snapshot
	if last != nil {
		o.last = maps.Clone(last)
	}
	o.mu.Unlock()
}

// fetchAll fetches every source in parallel. Results keep source order.
func (o *Orchestrator) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(o.sources))
	var g errgroup.Group
	for i, src := range o.sources {
		g.Go(func() error {
			res := fetchResult{kind: src.Kind()}
			defer func() {
				if r := recover(); r != nil {
					res.records = nil
					res.err = fmt.Errorf("panic: %v", r)
				}
				results[i] = res
			}()
			res.records, res.err = src.Fetch(ctx)
			if res.err != nil {
				res.records = nil
				o.logger.Warn("source fetch failed", zap.String("source", string(res.kind)), zap.Error(res.err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// draftSource drafts one reply per thread of a source. Threads keep the order
// of their first record; errors are returned in that order.
func (o *Orchestrator) draftSource(ctx context.Context, runID types.RunID, kind types.Source, records []normalize.Record) (int, []string) {
	if len(records) == 0 {
		return 0, nil
	}
	groups := thread.GroupByThread(o.normalizer.NormalizeAll(records))
	results := make([]threadResult, len(groups))

	var g errgroup.Group
	g.SetLimit(o.cfg.DraftConcurrency)
	for i, grp := range groups {
		g.Go(func() error {
			results[i] = o.draftThread(ctx, runID, kind, grp)
			return nil
		})
	}
	_ = g.Wait()

	drafted := 0
	var errs []string
	for _, r := range results {
		if r.drafted {
			drafted++
		}
		errs = append(errs, r.errs...)
	}
	return drafted, errs
}

func (o *Orchestrator) draftThread(ctx context.Context, runID types.RunID, kind types.Source, grp thread.Group) (res threadResult) {
	fail := func(err error) threadResult {
		de := &types.DraftError{Source: kind, ThreadID: grp.ThreadID, Err: err}
		o.logger.Warn("draft failed", zap.String("source", string(kind)), zap.String("thread_id", grp.ThreadID), zap.Error(err))
		return threadResult{errs: []string{de.Error()}}
	}
	defer func() {
		if r := recover(); r != nil {
			res = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	events := slices.Clone(grp.Events)
	thread.Sort(events)
	state, err := thread.Serialize(events, o.cfg.Window)
	if err != nil {
		return fail(err)
	}

	sug := &types.Suggestion{
		ID:        types.NewSuggestionID(),
		RunID:     runID,
		Source:    kind,
		ThreadID:  grp.ThreadID,
		State:     state,
		CreatedAt: o.now().UTC(),
	}
	if o.predictor != nil {
		p, err := o.predictor.PredictWithThreshold(state, o.cfg.Threshold)
		switch {
		case err == nil:
			sug.Action, sug.Confidence = p.Action, p.Confidence
		case errors.Is(err, types.ErrNotFitted):
		default:
			o.logger.Debug("predict failed", zap.String("thread_id", grp.ThreadID), zap.Error(err))
		}
	}

	d, err := o.drafter.Draft(ctx, state, kind, draft.Options{MaxWords: o.cfg.MaxWords})
	if err != nil {
		return fail(err)
	}
	sug.Subject, sug.Body, sug.Model = d.Subject, d.Body, d.Model
	res.drafted = true

	if o.sink != nil {
		if err := o.sink.Deliver(ctx, sug); err != nil {
			res.errs = append(res.errs, fmt.Sprintf("%s:%s:deliver:%v", kind, grp.ThreadID, err))
			o.logger.Warn("delivery failed", zap.String("thread_id", grp.ThreadID), zap.Error(err))
		}
	}
	return res
}
