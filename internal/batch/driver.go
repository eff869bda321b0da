package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/andrew12-circle/circle-marketplace/internal/metrics"
)

// Client performs one page of bulk research on the remote side.
type Client interface {
	RunPage(ctx context.Context, req PageRequest) (*PageResponse, error)
}

// Defaults for Driver.
const (
	DefaultPageSize       = 10
	DefaultPageDelay      = 1000 * time.Millisecond
	DefaultEstimatedTotal = 200
)

// Observer receives every state the driver produces, in order.
type Observer func(RunState)

// Driver runs a bulk research job page by page. Only one page is in
// flight at a time.
type Driver struct {
	client         Client
	pageSize       int
	pageDelay      time.Duration
	estimatedTotal int
	sleep          func(ctx context.Context, d time.Duration) error
	observer       Observer
	now            func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithPageSize sets the number of items requested per page.
func WithPageSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.pageSize = n
		}
	}
}

// WithPageDelay sets the pause between pages.
func WithPageDelay(delay time.Duration) Option {
	return func(d *Driver) {
		if delay >= 0 {
			d.pageDelay = delay
		}
	}
}

// WithEstimatedTotal sets the item count progress is measured against.
func WithEstimatedTotal(n int) Option {
	return func(d *Driver) { d.estimatedTotal = n }
}

// WithSleep replaces the inter-page sleep. Used in tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Driver) { d.sleep = fn }
}

// WithObserver registers a callback for state changes.
func WithObserver(fn Observer) Option {
	return func(d *Driver) { d.observer = fn }
}

// NewDriver creates a Driver that calls client for each page.
func NewDriver(client Client, opts ...Option) *Driver {
	d := &Driver{
		client:         client,
		pageSize:       DefaultPageSize,
		pageDelay:      DefaultPageDelay,
		estimatedTotal: DefaultEstimatedTotal,
		sleep:          sleepCtx,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes job until the remote side reports no more items, a page
// comes back empty, or a page fails. The final state is always returned;
// on failure it keeps the totals accumulated so far.
func (d *Driver) Run(ctx context.Context, job JobConfig, dryRun bool) (RunState, error) {
	if job.Mode == "" {
		job.Mode = ModeOverwrite
	}
	if !job.Mode.Valid() {
		return RunState{Status: StatusIdle}, eris.Errorf("batch: unknown mode %q", job.Mode)
	}

	state := newRunState(uuid.NewString(), dryRun, d.now())
	if dryRun {
		state = state.withLog("Starting dry run")
	} else {
		state = state.withLog("Starting batch run")
	}
	d.emit(state)

	log := zap.L().With(zap.String("run_id", state.RunID), zap.Bool("dry_run", dryRun))
	log.Info("batch: run started", zap.String("mode", string(job.Mode)), zap.Int("page_size", d.pageSize))

	for {
		req := PageRequest{
			Prompt:             job.Prompt,
			Mode:               job.Mode,
			Limit:              d.pageSize,
			Offset:             state.Offset,
			DryRun:             dryRun,
			MarketIntelligence: job.MarketIntelligence,
			Sources:            job.Sources,
		}

		resp, err := d.runPage(ctx, req)
		if err != nil {
			metrics.BatchPages.WithLabelValues(metrics.OutcomeError).Inc()
			state = state.fail(err)
			d.emit(state)
			log.Error("batch: page failed", zap.Int("offset", req.Offset), zap.Error(err))
			return state, err
		}

		metrics.BatchPages.WithLabelValues(metrics.OutcomeSuccess).Inc()
		state = state.withPage(*resp, d.pageSize, d.estimatedTotal)
		d.emit(state)
		log.Debug("batch: page done",
			zap.Int("page", state.Pages),
			zap.Int("processed", resp.Processed),
			zap.Int("next_offset", state.Offset),
			zap.Bool("has_more", resp.HasMore),
		)

		if !resp.HasMore || resp.Processed == 0 {
			break
		}

		if err := d.sleep(ctx, d.pageDelay); err != nil {
			err = eris.Wrap(err, "batch: interrupted between pages")
			state = state.fail(err)
			d.emit(state)
			log.Warn("batch: run interrupted", zap.Error(err))
			return state, err
		}
	}

	state = state.complete()
	d.emit(state)
	log.Info("batch: run complete",
		zap.Int("pages", state.Pages),
		zap.Int("processed", state.Processed),
		zap.Int("updated", state.Updated),
		zap.Int("skipped", state.Skipped),
	)
	return state, nil
}

func (d *Driver) runPage(ctx context.Context, req PageRequest) (*PageResponse, error) {
	resp, err := d.client.RunPage(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: page at offset %d", req.Offset)
	}
	if resp == nil {
		return nil, eris.Errorf("batch: empty response for page at offset %d", req.Offset)
	}
	if resp.Error != "" {
		return nil, eris.Errorf("batch: page at offset %d: %s", req.Offset, resp.Error)
	}
	return resp, nil
}

func (d *Driver) emit(s RunState) {
	if d.observer != nil {
		d.observer(s.Clone())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
