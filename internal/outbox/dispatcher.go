// Package outbox replays mirror writes onto the ledger. Jobs are persisted in
// the mirror's outbox table; a bounded channel feeds a fixed pool of workers
// and a poller picks up whatever the channel could not take.
package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/shreyes-7/AyurTrack-sub001/internal/config"
	"github.com/shreyes-7/AyurTrack-sub001/internal/ledger"
	"github.com/shreyes-7/AyurTrack-sub001/internal/metrics"
	"github.com/shreyes-7/AyurTrack-sub001/internal/mirror"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// Result labels of the jobs counter.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultRetry     = "retry"
)

// Dispatcher submits outbox jobs to the ledger and writes the outcome back
// to the mirror rows each job targets.
type Dispatcher struct {
	repo        mirror.Repo
	gw          ledger.Gateway
	cfg         config.OutboxConfig
	callTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	queue  chan string
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds a dispatcher. callTimeout bounds one connect, submit and commit
// round trip; zero leaves it to the caller's context.
func New(repo mirror.Repo, gw ledger.Gateway, cfg config.OutboxConfig, callTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		repo:        repo,
		gw:          gw,
		cfg:         cfg,
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     m,
		queue:       make(chan string, cfg.QueueSize),
	}
}

// Enqueue hands a committed job to the workers. It never blocks: when the
// queue is full the job stays PENDING for the poller and false is returned.
func (d *Dispatcher) Enqueue(id string) bool {
	select {
	case d.queue <- id:
		return true
	default:
		if d.metrics != nil {
			d.metrics.OutboxOverflow.Inc()
		}
		d.logger.Debug("outbox queue full, leaving job to the poller", "job", id)
		return false
	}
}

// Start releases jobs a previous process left in flight and runs the
// workers and the poller until Stop.
func (d *Dispatcher) Start(ctx context.Context) error {
	n, err := d.repo.ReleaseInFlight(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		d.logger.Info("released in-flight outbox jobs", "count", n)
	}
	ctx, d.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	d.group = g
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}
	g.Go(func() error {
		d.poll(gctx)
		return nil
	})
	return nil
}

// Stop signals the workers and waits for the job in hand to finish.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			claimed, err := d.Process(ctx, id)
			if err != nil {
				d.logger.Error("outbox job bookkeeping failed", "job", id, "err", err)
				continue
			}
			if claimed {
				d.refill(ctx)
			}
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	t := time.NewTicker(d.cfg.PollInterval)
	defer t.Stop()
	d.refill(ctx)
	for {
		d.sampleDepth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.refill(ctx)
		}
	}
}

// refill tops the queue up with pending jobs, oldest first. Duplicates are
// harmless since only one claim of a job succeeds.
func (d *Dispatcher) refill(ctx context.Context) {
	room := cap(d.queue) - len(d.queue)
	if room <= 0 {
		return
	}
	ids, err := d.repo.PendingJobIDs(ctx, room)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("failed to list pending outbox jobs", "err", err)
		}
		return
	}
	for _, id := range ids {
		select {
		case d.queue <- id:
		default:
			return
		}
	}
}

func (d *Dispatcher) sampleDepth(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	counts, err := d.repo.CountJobs(ctx)
	if err != nil {
		return
	}
	for _, s := range []mirror.JobStatus{mirror.JobPending, mirror.JobProcessing, mirror.JobCompleted, mirror.JobFailed} {
		d.metrics.OutboxDepth.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// Process claims one job, submits it and records the outcome. It reports
// false when the job was not claimable: already taken, finished, or waiting
// behind an older job on the same record. Ledger failures are recorded on
// the job, not returned.
func (d *Dispatcher) Process(ctx context.Context, id string) (bool, error) {
	ok, err := d.repo.ClaimJob(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	job, err := d.repo.GetJob(ctx, id)
	if err != nil {
		return true, err
	}

	callCtx := ctx
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}
	started := time.Now()
	res, err := ledger.Submit(callCtx, d.gw, job.Identity, job.Function, job.Args...)
	outcome := "OK"
	if err != nil {
		outcome = domain.Code(err)
		if outcome == "" {
			outcome = "UNKNOWN"
		}
	}
	d.metrics.ObserveLedger(job.Function, outcome, started)

	// The outcome is recorded even when the dispatcher is shutting down.
	stopping := ctx.Err() != nil
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		return true, d.complete(ctx, job, res.TxID)
	}
	if stopping {
		return true, d.repo.ReleaseJob(ctx, job.ID, Truncate(err.Error(), d.cfg.ErrorMaxLen))
	}
	return true, d.fail(ctx, job, err)
}

func (d *Dispatcher) complete(ctx context.Context, job mirror.Job, txID string) error {
	err := d.repo.InTx(ctx, func(tx mirror.Repo) error {
		if err := tx.CompleteJob(ctx, job.ID, txID); err != nil {
			return err
		}
		return setSync(ctx, tx, job.Targets, domain.SyncStatus{IsOnChain: true, BlockchainTxID: txID})
	})
	if err != nil {
		return err
	}
	d.count(ResultCompleted)
	d.logger.Info("ledger transaction committed", "job", job.ID, "function", job.Function, "txId", txID)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, job mirror.Job, cause error) error {
	msg := Truncate(cause.Error(), d.cfg.ErrorMaxLen)
	retry := errors.Is(cause, domain.ErrLedgerUnavailable) && job.Attempts < d.cfg.MaxAttempts
	err := d.repo.InTx(ctx, func(tx mirror.Repo) error {
		if err := tx.FailJob(ctx, job.ID, msg, retry); err != nil {
			return err
		}
		return setSync(ctx, tx, job.Targets, domain.SyncStatus{BlockchainError: msg})
	})
	if err != nil {
		return err
	}
	if retry {
		d.count(ResultRetry)
		d.logger.Warn("ledger unavailable, job will be retried", "job", job.ID, "function", job.Function, "attempt", job.Attempts, "err", msg)
		return nil
	}
	d.count(ResultFailed)
	d.logger.Error("ledger submission failed", "job", job.ID, "function", job.Function, "identity", job.Identity, "err", msg)
	return nil
}

// setSync writes s to every target. Targets that are gone from the mirror
// are skipped.
func setSync(ctx context.Context, tx mirror.Repo, targets []mirror.Ref, s domain.SyncStatus) error {
	for _, ref := range targets {
		if err := tx.SetSync(ctx, ref, s); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) count(result string) {
	if d.metrics != nil {
		d.metrics.OutboxJobs.WithLabelValues(result).Inc()
	}
}

// Retry re-arms a FAILED job and queues it.
func (d *Dispatcher) Retry(ctx context.Context, id string) error {
	if err := d.repo.RetryJob(ctx, id); err != nil {
		return err
	}
	d.Enqueue(id)
	return nil
}

// RunPending processes pending jobs on the calling goroutine until a pass
// claims nothing. It returns the number of jobs attempted.
func (d *Dispatcher) RunPending(ctx context.Context) (int, error) {
	total := 0
	for {
		ids, err := d.repo.PendingJobIDs(ctx, cap(d.queue))
		if err != nil {
			return total, err
		}
		progressed := false
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			claimed, err := d.Process(ctx, id)
			if err != nil {
				return total, err
			}
			if claimed {
				total++
				progressed = true
			}
		}
		if !progressed {
			return total, nil
		}
	}
}

// Truncate cuts s to at most n runes. n <= 0 leaves s alone.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
