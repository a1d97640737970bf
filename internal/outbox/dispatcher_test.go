package outbox_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shreyes-7/AyurTrack-sub001/internal/config"
	"github.com/shreyes-7/AyurTrack-sub001/internal/db"
	"github.com/shreyes-7/AyurTrack-sub001/internal/ledger"
	"github.com/shreyes-7/AyurTrack-sub001/internal/metrics"
	"github.com/shreyes-7/AyurTrack-sub001/internal/migrate"
	"github.com/shreyes-7/AyurTrack-sub001/internal/mirror"
	"github.com/shreyes-7/AyurTrack-sub001/internal/outbox"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

func newRepo(t *testing.T) mirror.Repo {
	t.Helper()
	conn, err := db.Open(db.SQLite, db.SQLitePath(filepath.Join(t.TempDir(), "outbox.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = migrate.Migrate(conn, db.SQLite)
	require.NoError(t, err)
	return mirror.New(conn, db.SQLite)
}

// flakyGateway fails the first n connects as an unreachable peer would.
type flakyGateway struct {
	ledger.Gateway
	mu sync.Mutex
	n  int
}

func (g *flakyGateway) Connect(ctx context.Context, mspID string) (ledger.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n > 0 {
		g.n--
		return nil, status.Error(codes.Unavailable, "connection refused")
	}
	return g.Gateway.Connect(ctx, mspID)
}

// stoppingGateway cancels the dispatcher's context mid-call, as a shutdown
// signal arriving during a submission would.
type stoppingGateway struct {
	ledger.Gateway
	stop context.CancelFunc
}

func (g *stoppingGateway) Connect(ctx context.Context, mspID string) (ledger.Session, error) {
	g.stop()
	return nil, status.Error(codes.Canceled, "context canceled")
}

func outboxConfig() config.OutboxConfig {
	return config.OutboxConfig{Workers: 2, QueueSize: 16, MaxAttempts: 1, PollInterval: 20 * time.Millisecond, ErrorMaxLen: 500}
}

var farmerRef = mirror.Ref{Kind: mirror.KindParticipant, Parent: "farmer", ID: "F1"}

// registerFarmer writes F1@OrgA to the mirror and queues its registration.
func registerFarmer(t *testing.T, repo mirror.Repo) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.InsertParticipant(ctx, domain.Participant{DocType: domain.DocParticipant, Type: domain.Farmer, ID: "F1", OrganizationalIdentity: "OrgA"}))
	id, err := repo.EnqueueJob(ctx, "OrgA", "CreateParticipant", []string{"farmer", "F1", `{"organizationalIdentity":"OrgA"}`}, farmerRef)
	require.NoError(t, err)
	return id
}

// collectBatch writes batch B1 to the mirror and queues its creation.
func collectBatch(t *testing.T, repo mirror.Repo, batchID string) string {
	t.Helper()
	ctx := context.Background()
	c := domain.CollectionEvent{DocType: domain.DocCollectionEvent, CollectionID: "C-" + batchID, BatchID: batchID, CollectorID: "F1", Species: "Neem", Quantity: 2}
	b := domain.HerbBatch{DocType: domain.DocHerbBatch, BatchID: batchID, CollectionID: c.CollectionID, CollectorID: "F1", Species: "Neem", Quantity: 2, CurrentOwner: "F1", Status: domain.StatusCollected, UsedIn: []string{}}
	require.NoError(t, repo.InsertCollection(ctx, c, b))
	id, err := repo.EnqueueJobAfter(ctx, "OrgA", "CreateHerbBatch",
		[]string{batchID, c.CollectionID, "F1", "26.9", "75.8", "2025-11-02T08:30:00Z", "Neem", "2", ""},
		[]mirror.Ref{farmerRef},
		mirror.Ref{Kind: mirror.KindBatch, ID: batchID}, mirror.Ref{Kind: mirror.KindCollection, ID: c.CollectionID})
	require.NoError(t, err)
	return id
}

func TestRunPendingCommitsAndSyncsTargets(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	local := ledger.NewLocal(nil)
	d := outbox.New(repo, local, outboxConfig(), time.Minute, nil, nil)

	reg := registerFarmer(t, repo)
	batch := collectBatch(t, repo, "B1")

	n, err := d.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{reg, batch} {
		job, err := repo.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, mirror.JobCompleted, job.Status, job.LastError)
		assert.NotEmpty(t, job.TxID)
	}
	job, _ := repo.GetJob(ctx, batch)
	for _, ref := range []mirror.Ref{{Kind: mirror.KindBatch, ID: "B1"}, {Kind: mirror.KindCollection, ID: "C-B1"}} {
		s, err := repo.Sync(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, domain.SyncStatus{IsOnChain: true, BlockchainTxID: job.TxID}, s, ref.String())
	}
	assert.NotNil(t, local.State("BATCH_B1"))
	assert.NotNil(t, local.State("PARTICIPANT_farmer_F1"))
}

func TestLedgerRejectionLeavesMirrorDiverged(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	cfg := outboxConfig()
	cfg.MaxAttempts = 3
	d := outbox.New(repo, ledger.NewLocal(nil), cfg, time.Minute, nil, nil)

	// The mirror knows F1 but the ledger never heard of it.
	require.NoError(t, repo.InsertParticipant(ctx, domain.Participant{Type: domain.Farmer, ID: "F1", OrganizationalIdentity: "OrgA"}))
	id := collectBatch(t, repo, "B1")

	_, err := d.RunPending(ctx)
	require.NoError(t, err)

	job, err := repo.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, mirror.JobFailed, job.Status)
	assert.Equal(t, 1, job.Attempts, "rejections are not retried automatically")
	assert.Contains(t, job.LastError, "NOT_FOUND")

	b, err := repo.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCollected, b.Status, "the mirror row is kept")
	s, err := repo.Sync(ctx, mirror.Ref{Kind: mirror.KindBatch, ID: "B1"})
	require.NoError(t, err)
	assert.False(t, s.IsOnChain)
	assert.Contains(t, s.BlockchainError, "NOT_FOUND")
}

func TestUnavailableLedgerRetriesUpToMaxAttempts(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	cfg := outboxConfig()
	cfg.MaxAttempts = 3
	gw := &flakyGateway{Gateway: ledger.NewLocal(nil), n: 2}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d := outbox.New(repo, gw, cfg, time.Minute, nil, m)

	id := registerFarmer(t, repo)
	_, err := d.RunPending(ctx)
	require.NoError(t, err)

	job, err := repo.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, mirror.JobCompleted, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxJobs.WithLabelValues(outbox.ResultRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxJobs.WithLabelValues(outbox.ResultCompleted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LedgerCalls.WithLabelValues("CreateParticipant", "LEDGER_UNAVAILABLE")))
}

func TestFailedJobWaitsForExplicitRetry(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	gw := &flakyGateway{Gateway: ledger.NewLocal(nil), n: 1}
	d := outbox.New(repo, gw, outboxConfig(), time.Minute, nil, nil)

	id := registerFarmer(t, repo)
	_, err := d.RunPending(ctx)
	require.NoError(t, err)
	job, _ := repo.GetJob(ctx, id)
	require.Equal(t, mirror.JobFailed, job.Status)
	assert.Contains(t, job.LastError, "LEDGER_UNAVAILABLE")

	n, err := d.RunPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed jobs are not picked up again")

	require.NoError(t, d.Retry(ctx, id))
	_, err = d.RunPending(ctx)
	require.NoError(t, err)
	job, _ = repo.GetJob(ctx, id)
	assert.Equal(t, mirror.JobCompleted, job.Status)
	s, _ := repo.Sync(ctx, farmerRef)
	assert.True(t, s.IsOnChain)
	assert.Empty(t, s.BlockchainError)
}

func TestErrorMessageIsTruncated(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	cfg := outboxConfig()
	cfg.ErrorMaxLen = 12
	d := outbox.New(repo, ledger.NewLocal(nil), cfg, time.Minute, nil, nil)

	require.NoError(t, repo.InsertParticipant(ctx, domain.Participant{Type: domain.Farmer, ID: "F1", OrganizationalIdentity: "OrgA"}))
	id := collectBatch(t, repo, "B1")
	_, err := d.RunPending(ctx)
	require.NoError(t, err)

	job, _ := repo.GetJob(ctx, id)
	assert.Equal(t, 12, utf8.RuneCountInString(job.LastError))
	assert.True(t, strings.HasPrefix(job.LastError, "NOT_FOUND"), job.LastError)

	assert.Equal(t, "héllo", outbox.Truncate("héllo wörld", 5))
	assert.Equal(t, "short", outbox.Truncate("short", 500))
	assert.Equal(t, "unbounded", outbox.Truncate("unbounded", 0))
}

func TestWorkersKeepDependentJobsInOrder(t *testing.T) {
	repo := newRepo(t)
	local := ledger.NewLocal(nil)
	cfg := outboxConfig()
	cfg.Workers = 4
	d := outbox.New(repo, local, cfg, time.Minute, nil, nil)

	ids := []string{registerFarmer(t, repo)}
	for _, b := range []string{"B1", "B2", "B3", "B4", "B5"} {
		ids = append(ids, collectBatch(t, repo, b))
	}
	// Queue newest first so that workers see dependents before their
	// predecessors.
	for i := len(ids) - 1; i >= 0; i-- {
		d.Enqueue(ids[i])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = d.Stop(stopCtx)
	})

	require.Eventually(t, func() bool {
		counts, err := repo.CountJobs(context.Background())
		return err == nil && counts[mirror.JobCompleted] == len(ids)
	}, 10*time.Second, 20*time.Millisecond)
	for _, b := range []string{"B1", "B2", "B3", "B4", "B5"} {
		assert.NotNil(t, local.State("BATCH_"+b), b)
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	repo := newRepo(t)
	cfg := outboxConfig()
	cfg.QueueSize = 1
	m := metrics.New(nil)
	d := outbox.New(repo, ledger.NewLocal(nil), cfg, time.Minute, nil, m)

	assert.True(t, d.Enqueue("a"))
	assert.False(t, d.Enqueue("b"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxOverflow))
}

func TestStartReleasesInFlightJobs(t *testing.T) {
	repo := newRepo(t)
	id := registerFarmer(t, repo)
	ok, err := repo.ClaimJob(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	d := outbox.New(repo, ledger.NewLocal(nil), outboxConfig(), time.Minute, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer func() { _ = d.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		job, err := repo.GetJob(context.Background(), id)
		return err == nil && job.Status == mirror.JobCompleted
	}, 10*time.Second, 20*time.Millisecond)
}

func TestShutdownReleasesJobWithoutSpendingAnAttempt(t *testing.T) {
	repo := newRepo(t)
	id := registerFarmer(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := outbox.New(repo, &stoppingGateway{Gateway: ledger.NewLocal(nil), stop: cancel}, outboxConfig(), time.Minute, nil, nil)
	claimed, err := d.Process(ctx, id)
	require.NoError(t, err)
	require.True(t, claimed)

	job, err := repo.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, mirror.JobPending, job.Status)
	assert.Zero(t, job.Attempts, "an interrupted submission is not an attempt")

	d = outbox.New(repo, ledger.NewLocal(nil), outboxConfig(), time.Minute, nil, nil)
	_, err = d.RunPending(context.Background())
	require.NoError(t, err)
	job, err = repo.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, mirror.JobCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
}
