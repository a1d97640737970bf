package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// JobStatus is the lifecycle of an outbox job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// Job is one ledger submission waiting to reconcile a set of mirror rows.
type Job struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Function  string    `json:"function"`
	Args      []string  `json:"args"`
	Identity  string    `json:"identity"`
	Targets   []Ref     `json:"targets"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	TxID      string    `json:"txId,omitempty"`
	CreatedAt string    `json:"createdAt"`
	UpdatedAt string    `json:"updatedAt"`
}

// EnqueueJob persists a pending submission and returns its id. Jobs that
// share a target are claimed in enqueue order.
func (r Repo) EnqueueJob(ctx context.Context, identity, function string, args []string, targets ...Ref) (string, error) {
	return r.EnqueueJobAfter(ctx, identity, function, args, nil, targets...)
}

// EnqueueJobAfter is EnqueueJob with extra ordering keys: the job also waits
// for older jobs on the after refs, but its outcome is not written to them.
func (r Repo) EnqueueJobAfter(ctx context.Context, identity, function string, args []string, after []Ref, targets ...Ref) (string, error) {
	if identity == "" {
		return "", domain.InvalidArgument("ledger job %s has no submitting identity", function)
	}
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	targetsJSON, err := json.Marshal(targets)
	if err != nil {
		return "", err
	}
	var seq int64
	if err := r.queryRow(ctx, `UPDATE outbox_seq SET last_seq=last_seq+1 WHERE id=1 RETURNING last_seq`).Scan(&seq); err != nil {
		return "", fmt.Errorf("failed to allocate outbox sequence: %w", err)
	}
	id := uuid.NewString()
	now := r.now()
	_, err = r.exec(ctx, `INSERT INTO outbox(id,seq,function,args,identity,targets,status,attempts,created_at,updated_at) VALUES (?,?,?,?,?,?,?,0,?,?)`,
		id, seq, function, string(argsJSON), identity, string(targetsJSON), string(JobPending), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", function, err)
	}
	seen := map[Ref]bool{}
	for _, t := range append(append([]Ref{}, targets...), after...) {
		if seen[t] {
			continue
		}
		seen[t] = true
		if _, err := r.exec(ctx, `INSERT INTO outbox_targets(job_id,kind,parent,ref_id) VALUES (?,?,?,?)`,
			id, string(t.Kind), t.Parent, t.ID); err != nil {
			return "", fmt.Errorf("failed to enqueue %s: %w", function, err)
		}
	}
	return id, nil
}

const jobColumns = `id,seq,function,args,identity,targets,status,attempts,last_error,tx_id,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (Job, error) {
	var (
		j               Job
		args, targets   string
		status          string
		lastError, txID sql.NullString
	)
	if err := s.Scan(&j.ID, &j.Seq, &j.Function, &args, &j.Identity, &targets, &status, &j.Attempts, &lastError, &txID, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return j, err
	}
	j.Status = JobStatus(status)
	j.LastError = lastError.String
	j.TxID = txID.String
	if err := json.Unmarshal([]byte(args), &j.Args); err != nil {
		return j, fmt.Errorf("corrupt outbox job %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(targets), &j.Targets); err != nil {
		return j, fmt.Errorf("corrupt outbox job %s: %w", j.ID, err)
	}
	return j, nil
}

func (r Repo) GetJob(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(r.queryRow(ctx, `SELECT `+jobColumns+` FROM outbox WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return j, domain.NotFound("outbox job %s does not exist", id)
	}
	return j, err
}

// ClaimJob moves a pending job to PROCESSING and counts the attempt. It
// reports false when the job is not pending, or when an older pending or
// in-flight job touches one of its targets.
func (r Repo) ClaimJob(ctx context.Context, id string) (bool, error) {
	res, err := r.exec(ctx, `UPDATE outbox SET status=?, attempts=attempts+1, updated_at=?
WHERE id=? AND status=? AND NOT EXISTS (
  SELECT 1 FROM outbox_targets t
  JOIN outbox_targets t2 ON t2.kind=t.kind AND t2.parent=t.parent AND t2.ref_id=t.ref_id
  JOIN outbox o2 ON o2.id=t2.job_id
  WHERE t.job_id=outbox.id AND o2.seq < outbox.seq AND o2.status IN (?,?))`,
		string(JobProcessing), r.now(), id, string(JobPending), string(JobPending), string(JobProcessing))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteJob records a committed submission.
func (r Repo) CompleteJob(ctx context.Context, id, txID string) error {
	res, err := r.exec(ctx, `UPDATE outbox SET status=?, tx_id=?, last_error=NULL, updated_at=? WHERE id=?`,
		string(JobCompleted), nullable(txID), r.now(), id)
	if err != nil {
		return err
	}
	return affected(res, domain.NotFound("outbox job %s does not exist", id))
}

// FailJob records a failed attempt. Retry puts the job back in PENDING.
func (r Repo) FailJob(ctx context.Context, id, msg string, retry bool) error {
	status := JobFailed
	if retry {
		status = JobPending
	}
	res, err := r.exec(ctx, `UPDATE outbox SET status=?, last_error=?, updated_at=? WHERE id=?`,
		string(status), nullable(msg), r.now(), id)
	if err != nil {
		return err
	}
	return affected(res, domain.NotFound("outbox job %s does not exist", id))
}

// ReleaseJob puts a claimed job back in PENDING without counting the
// attempt ClaimJob made.
func (r Repo) ReleaseJob(ctx context.Context, id, msg string) error {
	res, err := r.exec(ctx, `UPDATE outbox SET status=?, attempts=CASE WHEN attempts>0 THEN attempts-1 ELSE 0 END, last_error=?, updated_at=? WHERE id=? AND status=?`,
		string(JobPending), nullable(msg), r.now(), id, string(JobProcessing))
	if err != nil {
		return err
	}
	return affected(res, domain.NotFound("outbox job %s is not in flight", id))
}

// RetryJob re-arms a FAILED job.
func (r Repo) RetryJob(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `UPDATE outbox SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(JobPending), r.now(), id, string(JobFailed))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		j, err := r.GetJob(ctx, id)
		if err != nil {
			return err
		}
		return domain.InvalidArgument("outbox job %s is %s, only FAILED jobs can be retried", id, j.Status)
	}
	return nil
}

// ReleaseInFlight returns jobs left PROCESSING by a stopped worker to PENDING.
func (r Repo) ReleaseInFlight(ctx context.Context) (int64, error) {
	res, err := r.exec(ctx, `UPDATE outbox SET status=?, updated_at=? WHERE status=?`,
		string(JobPending), r.now(), string(JobProcessing))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingJobIDs returns up to limit pending job ids in enqueue order.
func (r Repo) PendingJobIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.query(ctx, `SELECT id FROM outbox WHERE status=? ORDER BY seq LIMIT ?`, string(JobPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListJobs pages through the outbox; an empty status lists all.
func (r Repo) ListJobs(ctx context.Context, status JobStatus, page Page) (Result[Job], error) {
	page = page.normalize()
	order, err := page.orderBy("seq", "updated_at", "status", "function", "attempts")
	if err != nil {
		return Result[Job]{}, err
	}
	where := ""
	var args []any
	if status != "" {
		where = " WHERE status=?"
		args = append(args, string(status))
	}
	total, err := r.count(ctx, "outbox", where, args)
	if err != nil {
		return Result[Job]{}, err
	}
	rows, err := r.query(ctx, `SELECT `+jobColumns+` FROM outbox`+where+` ORDER BY `+order+` LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.offset())...)
	if err != nil {
		return Result[Job]{}, err
	}
	defer rows.Close()
	res := Result[Job]{Items: []Job{}, Page: page.Number, Limit: page.Limit, Total: total}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return Result[Job]{}, err
		}
		res.Items = append(res.Items, j)
	}
	return res, rows.Err()
}

// CountJobs returns the number of jobs per status.
func (r Repo) CountJobs(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := r.query(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[JobStatus]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[JobStatus(s)] = n
	}
	return out, rows.Err()
}
