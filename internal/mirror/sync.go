package mirror

import (
	"context"
	"database/sql"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// Kind names a mirrored entity.
type Kind string

const (
	KindParticipant Kind = "participant"
	KindSpecies     Kind = "species"
	KindCollection  Kind = "collection"
	KindBatch       Kind = "batch"
	KindProcess     Kind = "process"
	KindQualityTest Kind = "qtest"
	KindFormulation Kind = "formulation"
)

// Ref points at one mirror row. Parent is the participant type for
// participants and the batch id for processing steps and quality tests.
type Ref struct {
	Kind   Kind   `json:"kind"`
	ID     string `json:"id"`
	Parent string `json:"parent,omitempty"`
}

func (ref Ref) String() string {
	if ref.Parent != "" {
		return string(ref.Kind) + " " + ref.Parent + "/" + ref.ID
	}
	return string(ref.Kind) + " " + ref.ID
}

func (ref Ref) locate() (table, where string, args []any, err error) {
	switch ref.Kind {
	case KindParticipant:
		return "participants", "type=? AND id=?", []any{ref.Parent, ref.ID}, nil
	case KindSpecies:
		return "species_rules", "species=?", []any{ref.ID}, nil
	case KindCollection:
		return "collections", "collection_id=?", []any{ref.ID}, nil
	case KindBatch:
		return "batches", "batch_id=?", []any{ref.ID}, nil
	case KindProcess:
		return "processing_steps", "batch_id=? AND process_id=?", []any{ref.Parent, ref.ID}, nil
	case KindQualityTest:
		return "quality_tests", "batch_id=? AND test_id=?", []any{ref.Parent, ref.ID}, nil
	case KindFormulation:
		return "formulations", "product_batch_id=?", []any{ref.ID}, nil
	}
	return "", "", nil, domain.InvalidArgument("unknown record kind %q", ref.Kind)
}

func syncValues(s domain.SyncStatus) (int, any, any) {
	onChain := 0
	if s.IsOnChain {
		onChain = 1
	}
	return onChain, nullable(s.BlockchainTxID), nullable(s.BlockchainError)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// SetSync records the ledger outcome for a row.
func (r Repo) SetSync(ctx context.Context, ref Ref, s domain.SyncStatus) error {
	table, where, args, err := ref.locate()
	if err != nil {
		return err
	}
	onChain, txID, msg := syncValues(s)
	res, err := r.exec(ctx, `UPDATE `+table+` SET is_on_chain=?, blockchain_tx_id=?, blockchain_error=?, updated_at=? WHERE `+where,
		append([]any{onChain, txID, msg, r.now()}, args...)...)
	if err != nil {
		return err
	}
	return affected(res, domain.NotFound("%s does not exist in the mirror", ref))
}

// Sync returns the ledger sync status of a row.
func (r Repo) Sync(ctx context.Context, ref Ref) (domain.SyncStatus, error) {
	table, where, args, err := ref.locate()
	if err != nil {
		return domain.SyncStatus{}, err
	}
	var (
		onChain int
		txID    sql.NullString
		msg     sql.NullString
	)
	err = r.queryRow(ctx, `SELECT is_on_chain, blockchain_tx_id, blockchain_error FROM `+table+` WHERE `+where, args...).
		Scan(&onChain, &txID, &msg)
	if err == sql.ErrNoRows {
		return domain.SyncStatus{}, domain.NotFound("%s does not exist in the mirror", ref)
	}
	if err != nil {
		return domain.SyncStatus{}, err
	}
	return domain.SyncStatus{IsOnChain: onChain == 1, BlockchainTxID: txID.String, BlockchainError: msg.String}, nil
}
