package mirror

import (
	"context"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// Participants

func (r Repo) InsertParticipant(ctx context.Context, p domain.Participant) error {
	found, err := r.exists(ctx, "participants", "type=? AND id=?", string(p.Type), p.ID)
	if err != nil {
		return err
	}
	if found {
		return domain.AlreadyExists("participant %s %s already exists", p.Type, p.ID)
	}
	doc, err := marshalDoc(p)
	if err != nil {
		return err
	}
	now := r.now()
	_, err = r.exec(ctx, `INSERT INTO participants(type,id,name,organizational_identity,doc,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		string(p.Type), p.ID, p.Name, p.OrganizationalIdentity, doc, now, now)
	return err
}

// UpdateParticipant replaces the stored document and resets the sync flags.
func (r Repo) UpdateParticipant(ctx context.Context, p domain.Participant) error {
	doc, err := marshalDoc(p)
	if err != nil {
		return err
	}
	res, err := r.exec(ctx, `UPDATE participants SET name=?, organizational_identity=?, doc=?, is_on_chain=0, blockchain_tx_id=NULL, blockchain_error=NULL, updated_at=? WHERE type=? AND id=?`,
		p.Name, p.OrganizationalIdentity, doc, r.now(), string(p.Type), p.ID)
	if err != nil {
		return err
	}
	return affected(res, domain.NotFound("participant %s %s does not exist", p.Type, p.ID))
}

func (r Repo) GetParticipant(ctx context.Context, t domain.ParticipantType, id string) (*domain.Participant, error) {
	var p domain.Participant
	err := r.oneDoc(ctx, &p, domain.NotFound("participant %s %s does not exist", t, id),
		`SELECT doc FROM participants WHERE type=? AND id=?`, string(t), id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListParticipants pages through participants; an empty type lists all.
func (r Repo) ListParticipants(ctx context.Context, t domain.ParticipantType, page Page) (Result[domain.Participant], error) {
	var clauses []string
	var args []any
	if t != "" {
		clauses = append(clauses, "type=?")
		args = append(args, string(t))
	}
	return listDocs[domain.Participant](ctx, r, "participants", clauses, args, page,
		[]string{"id", "type", "name", "organizational_identity", "created_at", "updated_at"})
}

// Species rules

// UpsertSpeciesRule stores rule, last writer wins.
func (r Repo) UpsertSpeciesRule(ctx context.Context, rule domain.SpeciesRule) error {
	doc, err := marshalDoc(rule)
	if err != nil {
		return err
	}
	now := r.now()
	_, err = r.exec(ctx, `INSERT INTO species_rules(species,doc,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(species) DO UPDATE SET doc=excluded.doc, is_on_chain=0, blockchain_tx_id=NULL, blockchain_error=NULL, updated_at=excluded.updated_at`,
		rule.Species, doc, now, now)
	return err
}

func (r Repo) GetSpeciesRule(ctx context.Context, species string) (*domain.SpeciesRule, error) {
	var rule domain.SpeciesRule
	err := r.oneDoc(ctx, &rule, domain.NotFound("no rules for species %s", species),
		`SELECT doc FROM species_rules WHERE species=?`, species)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r Repo) ListSpeciesRules(ctx context.Context) ([]domain.SpeciesRule, error) {
	return allDocs[domain.SpeciesRule](ctx, r, `SELECT doc FROM species_rules ORDER BY species`)
}

// Collections and batches

// InsertCollection writes a harvest and the batch it opens.
func (r Repo) InsertCollection(ctx context.Context, c domain.CollectionEvent, b domain.HerbBatch) error {
	if found, err := r.exists(ctx, "batches", "batch_id=?", b.BatchID); err != nil {
		return err
	} else if found {
		return domain.AlreadyExists("batch %s already exists", b.BatchID)
	}
	if found, err := r.exists(ctx, "collections", "collection_id=?", c.CollectionID); err != nil {
		return err
	} else if found {
		return domain.AlreadyExists("collection event %s already exists", c.CollectionID)
	}
	cdoc, err := marshalDoc(c)
	if err != nil {
		return err
	}
	bdoc, err := marshalDoc(b)
	if err != nil {
		return err
	}
	now := r.now()
	if _, err := r.exec(ctx, `INSERT INTO collections(collection_id,batch_id,collector_id,species,collected_at,doc,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.CollectionID, c.BatchID, c.CollectorID, c.Species, c.Timestamp, cdoc, now, now); err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO batches(batch_id,collection_id,collector_id,species,status,current_owner,doc,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		b.BatchID, b.CollectionID, b.CollectorID, b.Species, b.Status.MirrorString(), b.CurrentOwner, bdoc, now, now)
	return err
}

func (r Repo) GetCollection(ctx context.Context, collectionID string) (*domain.CollectionEvent, error) {
	var c domain.CollectionEvent
	err := r.oneDoc(ctx, &c, domain.NotFound("collection event %s does not exist", collectionID),
		`SELECT doc FROM collections WHERE collection_id=?`, collectionID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r Repo) GetBatch(ctx context.Context, batchID string) (*domain.HerbBatch, error) {
	var b domain.HerbBatch
	err := r.oneDoc(ctx, &b, domain.NotFound("batch %s does not exist", batchID),
		`SELECT doc FROM batches WHERE batch_id=?`, batchID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBatch replaces the batch document and marks it pending reconciliation.
func (r Repo) UpdateBatch(ctx context.Context, b domain.HerbBatch) error {
	doc, err := marshalDoc(b)
	if err != nil {
		return err
	}
	res, err := r.exec(ctx, `UPDATE batches SET status=?, current_owner=?, doc=?, is_on_chain=0, blockchain_tx_id=NULL, blockchain_error=NULL, updated_at=? WHERE batch_id=?`,
		b.Status.MirrorString(), b.CurrentOwner, doc, r.now(), b.BatchID)
	if err != nil {
		return err
	}
	return affected(res, domain.NotFound("batch %s does not exist", b.BatchID))
}

// BatchFilter narrows ListBatches. Status takes either spelling.
type BatchFilter struct {
	Status  string
	Owner   string
	Species string
}

func (r Repo) ListBatches(ctx context.Context, f BatchFilter, page Page) (Result[domain.HerbBatch], error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		st, err := domain.ParseStatus(f.Status)
		if err != nil {
			return Result[domain.HerbBatch]{}, err
		}
		clauses = append(clauses, "status=?")
		args = append(args, st.MirrorString())
	}
	if f.Owner != "" {
		clauses = append(clauses, "current_owner=?")
		args = append(args, f.Owner)
	}
	if f.Species != "" {
		clauses = append(clauses, "species=?")
		args = append(args, f.Species)
	}
	return listDocs[domain.HerbBatch](ctx, r, "batches", clauses, args, page,
		[]string{"batch_id", "species", "status", "current_owner", "created_at", "updated_at"})
}

// Processing steps and quality tests

func (r Repo) InsertProcessingStep(ctx context.Context, s domain.ProcessingStep) error {
	found, err := r.exists(ctx, "processing_steps", "batch_id=? AND process_id=?", s.BatchID, s.ProcessID)
	if err != nil {
		return err
	}
	if found {
		return domain.AlreadyExists("processing step %s already exists for batch %s", s.ProcessID, s.BatchID)
	}
	doc, err := marshalDoc(s)
	if err != nil {
		return err
	}
	now := r.now()
	_, err = r.exec(ctx, `INSERT INTO processing_steps(batch_id,process_id,facility_id,step_type,step_at,doc,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.BatchID, s.ProcessID, s.FacilityID, string(s.StepType), s.Timestamp, doc, now, now)
	return err
}

// ProcessingSteps lists a batch's steps by timestamp.
func (r Repo) ProcessingSteps(ctx context.Context, batchID string) ([]domain.ProcessingStep, error) {
	return allDocs[domain.ProcessingStep](ctx, r,
		`SELECT doc FROM processing_steps WHERE batch_id=? ORDER BY step_at, process_id`, batchID)
}

func (r Repo) InsertQualityTest(ctx context.Context, q domain.QualityTest) error {
	found, err := r.exists(ctx, "quality_tests", "batch_id=? AND test_id=?", q.BatchID, q.TestID)
	if err != nil {
		return err
	}
	if found {
		return domain.AlreadyExists("quality test %s already exists for batch %s", q.TestID, q.BatchID)
	}
	doc, err := marshalDoc(q)
	if err != nil {
		return err
	}
	now := r.now()
	_, err = r.exec(ctx, `INSERT INTO quality_tests(batch_id,test_id,lab_id,test_type,tested_at,doc,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		q.BatchID, q.TestID, q.LabID, q.TestType, q.Timestamp, doc, now, now)
	return err
}

// QualityTests lists a batch's tests by timestamp.
func (r Repo) QualityTests(ctx context.Context, batchID string) ([]domain.QualityTest, error) {
	return allDocs[domain.QualityTest](ctx, r,
		`SELECT doc FROM quality_tests WHERE batch_id=? ORDER BY tested_at, test_id`, batchID)
}

// Formulations

func (r Repo) InsertFormulation(ctx context.Context, f domain.Formulation) error {
	found, err := r.exists(ctx, "formulations", "product_batch_id=?", f.ProductBatchID)
	if err != nil {
		return err
	}
	if found {
		return domain.AlreadyExists("formulation %s already exists", f.ProductBatchID)
	}
	doc, err := marshalDoc(f)
	if err != nil {
		return err
	}
	now := r.now()
	if _, err := r.exec(ctx, `INSERT INTO formulations(product_batch_id,manufacturer_id,qr_token,formulated_at,doc,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		f.ProductBatchID, f.ManufacturerID, nullable(f.QRToken), f.Timestamp, doc, now, now); err != nil {
		return err
	}
	for i, batchID := range f.InputBatches {
		if _, err := r.exec(ctx, `INSERT INTO formulation_inputs(product_batch_id,batch_id,position) VALUES (?,?,?)`,
			f.ProductBatchID, batchID, i); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetFormulation(ctx context.Context, productBatchID string) (*domain.Formulation, error) {
	var f domain.Formulation
	err := r.oneDoc(ctx, &f, domain.NotFound("formulation %s does not exist", productBatchID),
		`SELECT doc FROM formulations WHERE product_batch_id=?`, productBatchID)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateFormulation replaces the document. Inputs never change after creation.
func (r Repo) UpdateFormulation(ctx context.Context, f domain.Formulation) error {
	doc, err := marshalDoc(f)
	if err != nil {
		return err
	}
	res, err := r.exec(ctx, `UPDATE formulations SET qr_token=?, doc=?, is_on_chain=0, blockchain_tx_id=NULL, blockchain_error=NULL, updated_at=? WHERE product_batch_id=?`,
		nullable(f.QRToken), doc, r.now(), f.ProductBatchID)
	if err != nil {
		return err
	}
	return affected(res, domain.NotFound("formulation %s does not exist", f.ProductBatchID))
}

// FormulationsUsing lists the products a batch went into.
func (r Repo) FormulationsUsing(ctx context.Context, batchID string) ([]string, error) {
	rows, err := r.query(ctx, `SELECT product_batch_id FROM formulation_inputs WHERE batch_id=? ORDER BY product_batch_id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
