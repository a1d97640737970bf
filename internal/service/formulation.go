package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/shreyes-7/AyurTrack-sub001/chaincode/herbaltrace"
	"github.com/shreyes-7/AyurTrack-sub001/internal/mirror"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// FormulationRequest is a product made from herb batches.
type FormulationRequest struct {
	ProductBatchID string
	ManufacturerID string
	InputBatches   []string
	Params         domain.FormulationParams
	Timestamp      string
}

// CreateFormulation records a product. Inputs known to the mirror become
// used_in_formulation and owned by the manufacturer; unknown inputs are kept
// in the formulation and skipped, as on the ledger.
func (s *Service) CreateFormulation(ctx context.Context, req FormulationRequest) (*domain.Formulation, error) {
	inputsJSON, err := jsonArg(req.InputBatches)
	if err != nil {
		return nil, err
	}
	paramsJSON, err := jsonArg(req.Params)
	if err != nil {
		return nil, err
	}
	f, err := herbaltrace.ParseFormulation(req.ProductBatchID, req.ManufacturerID, inputsJSON, paramsJSON, s.timestamp(req.Timestamp))
	if err != nil {
		return nil, err
	}
	if inputsJSON, err = jsonArg(f.InputBatches); err != nil {
		return nil, err
	}
	err = s.write(ctx, func(tx mirror.Repo) (string, error) {
		m, err := tx.GetParticipant(ctx, domain.Manufacturer, f.ManufacturerID)
		if err != nil {
			return "", err
		}
		var batches []*domain.HerbBatch
		for _, id := range f.InputBatches {
			b, err := tx.GetBatch(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("formulation input not in mirror, skipped", "product", f.ProductBatchID, "batch", id)
				continue
			}
			if err != nil {
				return "", err
			}
			if err := domain.CheckTransition(b.BatchID, b.Status, domain.StatusUsedInFormulation); err != nil {
				return "", err
			}
			batches = append(batches, b)
		}
		if err := tx.InsertFormulation(ctx, *f); err != nil {
			return "", err
		}
		targets := []mirror.Ref{{Kind: mirror.KindFormulation, ID: f.ProductBatchID}}
		for _, b := range batches {
			b.Status = domain.StatusUsedInFormulation
			b.CurrentOwner = f.ManufacturerID
			b.UsedIn = append(b.UsedIn, f.ProductBatchID)
			if err := tx.UpdateBatch(ctx, *b); err != nil {
				return "", err
			}
			targets = append(targets, batchRef(b.BatchID))
		}
		return tx.EnqueueJobAfter(ctx, m.OrganizationalIdentity, "CreateFormulation",
			[]string{f.ProductBatchID, f.ManufacturerID, inputsJSON, paramsJSON, f.Timestamp},
			[]mirror.Ref{participantRef(domain.Manufacturer, f.ManufacturerID)}, targets...)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) GetFormulation(ctx context.Context, productBatchID string) (*domain.Formulation, error) {
	return s.repo.GetFormulation(ctx, productBatchID)
}

// QRCode is a rendered consumer lookup code.
type QRCode struct {
	ProductBatchID string `json:"productBatchId"`
	Token          string `json:"token"`
	URL            string `json:"url"`
	BlobKey        string `json:"blobKey"`
	PNG            []byte `json:"-"`
}

// QRBlobKey is where the image of a token is stored.
func QRBlobKey(productBatchID, token string) string {
	return "qr/" + productBatchID + "/" + token + ".png"
}

func newQRToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateQR issues a new lookup token for a product, stores the QR image
// and queues the token for the ledger under the manufacturer's organization.
func (s *Service) GenerateQR(ctx context.Context, productBatchID string) (*QRCode, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("no blob store configured for QR images")
	}
	productBatchID = strings.TrimSpace(productBatchID)
	f, err := s.repo.GetFormulation(ctx, productBatchID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetParticipant(ctx, domain.Manufacturer, f.ManufacturerID); err != nil {
		return nil, err
	}

	qr := &QRCode{ProductBatchID: f.ProductBatchID, Token: newQRToken()}
	qr.URL = s.opts.QRBaseURL + qr.Token
	qr.BlobKey = QRBlobKey(f.ProductBatchID, qr.Token)
	if qr.PNG, err = qrcode.Encode(qr.URL, qrcode.Medium, s.opts.QRSize); err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	if _, err := s.blobs.Put(ctx, qr.BlobKey, bytes.NewReader(qr.PNG), "image/png"); err != nil {
		return nil, fmt.Errorf("failed to store QR code: %w", err)
	}

	err = s.write(ctx, func(tx mirror.Repo) (string, error) {
		f, err := tx.GetFormulation(ctx, productBatchID)
		if err != nil {
			return "", err
		}
		m, err := tx.GetParticipant(ctx, domain.Manufacturer, f.ManufacturerID)
		if err != nil {
			return "", err
		}
		f.QRToken = qr.Token
		if err := tx.UpdateFormulation(ctx, *f); err != nil {
			return "", err
		}
		return tx.EnqueueJob(ctx, m.OrganizationalIdentity, "GenerateBatchQR",
			[]string{f.ProductBatchID, qr.Token}, mirror.Ref{Kind: mirror.KindFormulation, ID: f.ProductBatchID})
	})
	if err != nil {
		if _, derr := s.blobs.Delete(context.WithoutCancel(ctx), qr.BlobKey); derr != nil {
			s.logger.Warn("failed to remove orphaned QR image", "key", qr.BlobKey, "err", derr)
		}
		return nil, err
	}
	return qr, nil
}
