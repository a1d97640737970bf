// Package ledger submits and evaluates chaincode transactions, either through
// a Fabric Gateway peer or against an in-process copy of the contract.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// Gateway opens sessions on behalf of one organization.
type Gateway interface {
	Connect(ctx context.Context, mspID string) (Session, error)
	Close() error
}

// Session is one connection signed by a single identity. Callers close it
// after each use.
type Session interface {
	Submit(ctx context.Context, fn string, args ...string) (Result, error)
	Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error)
	Close() error
}

// Result is a committed transaction.
type Result struct {
	TxID    string
	Payload []byte
}

// Submit connects as mspID, submits one transaction and closes the session.
func Submit(ctx context.Context, gw Gateway, mspID, fn string, args ...string) (Result, error) {
	s, err := gw.Connect(ctx, mspID)
	if err != nil {
		return Result{}, Classify(err)
	}
	defer s.Close()
	res, err := s.Submit(ctx, fn, args...)
	return res, Classify(err)
}

// Evaluate connects as mspID, runs one query and closes the session.
func Evaluate(ctx context.Context, gw Gateway, mspID, fn string, args ...string) ([]byte, error) {
	s, err := gw.Connect(ctx, mspID)
	if err != nil {
		return nil, Classify(err)
	}
	defer s.Close()
	out, err := s.Evaluate(ctx, fn, args...)
	return out, Classify(err)
}

// Classify maps transport failures to LEDGER_UNAVAILABLE and restores the
// error code carried in chaincode error messages.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrLedgerUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.LedgerUnavailable("%v", err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Canceled:
			return domain.LedgerUnavailable("%v", err)
		}
		var details []string
		for _, d := range st.Details() {
			if ed, ok := d.(*gateway.ErrorDetail); ok {
				details = append(details, fmt.Sprintf("%s (%s): %s", ed.Address, ed.MspId, ed.Message))
			}
		}
		if len(details) > 0 {
			err = fmt.Errorf("%v: %s", err, strings.Join(details, "; "))
		}
	}
	return domain.Classify(err)
}
