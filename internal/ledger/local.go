package ledger

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/shreyes-7/AyurTrack-sub001/chaincode/herbaltrace"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// Identity is a fixed client identity used by the in-process ledger.
type Identity struct {
	MSPID      string
	Attributes map[string]string
}

func (i Identity) GetID() (string, error)    { return "x509::CN=local@" + i.MSPID, nil }
func (i Identity) GetMSPID() (string, error) { return i.MSPID, nil }

func (i Identity) GetAttributeValue(name string) (string, bool, error) {
	v, ok := i.Attributes[name]
	return v, ok, nil
}

func (i Identity) AssertAttributeValue(name, value string) error {
	if v, ok := i.Attributes[name]; !ok || v != value {
		return fmt.Errorf("attribute %s is not %s", name, value)
	}
	return nil
}

func (i Identity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

// Event is a chaincode event emitted by a committed local transaction.
type Event struct {
	TxID    string
	Name    string
	Payload []byte
}

// Local runs the herbaltrace contract in process on a mock stub. Transactions
// are serialized. State lives in memory only.
type Local struct {
	mu     sync.Mutex
	cc     *herbaltrace.SmartContract
	stub   *shimtest.MockStub
	admins map[string]bool
	events []Event
	logger *slog.Logger
}

// NewLocal returns an empty ledger. Sessions of the admin organizations carry
// the role=admin attribute.
func NewLocal(logger *slog.Logger, adminMSPs ...string) *Local {
	admins := make(map[string]bool, len(adminMSPs))
	for _, m := range adminMSPs {
		admins[m] = true
	}
	return &Local{
		cc:     &herbaltrace.SmartContract{},
		stub:   shimtest.NewMockStub("herbaltrace", nil),
		admins: admins,
		logger: logger,
	}
}

func (l *Local) Connect(ctx context.Context, mspID string) (Session, error) {
	if mspID == "" {
		return nil, domain.Unauthorized("no submitting organization")
	}
	id := Identity{MSPID: mspID}
	if l.admins[mspID] {
		id.Attributes = map[string]string{"role": "admin"}
	}
	return &localSession{ledger: l, id: id}, nil
}

func (l *Local) Close() error { return nil }

// Events returns the chaincode events emitted so far.
func (l *Local) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// State returns the raw world-state value of key.
func (l *Local) State(key string) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stub.State[key]
}

func (l *Local) run(ctx context.Context, id Identity, fn string, args []string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, domain.LedgerUnavailable("%v", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	txID := uuid.NewString()
	l.stub.MockTransactionStart(txID)
	defer l.stub.MockTransactionEnd(txID)

	txCtx := new(contractapi.TransactionContext)
	txCtx.SetStub(l.stub)
	txCtx.SetClientIdentity(id)

	payload, err := invoke(l.cc, txCtx, fn, args)
	l.drainEvents(txID)
	if err != nil {
		return Result{}, err
	}
	return Result{TxID: txID, Payload: payload}, nil
}

// drainEvents empties the stub's event channel, which blocks once full.
func (l *Local) drainEvents(txID string) {
	for {
		select {
		case ev := <-l.stub.ChaincodeEventsChannel:
			l.events = append(l.events, Event{TxID: txID, Name: ev.EventName, Payload: ev.Payload})
			if l.logger != nil {
				l.logger.Debug("chaincode event", "txId", txID, "event", ev.EventName)
			}
		default:
			return
		}
	}
}

var (
	txContextType = reflect.TypeOf((*contractapi.TransactionContextInterface)(nil)).Elem()
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
)

// invoke calls the exported contract method fn with string arguments, the
// way the contract API dispatches a proposal.
func invoke(cc any, txCtx contractapi.TransactionContextInterface, fn string, args []string) ([]byte, error) {
	m := reflect.ValueOf(cc).MethodByName(fn)
	if !m.IsValid() {
		return nil, domain.InvalidArgument("function %s not found in contract", fn)
	}
	mt := m.Type()
	if mt.NumIn() < 1 || mt.In(0) != txContextType || mt.NumOut() < 1 || mt.Out(mt.NumOut()-1) != errorType {
		return nil, domain.InvalidArgument("function %s is not a transaction", fn)
	}
	if mt.NumIn()-1 != len(args) {
		return nil, domain.InvalidArgument("function %s expects %d arguments, got %d", fn, mt.NumIn()-1, len(args))
	}
	in := []reflect.Value{reflect.ValueOf(txCtx)}
	for i, a := range args {
		if mt.In(i+1).Kind() != reflect.String {
			return nil, domain.InvalidArgument("function %s argument %d is not a string", fn, i)
		}
		in = append(in, reflect.ValueOf(a))
	}
	out := m.Call(in)
	if errV := out[len(out)-1]; !errV.IsNil() {
		return nil, errV.Interface().(error)
	}
	if len(out) == 1 {
		return nil, nil
	}
	switch v := out[0].Interface().(type) {
	case string:
		return []byte(v), nil
	case bool:
		return []byte(strconv.FormatBool(v)), nil
	default:
		return json.Marshal(v)
	}
}

type localSession struct {
	ledger *Local
	id     Identity
}

func (s *localSession) Submit(ctx context.Context, fn string, args ...string) (Result, error) {
	return s.ledger.run(ctx, s.id, fn, args)
}

func (s *localSession) Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error) {
	res, err := s.ledger.run(ctx, s.id, fn, args)
	return res.Payload, err
}

func (s *localSession) Close() error { return nil }
