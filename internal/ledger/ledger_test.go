package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(nil, "AdminMSP")

	_, err := Submit(ctx, l, "OrgA", "CreateParticipant", "farmer", "F1", `{"name":"Ramesh","organizationalIdentity":"OrgA"}`)
	require.NoError(t, err)
	_, err = Submit(ctx, l, "OrgA", "SetSpeciesRules", "Tulsi", `{"allowedMonths":[11]}`)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized), "non-admin rules update, got %v", err)
	_, err = Submit(ctx, l, "AdminMSP", "SetSpeciesRules", "Tulsi", `{"allowedMonths":[11]}`)
	require.NoError(t, err)

	res, err := Submit(ctx, l, "OrgA", "CreateHerbBatch", "B1", "C1", "F1", "26.9", "75.8", "2025-11-02T08:30:00Z", "Tulsi", "3", `{"moisture":8}`)
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxID)

	_, err = Submit(ctx, l, "OrgB", "CreateHerbBatch", "B2", "C2", "F1", "26.9", "75.8", "2025-11-02T08:30:00Z", "Tulsi", "3", "")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized), "got %v", err)

	raw, err := Evaluate(ctx, l, "OrgB", "ReadHerbBatch", "B1")
	require.NoError(t, err)
	var b domain.HerbBatch
	require.NoError(t, json.Unmarshal(raw, &b))
	assert.Equal(t, domain.StatusCollected, b.Status)
	assert.Equal(t, "F1", b.CurrentOwner)

	exists, err := Evaluate(ctx, l, "OrgB", "HerbBatchExists", "B1")
	require.NoError(t, err)
	assert.Equal(t, "true", string(exists))

	events := l.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "HerbBatchCreated", events[0].Name)
	assert.Equal(t, res.TxID, events[0].TxID)
	assert.NotNil(t, l.State("BATCH_B1"))
}

func TestLocalDispatchRejects(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(nil)

	_, err := Evaluate(ctx, l, "OrgA", "NoSuchFunction")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	_, err = Evaluate(ctx, l, "OrgA", "ReadHerbBatch")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument), "wrong arity, got %v", err)
	_, err = Evaluate(ctx, l, "OrgA", "GetName")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument), "not a transaction, got %v", err)
	_, err = Evaluate(ctx, l, "", "ReadHerbBatch", "B1")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Submit(cancelled, l, "OrgA", "ReadHerbBatch", "B1")
	assert.True(t, errors.Is(err, domain.ErrLedgerUnavailable))
}

func TestLocalEventChannelDoesNotFill(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(nil)
	_, err := Submit(ctx, l, "OrgA", "CreateParticipant", "farmer", "F1", `{"organizationalIdentity":"OrgA"}`)
	require.NoError(t, err)
	for i := 0; i < 150; i++ {
		_, err := Submit(ctx, l, "OrgA", "CreateHerbBatch", fmt.Sprintf("B%d", i), fmt.Sprintf("C%d", i), "F1", "1", "1", "2025-11-02", "Neem", "1", "")
		require.NoError(t, err)
	}
	assert.Len(t, l.Events(), 150)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	err := Classify(status.Error(codes.Unavailable, "connection refused"))
	assert.True(t, errors.Is(err, domain.ErrLedgerUnavailable))
	assert.Equal(t, "LEDGER_UNAVAILABLE", domain.Code(err))

	err = Classify(fmt.Errorf("commit: %w", context.DeadlineExceeded))
	assert.True(t, errors.Is(err, domain.ErrLedgerUnavailable))

	st, derr := status.New(codes.Aborted, "failed to endorse transaction").WithDetails(&gateway.ErrorDetail{
		Address: "peer0.org1.example.com:7051",
		MspId:   "Org1MSP",
		Message: "chaincode response 500, UNAUTHORIZED: identity \"OrgB\" cannot act as farmer F1",
	})
	require.NoError(t, derr)
	err = Classify(st.Err())
	assert.True(t, errors.Is(err, domain.ErrUnauthorized), "got %v", err)
	assert.Contains(t, err.Error(), "peer0.org1.example.com:7051")

	plain := errors.New("boom")
	assert.Same(t, plain, Classify(plain))
}
