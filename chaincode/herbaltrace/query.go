/*
SPDX-License-Identifier: Apache-2.0
*/

package herbaltrace

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/rules"
)

// KeyRecord is one result of QueryByPrefix.
type KeyRecord struct {
	Key    string          `json:"key"`
	Record json.RawMessage `json:"record"`
}

// HistoryEntry is one committed version of a key.
type HistoryEntry struct {
	TxID      string          `json:"txId"`
	Timestamp string          `json:"timestamp,omitempty"`
	IsDelete  bool            `json:"isDelete"`
	Record    json.RawMessage `json:"record,omitempty"`
}

// QueryByPrefix returns every record whose key starts with prefix, in key
// order.
func (s *SmartContract) QueryByPrefix(ctx contractapi.TransactionContextInterface, prefix string) (string, error) {
	if strings.TrimSpace(prefix) == "" {
		return "", domain.InvalidArgument("prefix is required")
	}
	records := []KeyRecord{}
	err := scan(ctx, prefix, func(key string, value []byte) error {
		records = append(records, KeyRecord{Key: key, Record: json.RawMessage(value)})
		return nil
	})
	if err != nil {
		return "", err
	}
	return toJSON(records)
}

// GetHerbBatchHistory returns every committed version of a batch, oldest
// first as reported by the peer.
func (s *SmartContract) GetHerbBatchHistory(ctx contractapi.TransactionContextInterface, batchID string) (string, error) {
	it, err := ctx.GetStub().GetHistoryForKey(batchKey(batchID))
	if err != nil {
		return "", fmt.Errorf("failed to get history of batch %s: %v", batchID, err)
	}
	defer it.Close()

	history := []HistoryEntry{}
	for it.HasNext() {
		km, err := it.Next()
		if err != nil {
			return "", fmt.Errorf("failed during history iteration: %v", err)
		}
		entry := HistoryEntry{TxID: km.TxId, IsDelete: km.IsDelete}
		if km.Timestamp != nil {
			entry.Timestamp = rules.FormatTimestamp(km.Timestamp.AsTime())
		}
		if !km.IsDelete && len(km.Value) > 0 {
			entry.Record = json.RawMessage(km.Value)
		}
		history = append(history, entry)
	}
	if len(history) == 0 {
		return "", domain.NotFound("batch %s has no history", batchID)
	}
	return toJSON(history)
}
