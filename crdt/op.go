package crdt

import "github.com/google/uuid"

// Operation is the replicable description of a local change: it names the
// target CRDT, the operation, its payload, and where and when it was
// created. OperationID is used only for transport-side de-duplication; it
// is never relied on for convergence.
type Operation struct {
	CRDTID      string         `json:"crdtId"`
	Name        string         `json:"operation"`
	Data        map[string]any `json:"data"`
	OriginID    string         `json:"nodeId"`
	Timestamp   int64          `json:"timestamp"`
	OperationID string         `json:"operationId"`
}

// NewOperation builds an Operation record. When opID is empty a fresh UUID
// is generated; unlike the origin/timestamp pair, it stays unique even when
// a replica performs two operations within the same millisecond.
func NewOperation(crdtID, name string, data map[string]any, origin string, timestampMillis int64, opID string) Operation {
	if data == nil {
		data = map[string]any{}
	}
	if opID == "" {
		opID = uuid.NewString()
	}
	return Operation{
		CRDTID:      crdtID,
		Name:        name,
		Data:        data,
		OriginID:    origin,
		Timestamp:   timestampMillis,
		OperationID: opID,
	}
}
