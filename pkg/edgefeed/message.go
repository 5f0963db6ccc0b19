package edgefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NotCoffee418/edge_billing/pkg/types"
)

const (
	jsonRPCVersion = "2.0"

	MethodSubscribe = "subscribeEdgeRows"
	MethodEdgeRows  = "edgeRows"
)

var ErrUnexpectedMethod = errors.New("edgefeed: unexpected method")

// Request is a JSON-RPC request sent to the edge backend.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Notification is a JSON-RPC message from the backend. Responses carry an ID
// and Result or Error; notifications carry Method and Params.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("edgefeed: rpc error %d: %s", e.Code, e.Message)
}

// SubscribeParams selects the edge whose rows are pushed.
type SubscribeParams struct {
	EdgeID string `json:"edgeId"`
}

// RowParams is the payload of an edgeRows notification.
type RowParams struct {
	EdgeID    string    `json:"edgeId"`
	Timestamp time.Time `json:"timestamp"`
	Values    types.Row `json:"values"`
}

// NewSubscribeRequest builds a subscription with a fresh request id.
func NewSubscribeRequest(edgeID string) Request {
	return Request{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  MethodSubscribe,
		Params:  SubscribeParams{EdgeID: edgeID},
	}
}

// EdgeRow is a row received for one edge.
type EdgeRow struct {
	EdgeID string
	Row    types.TimedRow
}

// ParseMessage decodes one websocket message. It returns nil without error
// for responses that carry no row.
func ParseMessage(data []byte) (*EdgeRow, error) {
	var msg Notification
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("edgefeed: decode: %w", err)
	}
	if msg.Error != nil {
		return nil, msg.Error
	}
	if msg.Method == "" {
		return nil, nil
	}
	if msg.Method != MethodEdgeRows {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedMethod, msg.Method)
	}

	var params RowParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, fmt.Errorf("edgefeed: decode params: %w", err)
	}
	return &EdgeRow{
		EdgeID: params.EdgeID,
		Row: types.TimedRow{
			Timestamp: params.Timestamp.UTC(),
			Values:    params.Values,
		},
	}, nil
}
