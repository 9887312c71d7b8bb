// Package ledger adapts the distributed ledger's consensus, file and
// smart-contract services. It owns no state: every call is a network
// round trip and side effects cannot be rolled back from here.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// StatusSuccess is the receipt status of an accepted operation.
const StatusSuccess = "SUCCESS"

// Receipt describes the ledger's confirmation of one operation.
type Receipt struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	TopicSequence int64  `json:"topicSequenceNumber,omitempty"`
	ContractID    string `json:"contractId,omitempty"`
	FileID        string `json:"fileId,omitempty"`
}

// Gateway issues write operations. Privileged operations are signed with
// the platform key held by the ledger node service.
type Gateway interface {
	SubmitSigned(ctx context.Context, signed []byte) (Receipt, error)
	ExecutePrivileged(ctx context.Context, contractID, function string, args []any, gas uint64) (Receipt, error)
	SubmitPrivilegedMessage(ctx context.Context, channelID string, payload []byte) (Receipt, error)
	CreateFile(ctx context.Context, contents []byte) (Receipt, error)
	AppendFile(ctx context.Context, fileID string, contents []byte) (Receipt, error)
}

// ChannelMessage is one entry of a channel's consensus log.
type ChannelMessage struct {
	Sequence           int64
	ConsensusTimestamp string
	Payer              string
	Payload            []byte
}

// Page is one page of a channel. Next is empty on the last page.
type Page struct {
	Messages []ChannelMessage
	Next     string
}

// ContractResult is the indexer's view of a contract create or call.
type ContractResult struct {
	TransactionID string `json:"transaction_id"`
	ContractID    string `json:"contract_id"`
	Result        string `json:"result"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Indexer reads the lagging, eventually consistent index of the ledger.
type Indexer interface {
	FetchChannelPage(ctx context.Context, channelID, cursor string) (Page, error)
	ContractResult(ctx context.Context, transactionID string) (ContractResult, error)
}

// ErrNotIndexed is returned by the indexer while a transaction is not yet
// visible. It is the only retryable lookup failure.
var ErrNotIndexed = errors.New("not indexed yet")

// NetworkError is a transport-level failure talking to the ledger.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("ledger %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedError is returned when the ledger refused an operation, for
// example an underpriced or invalidly signed transaction.
type RejectedError struct {
	Op      string
	Status  string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ledger rejected %s: %s (%s)", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("ledger rejected %s: %s", e.Op, e.Status)
}

func checkReceipt(op string, r Receipt) (Receipt, error) {
	if r.Status != StatusSuccess {
		return r, &RejectedError{Op: op, Status: r.Status}
	}
	return r, nil
}
