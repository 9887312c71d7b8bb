// Package ledgertest provides an in-memory ledger implementing both
// ledger.Gateway and ledger.Indexer for tests.
package ledgertest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gigledger/internal/ledger"
)

// Call records one gateway invocation.
type Call struct {
	Op       string
	Target   string
	Function string
	Payload  []byte
	Gas      uint64
}

// Ledger simulates consensus channels, file staging and contract results.
// Signed bytes passed to SubmitSigned are the encoded unsigned payload;
// the fake does not check signatures.
type Ledger struct {
	mu sync.Mutex

	// PageSize bounds FetchChannelPage results. Zero means 2.
	PageSize int
	// IndexLag is the number of ContractResult lookups that report
	// ErrNotIndexed for each transaction before it becomes visible.
	IndexLag int
	// FirstContractNum is the num of the first created contract. Zero means 555.
	FirstContractNum int64

	channels    map[string][]ledger.ChannelMessage
	results     map[string]ledger.ContractResult
	polls       map[string]int
	files       map[string][]byte
	contracts   map[string]bool
	nextFile    int64
	nextContr   int64
	failures    map[string]error
	fetchFailAt map[string]int
	calls       []Call
}

func New() *Ledger {
	return &Ledger{
		channels:    map[string][]ledger.ChannelMessage{},
		results:     map[string]ledger.ContractResult{},
		polls:       map[string]int{},
		files:       map[string][]byte{},
		contracts:   map[string]bool{},
		failures:    map[string]error{},
		fetchFailAt: map[string]int{},
		nextFile:    9000,
	}
}

// Fail makes the next call of op fail with err. Ops: submit, execute,
// message, file_create, file_append.
func (l *Ledger) Fail(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op] = err
}

// FailFetch makes fetching page number page (0-based) of channel fail.
func (l *Ledger) FailFetch(channel string, page int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchFailAt[channel] = page
}

// ClearFetchFailures removes all FailFetch settings.
func (l *Ledger) ClearFetchFailures() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchFailAt = map[string]int{}
}

func (l *Ledger) takeFailure(op string) error {
	err, ok := l.failures[op]
	if ok {
		delete(l.failures, op)
	}
	return err
}

// Calls returns a copy of the recorded gateway calls.
func (l *Ledger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// CallsOf returns the recorded calls with the given op.
func (l *Ledger) CallsOf(op string) []Call {
	var out []Call
	for _, c := range l.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// File returns the staged contents of fileID.
func (l *Ledger) File(fileID string) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.files[fileID]...)
}

// Publish JSON-encodes evt and appends it to channel, returning its sequence.
func (l *Ledger) Publish(channel string, evt any) int64 {
	raw, err := json.Marshal(evt)
	if err != nil {
		panic(err)
	}
	return l.PublishRaw(channel, raw)
}

// PublishRaw appends raw bytes to channel.
func (l *Ledger) PublishRaw(channel string, raw []byte) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(channel, "0.0.2", raw)
}

func (l *Ledger) appendLocked(channel, payer string, raw []byte) int64 {
	seq := int64(len(l.channels[channel]) + 1)
	l.channels[channel] = append(l.channels[channel], ledger.ChannelMessage{
		Sequence:           seq,
		ConsensusTimestamp: fmt.Sprintf("%d.%09d", 1700000000+seq, 0),
		Payer:              payer,
		Payload:            append([]byte(nil), raw...),
	})
	return seq
}

// Messages returns the payloads published to channel.
func (l *Ledger) Messages(channel string) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out [][]byte
	for _, m := range l.channels[channel] {
		out = append(out, m.Payload)
	}
	return out
}

// SetResult makes the indexer report res for transactionID.
func (l *Ledger) SetResult(transactionID string, res ledger.ContractResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res.TransactionID = ledger.NormalizeTransactionID(transactionID)
	l.results[res.TransactionID] = res
}

// Polls returns how many ContractResult lookups were made for transactionID.
func (l *Ledger) Polls(transactionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.polls[ledger.NormalizeTransactionID(transactionID)]
}

func (l *Ledger) SubmitSigned(ctx context.Context, signed []byte) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Op: "submit", Payload: signed})
	if err := l.takeFailure("submit"); err != nil {
		return ledger.Receipt{}, err
	}
	tx, err := ledger.DecodeUnsigned(base64.StdEncoding.EncodeToString(signed))
	if err != nil {
		return ledger.Receipt{}, &ledger.RejectedError{Op: "submit", Status: "INVALID_TRANSACTION_BODY", Message: err.Error()}
	}
	receipt := ledger.Receipt{TransactionID: tx.TransactionID, Status: ledger.StatusSuccess}
	normalized := ledger.NormalizeTransactionID(tx.TransactionID)
	switch tx.Kind {
	case ledger.KindTopicMessage:
		receipt.TopicSequence = l.appendLocked(tx.TopicID, tx.Payer, tx.Message)
	case ledger.KindContractCreate:
		if _, ok := l.files[tx.FileID]; !ok {
			return ledger.Receipt{}, &ledger.RejectedError{Op: "submit", Status: "INVALID_FILE_ID"}
		}
		id := l.newContractLocked()
		receipt.ContractID = id
		l.results[normalized] = ledger.ContractResult{TransactionID: normalized, ContractID: id, Result: ledger.StatusSuccess}
	case ledger.KindContractCall:
		if !l.contracts[tx.ContractID] {
			return ledger.Receipt{}, &ledger.RejectedError{Op: "submit", Status: "INVALID_CONTRACT_ID"}
		}
		receipt.ContractID = tx.ContractID
		l.results[normalized] = ledger.ContractResult{TransactionID: normalized, ContractID: tx.ContractID, Result: ledger.StatusSuccess}
	default:
		return ledger.Receipt{}, &ledger.RejectedError{Op: "submit", Status: "NOT_SUPPORTED"}
	}
	return receipt, nil
}

func (l *Ledger) newContractLocked() string {
	if l.nextContr == 0 {
		l.nextContr = l.FirstContractNum
		if l.nextContr == 0 {
			l.nextContr = 555
		}
	}
	id := "0.0." + strconv.FormatInt(l.nextContr, 10)
	l.nextContr++
	l.contracts[id] = true
	return id
}

func (l *Ledger) ExecutePrivileged(ctx context.Context, contractID, function string, args []any, gas uint64) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Op: "execute", Target: contractID, Function: function, Gas: gas})
	if err := l.takeFailure("execute"); err != nil {
		return ledger.Receipt{}, err
	}
	if _, err := ledger.EncodeEscrowCall(function, args...); err != nil {
		return ledger.Receipt{}, err
	}
	if !l.contracts[contractID] {
		return ledger.Receipt{}, &ledger.RejectedError{Op: "execute " + function, Status: "INVALID_CONTRACT_ID"}
	}
	return ledger.Receipt{TransactionID: ledger.TransactionIDAt("0.0.2", time.Now()), Status: ledger.StatusSuccess, ContractID: contractID}, nil
}

func (l *Ledger) SubmitPrivilegedMessage(ctx context.Context, channelID string, payload []byte) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Op: "message", Target: channelID, Payload: payload})
	if err := l.takeFailure("message"); err != nil {
		return ledger.Receipt{}, err
	}
	seq := l.appendLocked(channelID, "0.0.2", payload)
	return ledger.Receipt{TransactionID: ledger.TransactionIDAt("0.0.2", time.Now()), Status: ledger.StatusSuccess, TopicSequence: seq}, nil
}

func (l *Ledger) CreateFile(ctx context.Context, contents []byte) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Op: "file_create", Payload: contents})
	if err := l.takeFailure("file_create"); err != nil {
		return ledger.Receipt{}, err
	}
	l.nextFile++
	id := "0.0." + strconv.FormatInt(l.nextFile, 10)
	l.files[id] = append([]byte(nil), contents...)
	return ledger.Receipt{TransactionID: ledger.TransactionIDAt("0.0.2", time.Now()), Status: ledger.StatusSuccess, FileID: id}, nil
}

func (l *Ledger) AppendFile(ctx context.Context, fileID string, contents []byte) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Op: "file_append", Target: fileID, Payload: contents})
	if err := l.takeFailure("file_append"); err != nil {
		return ledger.Receipt{}, err
	}
	if _, ok := l.files[fileID]; !ok {
		return ledger.Receipt{}, &ledger.RejectedError{Op: "file append", Status: "INVALID_FILE_ID"}
	}
	l.files[fileID] = append(l.files[fileID], contents...)
	return ledger.Receipt{TransactionID: ledger.TransactionIDAt("0.0.2", time.Now()), Status: ledger.StatusSuccess, FileID: fileID}, nil
}

// FetchChannelPage pages through channel. Cursors are the decimal index of
// the next message.
func (l *Ledger) FetchChannelPage(ctx context.Context, channelID, cursor string) (ledger.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	size := l.PageSize
	if size <= 0 {
		size = 2
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return ledger.Page{}, fmt.Errorf("bad cursor %q", cursor)
		}
		start = n
	}
	if failAt, ok := l.fetchFailAt[channelID]; ok && start/size >= failAt {
		return ledger.Page{}, &ledger.NetworkError{Op: "fetch " + channelID, Err: fmt.Errorf("connection reset")}
	}
	msgs := l.channels[channelID]
	end := start + size
	if end > len(msgs) {
		end = len(msgs)
	}
	page := ledger.Page{Messages: append([]ledger.ChannelMessage(nil), msgs[start:end]...)}
	if end < len(msgs) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (l *Ledger) ContractResult(ctx context.Context, transactionID string) (ledger.ContractResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := ledger.NormalizeTransactionID(transactionID)
	l.polls[id]++
	res, ok := l.results[id]
	if !ok || l.polls[id] <= l.IndexLag {
		return ledger.ContractResult{}, ledger.ErrNotIndexed
	}
	return res, nil
}
