package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// RPCClient implements Gateway against the ledger node service's JSON-RPC
// endpoint. The node service holds the platform operator key and signs
// privileged operations on our behalf.
type RPCClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCClient(baseURL, authToken string) *RPCClient {
	return &RPCClient{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCError   `json:"error"`
}

type jsonRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *RPCClient) SubmitSigned(ctx context.Context, signed []byte) (Receipt, error) {
	if len(signed) == 0 {
		return Receipt{}, errors.New("signed transaction is empty")
	}
	var r Receipt
	params := map[string]string{"transaction": base64.StdEncoding.EncodeToString(signed)}
	if err := c.call(ctx, "ledger_submitTransaction", params, &r); err != nil {
		return Receipt{}, err
	}
	return checkReceipt("submit", r)
}

func (c *RPCClient) ExecutePrivileged(ctx context.Context, contractID, function string, args []any, gas uint64) (Receipt, error) {
	data, err := EncodeEscrowCall(function, args...)
	if err != nil {
		return Receipt{}, err
	}
	params := map[string]any{
		"contractId": contractID,
		"function":   function,
		"callData":   "0x" + hex.EncodeToString(data),
		"gas":        gas,
	}
	var r Receipt
	if err := c.call(ctx, "ledger_executeContract", params, &r); err != nil {
		return Receipt{}, err
	}
	return checkReceipt("execute "+function, r)
}

func (c *RPCClient) SubmitPrivilegedMessage(ctx context.Context, channelID string, payload []byte) (Receipt, error) {
	if len(payload) > MaxMessageBytes {
		return Receipt{}, fmt.Errorf("message is %d bytes; limit is %d", len(payload), MaxMessageBytes)
	}
	params := map[string]string{
		"topicId": channelID,
		"message": base64.StdEncoding.EncodeToString(payload),
	}
	var r Receipt
	if err := c.call(ctx, "ledger_submitTopicMessage", params, &r); err != nil {
		return Receipt{}, err
	}
	return checkReceipt("topic message", r)
}

func (c *RPCClient) CreateFile(ctx context.Context, contents []byte) (Receipt, error) {
	var r Receipt
	params := map[string]string{"contents": base64.StdEncoding.EncodeToString(contents)}
	if err := c.call(ctx, "ledger_fileCreate", params, &r); err != nil {
		return Receipt{}, err
	}
	r, err := checkReceipt("file create", r)
	if err == nil && r.FileID == "" {
		return r, &RejectedError{Op: "file create", Status: r.Status, Message: "receipt carries no file id"}
	}
	return r, err
}

func (c *RPCClient) AppendFile(ctx context.Context, fileID string, contents []byte) (Receipt, error) {
	var r Receipt
	params := map[string]string{"fileId": fileID, "contents": base64.StdEncoding.EncodeToString(contents)}
	if err := c.call(ctx, "ledger_fileAppend", params, &r); err != nil {
		return Receipt{}, err
	}
	return checkReceipt("file append", r)
}

func (c *RPCClient) call(ctx context.Context, method string, params any, out any) error {
	body := jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: []any{params}, ID: c.nextID.Add(1)}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: method, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &NetworkError{Op: method, Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &NetworkError{Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if rpcResp.Error != nil {
		return &RejectedError{Op: method, Status: fmt.Sprintf("RPC_%d", rpcResp.Error.Code), Message: rpcResp.Error.Message}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return &NetworkError{Op: method, Err: errors.New("empty result")}
	}
	return json.Unmarshal(rpcResp.Result, out)
}
