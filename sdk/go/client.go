package gigledgersdk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal gigledger HTTP API client. Wallet signing stays with
// the caller: Prepare* results carry unsigned envelopes and SubmitSigned
// forwards the signed bytes.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://localhost:8080/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Budget carries the amount as a decimal string.
type Budget struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Gig represents the API gig model (partial).
type Gig struct {
	RefID                string `json:"ref_id"`
	ClientID             string `json:"client_id"`
	Title                string `json:"title"`
	Budget               Budget `json:"budget"`
	Visibility           string `json:"visibility"`
	Status               string `json:"status"`
	EscrowStatus         string `json:"escrow_status"`
	EscrowContractID     string `json:"escrow_contract_id,omitempty"`
	AssignedFreelancerID string `json:"assigned_freelancer_id,omitempty"`
}

// GigPage wraps gig listings with a cursor.
type GigPage struct {
	Gigs       []Gig  `json:"gigs"`
	NextCursor string `json:"next_cursor"`
}

type XP struct {
	AccountID string `json:"account_id"`
	XP        int64  `json:"xp"`
}

// Envelope is an unsigned ledger transaction awaiting a wallet signature.
type Envelope struct {
	Kind          string `json:"kind"`
	TransactionID string `json:"transaction_id"`
	Payer         string `json:"payer"`
	Payload       string `json:"payload"`
}

type Receipt struct {
	TransactionID       string `json:"transactionId"`
	Status              string `json:"status"`
	TopicSequenceNumber int64  `json:"topicSequenceNumber,omitempty"`
	ContractID          string `json:"contractId,omitempty"`
}

type SyncResult struct {
	Results []struct {
		Channel   string `json:"channel"`
		Processed int    `json:"processed"`
		Skipped   int    `json:"skipped"`
	} `json:"results"`
	Errors []string `json:"errors,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetGig fetches a gig by reference id.
func (c *Client) GetGig(ctx context.Context, ref string) (Gig, error) {
	var resp Gig
	err := c.do(ctx, http.MethodGet, "gigs/"+url.PathEscape(ref), nil, &resp)
	return resp, err
}

// ListGigs returns one page of gigs filtered by status ("" for all).
func (c *Client) ListGigs(ctx context.Context, status string, limit int, cursor string) (GigPage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "gigs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp GigPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// XP returns an account's experience points.
func (c *Client) XP(ctx context.Context, accountID string) (XP, error) {
	var resp XP
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("users/%s/xp", url.PathEscape(accountID)), nil, &resp)
	return resp, err
}

// PrepareLock returns the unsigned deposit call for a gig's escrow.
func (c *Client) PrepareLock(ctx context.Context, ref, clientID, amount string) (Envelope, error) {
	body := map[string]any{
		"client_id": clientID,
		"amount":    amount,
	}
	var resp Envelope
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("gigs/%s/prepare-lock-escrow", url.PathEscape(ref)), body, &resp)
	return resp, err
}

// SubmitSigned forwards wallet-signed transaction bytes to the ledger.
func (c *Client) SubmitSigned(ctx context.Context, signed []byte) (Receipt, error) {
	body := map[string]any{"signed": base64.StdEncoding.EncodeToString(signed)}
	var resp Receipt
	err := c.do(ctx, http.MethodPost, "transactions/submit", body, &resp)
	return resp, err
}

// ArbiterRelease pays a disputed escrow out to the worker. Requires an
// arbiter bearer token.
func (c *Client) ArbiterRelease(ctx context.Context, contractID string) (Gig, error) {
	return c.arbiter(ctx, "release", contractID)
}

// ArbiterCancel refunds a disputed escrow to the client.
func (c *Client) ArbiterCancel(ctx context.Context, contractID string) (Gig, error) {
	return c.arbiter(ctx, "cancel", contractID)
}

func (c *Client) arbiter(ctx context.Context, action, contractID string) (Gig, error) {
	var resp Gig
	err := c.do(ctx, http.MethodPost, "arbiter/"+action, map[string]any{"contract_id": contractID}, &resp)
	return resp, err
}

// Sync replays one channel (profiles, gigs, messages) or all of them.
func (c *Client) Sync(ctx context.Context, channel string) (SyncResult, error) {
	endpoint := "admin/sync"
	if channel != "" {
		endpoint += "?channel=" + url.QueryEscape(channel)
	}
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
