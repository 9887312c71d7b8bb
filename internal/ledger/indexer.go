package ledger

import (
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

// IndexerClient implements Indexer against the ledger's REST mirror.
type IndexerClient struct {
	baseURL   string
	pageLimit int
	http      *http.Client
}

func NewIndexerClient(baseURL string, pageLimit int) *IndexerClient {
	if pageLimit <= 0 {
		pageLimit = 100
	}
	return &IndexerClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		pageLimit: pageLimit,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type topicMessagesResponse struct {
	Messages []struct {
		ConsensusTimestamp string `json:"consensus_timestamp"`
		Message            string `json:"message"`
		PayerAccountID     string `json:"payer_account_id"`
		SequenceNumber     int64  `json:"sequence_number"`
	} `json:"messages"`
	Links struct {
		Next *string `json:"next"`
	} `json:"links"`
}

// FetchChannelPage returns the page at cursor, or the first page when
// cursor is empty. Messages whose payload is not valid base64 are returned
// with a nil payload so the caller can skip them.
func (c *IndexerClient) FetchChannelPage(ctx context.Context, channelID, cursor string) (Page, error) {
	target := cursor
	if target == "" {
		target = fmt.Sprintf("/api/v1/topics/%s/messages?limit=%d&order=asc", url.PathEscape(channelID), c.pageLimit)
	}
	if !strings.HasPrefix(target, "/") {
		return Page{}, fmt.Errorf("invalid cursor %q", cursor)
	}
	var body topicMessagesResponse
	status, err := c.getJSON(ctx, target, &body)
	if err != nil {
		return Page{}, err
	}
	if status == http.StatusNotFound {
		return Page{}, &NetworkError{Op: "fetch channel " + channelID, Err: fmt.Errorf("channel not found")}
	}
	page := Page{Messages: make([]ChannelMessage, 0, len(body.Messages))}
	for _, m := range body.Messages {
		payload, decErr := base64.StdEncoding.DecodeString(m.Message)
		if decErr != nil {
			payload = nil
		}
		page.Messages = append(page.Messages, ChannelMessage{
			Sequence:           m.SequenceNumber,
			ConsensusTimestamp: m.ConsensusTimestamp,
			Payer:              m.PayerAccountID,
			Payload:            payload,
		})
	}
	if body.Links.Next != nil {
		page.Next = *body.Links.Next
	}
	return page, nil
}

// ContractResult looks up a contract create or call by transaction id. It
// returns ErrNotIndexed while the indexer has not caught up.
func (c *IndexerClient) ContractResult(ctx context.Context, transactionID string) (ContractResult, error) {
	var out ContractResult
	status, err := c.getJSON(ctx, "/api/v1/contracts/results/"+url.PathEscape(NormalizeTransactionID(transactionID)), &out)
	if err != nil {
		return ContractResult{}, err
	}
	if status == http.StatusNotFound {
		return ContractResult{}, ErrNotIndexed
	}
	return out, nil
}

// getJSON decodes a 200 response into out and reports 404 through the
// returned status. Any other status is an error.
func (c *IndexerClient) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &NetworkError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return resp.StatusCode, nil
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &NetworkError{Op: "GET " + path, Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, &NetworkError{Op: "GET " + path, Err: fmt.Errorf("decode: %w", err)}
	}
	return resp.StatusCode, nil
}

// NormalizeTransactionID converts payer@seconds.nanos into the indexer's
// payer-seconds-nanos form. Already normalized ids pass through.
func NormalizeTransactionID(id string) string {
	id = strings.TrimSpace(id)
	at := strings.Index(id, "@")
	if at < 0 {
		return id
	}
	payer, ts := id[:at], id[at+1:]
	secs, nanos, ok := strings.Cut(ts, ".")
	if !ok {
		return payer + "-" + ts
	}
	return payer + "-" + secs + "-" + nanos
}
