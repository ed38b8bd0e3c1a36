package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/xerrors"
	jose "gopkg.in/square/go-jose.v2"

	"ewp-backend/models"
)

// DefaultTimeout bounds every call to a ledger node.
const DefaultTimeout = 10 * time.Second

// Client talks to one remote ledger node.
type Client struct {
	BaseURL string
	Token   string
	Role    models.NodeRole
	http    *http.Client
}

// NewClient returns a client whose calls abort after timeout.
func NewClient(baseURL, token string, role models.NodeRole, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Role:    role,
		http:    &http.Client{Timeout: timeout},
	}
}

// NodeInfo is the body of GET /v1/node.
type NodeInfo struct {
	NodeID            string             `json:"node_id"`
	Role              models.NodeRole    `json:"role"`
	AllowedEventTypes []models.EventType `json:"allowed_event_types"`
	SigningKey        jose.JSONWebKey    `json:"signing_key"`
	Head              *Head              `json:"head"`
}

// EntriesPage is the body of GET /v1/ledger/entries.
type EntriesPage struct {
	Entries  []*models.LedgerEntry `json:"entries"`
	NextFrom uint64                `json:"next_from,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Errorf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var er models.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != nil {
			return er.Error
		}
		return xerrors.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Append posts an event.
func (c *Client) Append(ctx context.Context, ev *models.VclEvent) (*AppendResult, error) {
	var res AppendResult
	if err := c.do(ctx, http.MethodPost, "/v1/ledger/append", ev, &res); err != nil {
		return nil, err
	}
	if res.Ack == nil || res.Entry == nil {
		return nil, xerrors.New("append response without entry or ack")
	}
	return &res, nil
}

// Node fetches the node description including its ack key.
func (c *Client) Node(ctx context.Context) (*NodeInfo, error) {
	var info NodeInfo
	return &info, c.do(ctx, http.MethodGet, "/v1/node", nil, &info)
}

// Head fetches the chain tip.
func (c *Client) Head(ctx context.Context) (*Head, error) {
	var h Head
	return &h, c.do(ctx, http.MethodGet, "/v1/ledger/head", nil, &h)
}

// Entries fetches one page.
func (c *Client) Entries(ctx context.Context, from uint64, limit int) (*EntriesPage, error) {
	var p EntriesPage
	path := fmt.Sprintf("/v1/ledger/entries?from=%d&limit=%d", from, limit)
	return &p, c.do(ctx, http.MethodGet, path, nil, &p)
}

// AllEntries walks every page.
func (c *Client) AllEntries(ctx context.Context) ([]*models.LedgerEntry, error) {
	var all []*models.LedgerEntry
	from := uint64(1)
	for {
		page, err := c.Entries(ctx, from, 500)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entries...)
		if page.NextFrom == 0 {
			return all, nil
		}
		from = page.NextFrom
	}
}
