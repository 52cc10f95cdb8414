package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultRPCTimeout bounds one gateway round trip. Confirmation waits happen
// gateway-side, so submissions can legitimately take a while.
const DefaultRPCTimeout = 90 * time.Second

// Client implements Ledger against the chain gateway's HTTP JSON API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a gateway client. timeout <= 0 selects DefaultRPCTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	Op string `json:"op"`
}

type submitResponse struct {
	Signature string `json:"signature"`
	Error     *struct {
		Code uint32 `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error,omitempty"`
}

// SubmitAndConfirm sends the operation and waits for finality. A structured
// program rejection comes back as *ProgramError.
func (c *Client) SubmitAndConfirm(ctx context.Context, op []byte) (Signature, error) {
	var resp submitResponse
	if err := c.post(ctx, "/api/ledger/submit", &submitRequest{Op: hex.EncodeToString(op)}, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", &ProgramError{Code: resp.Error.Code, Msg: resp.Error.Msg}
	}
	return Signature(resp.Signature), nil
}

type accountRequest struct {
	Address string `json:"address"`
}

type accountResponse struct {
	Found bool   `json:"found"`
	Data  string `json:"data"`
}

// ReadAccount fetches one account's raw bytes.
func (c *Client) ReadAccount(ctx context.Context, addr Address) ([]byte, error) {
	var resp accountResponse
	if err := c.post(ctx, "/api/ledger/account", &accountRequest{Address: addr.Hex()}, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, ErrAccountNotFound
	}
	data, err := hex.DecodeString(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("gateway returned malformed account data: %w", err)
	}
	return data, nil
}

type accountsRequest struct {
	Kind   byte   `json:"kind"`
	PoolID uint64 `json:"pool_id,omitempty"`
}

type accountsResponse struct {
	Accounts []string `json:"accounts"`
}

// ReadProgramAccounts fetches all program accounts matching the filter.
func (c *Client) ReadProgramAccounts(ctx context.Context, filter AccountFilter) ([][]byte, error) {
	var resp accountsResponse
	req := &accountsRequest{Kind: byte(filter.Kind), PoolID: filter.PoolID}
	if err := c.post(ctx, "/api/ledger/accounts", req, &resp); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(resp.Accounts))
	for _, s := range resp.Accounts {
		data, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("gateway returned malformed account data: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

type proveRequest struct {
	Commitment string `json:"commitment"`
}

type proveResponse struct {
	Found     bool     `json:"found"`
	Root      string   `json:"root"`
	Siblings  []string `json:"siblings"`
	LeafIndex uint64   `json:"leaf_index"`
}

// ProveInclusion fetches a merkle inclusion proof for the commitment.
func (c *Client) ProveInclusion(ctx context.Context, commitment Hash) (*InclusionProof, error) {
	var resp proveResponse
	if err := c.post(ctx, "/api/ledger/prove", &proveRequest{Commitment: commitment.Hex()}, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, ErrAccountNotFound
	}
	root, err := ParseHash(resp.Root)
	if err != nil {
		return nil, err
	}
	siblings := make([]Hash, 0, len(resp.Siblings))
	for _, s := range resp.Siblings {
		h, err := ParseHash(s)
		if err != nil {
			return nil, err
		}
		siblings = append(siblings, h)
	}
	return &InclusionProof{Root: root, Siblings: siblings, LeafIndex: resp.LeafIndex}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
