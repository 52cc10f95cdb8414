package prover

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"veilcore/internal/veilerr"
)

// DefaultProveTimeout bounds one proving request end to end. Groth16 proving
// for a depth-20 tree routinely takes tens of seconds on the service side.
const DefaultProveTimeout = 10 * time.Minute

// Client talks to the external proving service over HTTP JSON.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a proving service client. timeout <= 0 selects
// DefaultProveTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultProveTimeout
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// WithdrawProofRequest is the proving service request payload. Witness values
// are 32-byte big-endian hex, positional, private first.
type WithdrawProofRequest struct {
	Circuit string   `json:"circuit"`
	Depth   int      `json:"depth"`
	Witness []string `json:"witness"`
}

// WithdrawProofResponse is the proving service response payload.
type WithdrawProofResponse struct {
	Success        bool    `json:"success"`
	ProofData      string  `json:"proof_data"`
	GenerationTime *string `json:"generation_time,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
}

// ProveWithdrawal runs one proving request. The returned bytes are the
// serialized groth16 proof.
func (c *Client) ProveWithdrawal(ctx context.Context, in *WithdrawalInputs) ([]byte, error) {
	reqBody := &WithdrawProofRequest{
		Circuit: "withdraw",
		Depth:   in.Depth(),
		Witness: in.Vector(),
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/proof/withdraw", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, veilerr.Wrap(veilerr.KindAborted, ctx.Err(), "proving cancelled")
		}
		return nil, veilerr.Wrap(veilerr.KindNetworkError, err, "proving service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, veilerr.Wrap(veilerr.KindNetworkError, err, "reading proving response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, veilerr.E(veilerr.KindProofGenerationFailed,
			fmt.Sprintf("proving service returned %d: %s", resp.StatusCode, string(body)))
	}

	var result WithdrawProofResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, veilerr.Wrap(veilerr.KindProofGenerationFailed, err, "unmarshaling proving response")
	}
	if !result.Success {
		msg := "proving service reported failure"
		if result.ErrorMessage != nil {
			msg = *result.ErrorMessage
		}
		return nil, veilerr.E(veilerr.KindProofGenerationFailed, msg)
	}

	proof, err := hex.DecodeString(result.ProofData)
	if err != nil {
		return nil, veilerr.Wrap(veilerr.KindProofGenerationFailed, err, "decoding proof data")
	}
	if len(proof) == 0 {
		return nil, veilerr.E(veilerr.KindProofGenerationFailed, "empty proof data")
	}
	return proof, nil
}

// Healthy probes the proving service.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return veilerr.Wrap(veilerr.KindNetworkError, err, "proving service health check")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return veilerr.E(veilerr.KindNetworkError,
			fmt.Sprintf("proving service health returned %d", resp.StatusCode))
	}
	return nil
}
