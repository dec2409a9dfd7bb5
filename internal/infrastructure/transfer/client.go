// Package transfer is the HTTP adapter for the external token network's transfer service.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"grove-ledger/internal/application/claims"
)

// HTTPClient is a claims.TransferExecutor backed by the executor's HTTP API.
type HTTPClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

var _ claims.TransferExecutor = (*HTTPClient)(nil)

type transferBody struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

type transferResponse struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Error         string `json:"error"`
}

// Transfer posts one transfer. The claim id is sent as Idempotency-Key so a replay by an
// operator cannot move funds twice.
//
// 4xx answers (other than 408, 409 and 429) mean the executor refused the transfer and are
// returned wrapping claims.ErrTransferDeclined. Everything else, including a deadline, leaves
// the outcome unknown.
func (c *HTTPClient) Transfer(ctx context.Context, req claims.TransferRequest) (*claims.TransferResult, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: TRANSFER_EXECUTOR_URL is not set", claims.ErrTransferDeclined)
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/transfers"

	bodyBytes, err := json.Marshal(transferBody{To: req.Address, Amount: req.Amount, Memo: req.Memo})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", claims.ErrTransferDeclined, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", claims.ErrTransferDeclined, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transfer executor request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if declined(resp.StatusCode) {
			return nil, fmt.Errorf("%w: status %d body: %s", claims.ErrTransferDeclined, resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("transfer executor error: status %d body: %s", resp.StatusCode, string(respBody))
	}

	var data transferResponse
	if err := json.Unmarshal(respBody, &data); err != nil {
		// accepted but unreadable: funds may have moved
		return nil, fmt.Errorf("transfer executor response decode: %w", err)
	}
	if strings.EqualFold(data.Status, "rejected") || strings.EqualFold(data.Status, "failed") {
		return nil, fmt.Errorf("%w: %s", claims.ErrTransferDeclined, data.Error)
	}
	ref := data.Reference
	if ref == "" {
		ref = data.TransactionID
	}
	if ref == "" {
		return nil, fmt.Errorf("transfer executor returned no reference, body: %s", string(respBody))
	}
	return &claims.TransferResult{Reference: ref}, nil
}

var defaultClient = &http.Client{Timeout: 30 * time.Second}

func (c *HTTPClient) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return defaultClient
}

func declined(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

// Ping checks that the executor answers on its health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	if c.BaseURL == "" {
		return fmt.Errorf("transfer executor not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transfer executor health: status %d", resp.StatusCode)
	}
	return nil
}
