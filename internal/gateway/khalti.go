package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"grocery-order-service/internal/service"
)

const defaultTimeout = 8 * time.Second

// KhaltiClient verifies payments with Khalti's ePayment lookup API
type KhaltiClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

var _ service.GatewayVerifier = (*KhaltiClient)(nil)

// NewKhaltiClient builds a lookup client. timeout <= 0 uses the default.
func NewKhaltiClient(baseURL, secretKey string, timeout time.Duration) *KhaltiClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &KhaltiClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
	}
}

type lookupPayload struct {
	PIDX          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// Lookup asks Khalti for the state of pidx. An unknown pidx maps to
// service.ErrUnknownTransaction.
func (c *KhaltiClient) Lookup(ctx context.Context, pidx string) (*service.GatewayOutcome, error) {
	endpoint, err := url.JoinPath(c.baseURL, "epayment", "lookup/")
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]string{"pidx": pidx})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Key "+c.secretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("khalti lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: khalti has no pidx %s", service.ErrUnknownTransaction, pidx)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("khalti lookup status %d: %s", resp.StatusCode, drainError(resp.Body))
	}

	var payload lookupPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode khalti lookup: %w", err)
	}

	return &service.GatewayOutcome{
		TransactionID: payload.PIDX,
		Status:        payload.Status,
		Amount:        payload.TotalAmount,
	}, nil
}

func drainError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
