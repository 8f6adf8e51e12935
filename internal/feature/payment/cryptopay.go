package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"game_results_bot/internal/domain"
)

const defaultCryptoPayBaseURL = "https://zerocryptopay.com"

// CryptoPayChecker looks up incoming transfers through the zerocryptopay API.
// It implements StatusChecker for the crypto payment watcher.
type CryptoPayChecker struct {
	BaseURL string
	APIKey  string
	Address string
	Client  *http.Client
}

type cryptoPayStatus struct {
	Status  string  `json:"status"`
	Paid    bool    `json:"paid"`
	TxnHash string  `json:"txn_hash"`
	Amount  float64 `json:"amount"`
}

// Check reports whether the transfer behind the pending payment has settled.
func (c *CryptoPayChecker) Check(ctx context.Context, payment domain.Payment) (bool, string, error) {
	if c == nil || c.APIKey == "" {
		return false, "", errors.New("crypto pay checker is not configured")
	}
	if ctx == nil {
		return false, "", errors.New("context is required")
	}
	if payment.TransactionID == "" {
		return false, "", errors.New("transaction id is required")
	}

	base := c.BaseURL
	if base == "" {
		base = defaultCryptoPayBaseURL
	}

	query := url.Values{}
	query.Set("token", c.APIKey)
	query.Set("order_id", payment.TransactionID)
	query.Set("address", c.Address)
	endpoint := fmt.Sprintf("%s/api/payment/status?%s", base, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, "", fmt.Errorf("build status request: %w", err)
	}

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("query payment status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("payment status request failed with HTTP %d", resp.StatusCode)
	}

	var status cryptoPayStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, "", fmt.Errorf("decode payment status: %w", err)
	}

	if !status.Paid {
		return false, "", nil
	}

	// Partial transfers stay pending until the full amount arrives.
	if status.Amount > 0 && status.Amount < payment.Amount {
		return false, "", nil
	}

	return true, status.TxnHash, nil
}
