package circle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.circle.com"
	responseBodyReadLimit int64 = 1024
)

var (
	errAPIKeyRequired = errors.New("circle api key is required")
)

// Client wraps the Circle developer-controlled wallets API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	entitySecret string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured Circle base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds the Circle client given an API key and entity secret.
func NewClient(apiKey, entitySecret string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:       trimmedKey,
		entitySecret: strings.TrimSpace(entitySecret),
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// Wallet is the normalized wallet representation returned by Circle.
type Wallet struct {
	ID         string
	Address    string
	Blockchain string
	State      string
	WalletSet  string
}

// TokenBalance holds one token amount on a wallet.
type TokenBalance struct {
	TokenID string
	Symbol  string
	Amount  decimal.Decimal
}

// CreateWalletRequest describes a wallet provisioning call.
type CreateWalletRequest struct {
	WalletSetID string
	Blockchain  string
	RefID       string
}

// TransferRequest describes an on-chain token transfer between wallets.
type TransferRequest struct {
	IdempotencyKey string
	WalletID       string
	DestinationID  string
	TokenID        string
	Amount         decimal.Decimal
}

// Transfer is the normalized transfer state returned by Circle.
type Transfer struct {
	ID     string
	State  string
	TxHash string
	Amount decimal.Decimal
}

// CreateWallet provisions a developer-controlled wallet in the configured set.
func (c *Client) CreateWallet(ctx context.Context, req CreateWalletRequest) (*Wallet, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "circle client not configured")
	}
	if strings.TrimSpace(req.WalletSetID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet set ID is required")
	}
	if strings.TrimSpace(req.Blockchain) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "blockchain is required")
	}

	body := map[string]any{
		"idempotencyKey":         uuid.NewString(),
		"entitySecretCiphertext": c.entitySecret,
		"walletSetId":            req.WalletSetID,
		"blockchains":            []string{req.Blockchain},
		"count":                  1,
	}
	if req.RefID != "" {
		body["metadata"] = []map[string]string{{"refId": req.RefID}}
	}

	var apiResp struct {
		Data struct {
			Wallets []struct {
				ID          string `json:"id"`
				Address     string `json:"address"`
				Blockchain  string `json:"blockchain"`
				State       string `json:"state"`
				WalletSetID string `json:"walletSetId"`
			} `json:"wallets"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "v1/w3s/developer/wallets", body, &apiResp); err != nil {
		return nil, err
	}
	if len(apiResp.Data.Wallets) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "circle returned no wallets")
	}

	w := apiResp.Data.Wallets[0]
	return &Wallet{
		ID:         w.ID,
		Address:    w.Address,
		Blockchain: w.Blockchain,
		State:      w.State,
		WalletSet:  w.WalletSetID,
	}, nil
}

// GetWallet fetches a single wallet by Circle wallet ID.
func (c *Client) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "circle client not configured")
	}
	trimmed := strings.TrimSpace(walletID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet ID is required")
	}

	var apiResp struct {
		Data struct {
			Wallet struct {
				ID          string `json:"id"`
				Address     string `json:"address"`
				Blockchain  string `json:"blockchain"`
				State       string `json:"state"`
				WalletSetID string `json:"walletSetId"`
			} `json:"wallet"`
		} `json:"data"`
	}
	path := fmt.Sprintf("v1/w3s/wallets/%s", url.PathEscape(trimmed))
	if err := c.do(ctx, http.MethodGet, path, nil, &apiResp); err != nil {
		return nil, err
	}

	w := apiResp.Data.Wallet
	return &Wallet{
		ID:         w.ID,
		Address:    w.Address,
		Blockchain: w.Blockchain,
		State:      w.State,
		WalletSet:  w.WalletSetID,
	}, nil
}

// GetBalance returns the balance of a single token on the wallet. A wallet
// that has never held the token reports zero.
func (c *Client) GetBalance(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error) {
	if c == nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency, "circle client not configured")
	}
	trimmed := strings.TrimSpace(walletID)
	if trimmed == "" {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "wallet ID is required")
	}

	balances, err := c.ListBalances(ctx, trimmed)
	if err != nil {
		return decimal.Zero, err
	}
	for _, balance := range balances {
		if balance.TokenID == tokenID {
			return balance.Amount, nil
		}
	}
	return decimal.Zero, nil
}

// ListBalances fetches all token balances held by the wallet.
func (c *Client) ListBalances(ctx context.Context, walletID string) ([]TokenBalance, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "circle client not configured")
	}
	trimmed := strings.TrimSpace(walletID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet ID is required")
	}

	var apiResp struct {
		Data struct {
			TokenBalances []struct {
				Token struct {
					ID     string `json:"id"`
					Symbol string `json:"symbol"`
				} `json:"token"`
				Amount string `json:"amount"`
			} `json:"tokenBalances"`
		} `json:"data"`
	}
	path := fmt.Sprintf("v1/w3s/wallets/%s/balances", url.PathEscape(trimmed))
	if err := c.do(ctx, http.MethodGet, path, nil, &apiResp); err != nil {
		return nil, err
	}

	balances := make([]TokenBalance, 0, len(apiResp.Data.TokenBalances))
	for _, tb := range apiResp.Data.TokenBalances {
		amount, err := decimal.NewFromString(tb.Amount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse balance amount")
		}
		balances = append(balances, TokenBalance{
			TokenID: tb.Token.ID,
			Symbol:  tb.Token.Symbol,
			Amount:  amount,
		})
	}
	return balances, nil
}

// CreateTransfer moves tokens from one wallet to another. The idempotency
// key guarantees a retried call never double-spends.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "circle client not configured")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if strings.TrimSpace(req.WalletID) == "" || strings.TrimSpace(req.DestinationID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source and destination wallet IDs are required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}

	body := map[string]any{
		"idempotencyKey":         req.IdempotencyKey,
		"entitySecretCiphertext": c.entitySecret,
		"walletId":               req.WalletID,
		"destinationAddress":     req.DestinationID,
		"tokenId":                req.TokenID,
		"amounts":                []string{req.Amount.String()},
		"feeLevel":               "MEDIUM",
	}

	var apiResp struct {
		Data struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "v1/w3s/developer/transactions/transfer", body, &apiResp); err != nil {
		return nil, err
	}

	return &Transfer{
		ID:     apiResp.Data.ID,
		State:  apiResp.Data.State,
		Amount: req.Amount,
	}, nil
}

// GetTransfer fetches the current state of a transfer.
func (c *Client) GetTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "circle client not configured")
	}
	trimmed := strings.TrimSpace(transferID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer ID is required")
	}

	var apiResp struct {
		Data struct {
			Transaction struct {
				ID      string   `json:"id"`
				State   string   `json:"state"`
				TxHash  string   `json:"txHash"`
				Amounts []string `json:"amounts"`
			} `json:"transaction"`
		} `json:"data"`
	}
	path := fmt.Sprintf("v1/w3s/transactions/%s", url.PathEscape(trimmed))
	if err := c.do(ctx, http.MethodGet, path, nil, &apiResp); err != nil {
		return nil, err
	}

	tx := apiResp.Data.Transaction
	amount := decimal.Zero
	if len(tx.Amounts) > 0 {
		parsed, err := decimal.NewFromString(tx.Amounts[0])
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse transfer amount")
		}
		amount = parsed
	}

	return &Transfer{
		ID:     tx.ID,
		State:  tx.State,
		TxHash: tx.TxHash,
		Amount: amount,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal circle request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build circle request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute circle request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("circle request failed: status %d", resp.StatusCode)).
			WithDetails(strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode circle response")
	}
	return nil
}
