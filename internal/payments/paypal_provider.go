package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maplecart/api/internal/platform/config"
)

const (
	completedStatus = "COMPLETED"

	tokenPath   = "/v1/oauth2/token"
	ordersPath  = "/v2/checkout/orders/"
	defaultHTTP = 10 * time.Second
)

// Placeholder values shipped in sample environment files; treated as unconfigured.
var placeholderCredentials = map[string]struct{}{
	"":               {},
	"CLIENT_ID":      {},
	"APP_SECRET":     {},
	"YOUR_CLIENT_ID": {},
}

// PayPalVerifier verifies checkout transactions against the PayPal Orders API.
type PayPalVerifier struct {
	clientID string
	secret   string
	baseURL  string

	client *http.Client
	logger *zap.Logger
}

// PayPalOption customises PayPalVerifier construction.
type PayPalOption func(*PayPalVerifier)

// WithHTTPClient overrides the HTTP client used for processor calls.
func WithHTTPClient(client *http.Client) PayPalOption {
	return func(v *PayPalVerifier) {
		if client != nil {
			v.client = client
		}
	}
}

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) PayPalOption {
	return func(v *PayPalVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewPayPalVerifier constructs a verifier for the configured PayPal environment.
func NewPayPalVerifier(cfg config.PayPalConfig, opts ...PayPalOption) (*PayPalVerifier, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		return nil, errors.New("payments: paypal api base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTP
	}

	v := &PayPalVerifier{
		clientID: strings.TrimSpace(cfg.ClientID),
		secret:   strings.TrimSpace(cfg.Secret),
		baseURL:  base,
		client:   &http.Client{Timeout: timeout},
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	return v, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type checkoutOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	UpdateTime    string `json:"update_time"`
	PurchaseUnits []struct {
		Amount struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
	Payer struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

// VerifyTransaction fetches the checkout order from PayPal and reports whether payment completed.
func (v *PayPalVerifier) VerifyTransaction(ctx context.Context, transactionID string) (VerificationResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return VerificationResult{}, fmt.Errorf("%w: empty transaction id", ErrTransactionNotFound)
	}
	if v.credentialsMissing() {
		return VerificationResult{}, ErrCredentialsNotConfigured
	}

	token, err := v.accessToken(ctx)
	if err != nil {
		return VerificationResult{}, err
	}

	order, err := v.fetchOrder(ctx, token, transactionID)
	if err != nil {
		return VerificationResult{}, err
	}

	result := VerificationResult{
		Verified:      order.Status == completedStatus,
		TransactionID: order.ID,
		Status:        order.Status,
		PayerEmail:    order.Payer.EmailAddress,
		UpdateTime:    order.UpdateTime,
	}
	if len(order.PurchaseUnits) > 0 {
		result.Amount = order.PurchaseUnits[0].Amount.Value
	}
	return result, nil
}

func (v *PayPalVerifier) credentialsMissing() bool {
	if _, ok := placeholderCredentials[v.clientID]; ok {
		return true
	}
	if _, ok := placeholderCredentials[v.secret]; ok {
		return true
	}
	return false
}

// accessToken requests a client-credentials token for each verification call.
// PayPal tokens are short lived and verification volume is low enough that
// caching is not worth the refresh bookkeeping.
func (v *PayPalVerifier) accessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", ErrProcessorUnavailable, err)
	}
	req.SetBasicAuth(v.clientID, v.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrProcessorUnavailable, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrCredentialsNotConfigured
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrProcessorUnavailable, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrProcessorUnavailable, err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", fmt.Errorf("%w: token response missing access_token", ErrProcessorUnavailable)
	}
	return token.AccessToken, nil
}

func (v *PayPalVerifier) fetchOrder(ctx context.Context, token, transactionID string) (checkoutOrder, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+ordersPath+url.PathEscape(transactionID), nil)
	if err != nil {
		return checkoutOrder{}, fmt.Errorf("%w: build order request: %v", ErrProcessorUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return checkoutOrder{}, fmt.Errorf("%w: order request: %v", ErrProcessorUnavailable, err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return checkoutOrder{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	case resp.StatusCode != http.StatusOK:
		v.logger.Warn("paypal order lookup failed",
			zap.Int("status", resp.StatusCode),
		)
		return checkoutOrder{}, fmt.Errorf("%w: orders endpoint returned %d", ErrProcessorUnavailable, resp.StatusCode)
	}

	var order checkoutOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return checkoutOrder{}, fmt.Errorf("%w: decode order response: %v", ErrProcessorUnavailable, err)
	}
	return order, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
