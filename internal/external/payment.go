package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ChargeStatus is the gateway's verdict on a charge
type ChargeStatus string

const (
	ChargeApproved ChargeStatus = "APPROVED"
	ChargeDeclined ChargeStatus = "DECLINED"
)

type ChargeRequest struct {
	ReservationID string
	PaymentToken  string
	Amount        int64
	Currency      string
}

type ChargeResult struct {
	Status    ChargeStatus
	PaymentID string
	Reason    string
}

type PaymentClient struct {
	baseURL    string
	teamSlug   string
	password   string
	currency   string
	httpClient *http.Client
}

type PaymentConfig struct {
	BaseURL  string
	TeamSlug string
	Password string
	Currency string
	Timeout  time.Duration
}

// Gateway wire format
type PaymentChargeRequest struct {
	TeamSlug     string `json:"teamSlug"`
	Token        string `json:"token"`
	Amount       int64  `json:"amount"`
	OrderID      string `json:"orderId"`
	Currency     string `json:"currency"`
	PaymentToken string `json:"paymentToken"`
}

type PaymentChargeResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

func NewPaymentClient(cfg PaymentConfig) *PaymentClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "KZT"
	}

	return &PaymentClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		teamSlug: cfg.TeamSlug,
		password: cfg.Password,
		currency: cfg.Currency,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (pc *PaymentClient) generateToken(params map[string]string) string {
	params["TeamSlug"] = pc.teamSlug
	params["Password"] = pc.password

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(params[key])
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}

// Charge asks the gateway to capture the amount for a reservation. The reservation id is sent
// as the order id, so repeated charges for the same reservation are deduplicated upstream.
// A returned error means the outcome is unknown; declines are reported in the result.
func (pc *PaymentClient) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	currency := req.Currency
	if currency == "" {
		currency = pc.currency
	}

	params := map[string]string{
		"Amount":   strconv.FormatInt(req.Amount, 10),
		"Currency": currency,
		"OrderId":  req.ReservationID,
	}

	body := PaymentChargeRequest{
		TeamSlug:     pc.teamSlug,
		Token:        pc.generateToken(params),
		Amount:       req.Amount,
		OrderID:      req.ReservationID,
		Currency:     currency,
		PaymentToken: req.PaymentToken,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.baseURL+"/api/v1/PaymentCharge/charge", bytes.NewReader(jsonBody))
	if err != nil {
		return ChargeResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := pc.httpClient.Do(httpReq)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("failed to charge payment: %w", err)
	}
	defer resp.Body.Close()

	// Only a 2xx or a 402 carries a verdict on the card; anything else leaves the outcome unknown
	if !isVerdictStatus(resp.StatusCode) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ChargeResult{}, fmt.Errorf("payment gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result PaymentChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChargeResult{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Success && isApprovedStatus(result.Status) {
		return ChargeResult{Status: ChargeApproved, PaymentID: result.PaymentID}, nil
	}

	reason := result.Message
	if reason == "" {
		reason = strings.ToLower(result.Status)
	}
	if reason == "" {
		reason = "declined"
	}
	return ChargeResult{Status: ChargeDeclined, PaymentID: result.PaymentID, Reason: reason}, nil
}

func isVerdictStatus(code int) bool {
	return code == http.StatusPaymentRequired || (code >= 200 && code < 300)
}

func isApprovedStatus(status string) bool {
	switch strings.ToUpper(status) {
	case "APPROVED", "CONFIRMED", "AUTHORIZED":
		return true
	}
	return false
}
