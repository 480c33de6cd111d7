package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, handler func(w http.ResponseWriter, req PaymentChargeRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/PaymentCharge/charge", r.URL.Path)
		var req PaymentChargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPaymentClient_ChargeApproved(t *testing.T) {
	var got PaymentChargeRequest
	srv := newGateway(t, func(w http.ResponseWriter, req PaymentChargeRequest) {
		got = req
		json.NewEncoder(w).Encode(PaymentChargeResponse{Success: true, PaymentID: "pay-1", OrderID: req.OrderID, Status: "CONFIRMED"})
	})

	client := NewPaymentClient(PaymentConfig{BaseURL: srv.URL, TeamSlug: "team", Password: "secret"})
	result, err := client.Charge(context.Background(), ChargeRequest{ReservationID: "R1", PaymentToken: "tok", Amount: 5000})

	require.NoError(t, err)
	assert.Equal(t, ChargeApproved, result.Status)
	assert.Equal(t, "pay-1", result.PaymentID)
	assert.Equal(t, "R1", got.OrderID)
	assert.Equal(t, "KZT", got.Currency)
	assert.Equal(t, "tok", got.PaymentToken)
	assert.Len(t, got.Token, 64)
}

func TestPaymentClient_ChargeDeclined(t *testing.T) {
	srv := newGateway(t, func(w http.ResponseWriter, req PaymentChargeRequest) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(PaymentChargeResponse{Success: false, Status: "REJECTED", Message: "insufficient funds"})
	})

	client := NewPaymentClient(PaymentConfig{BaseURL: srv.URL})
	result, err := client.Charge(context.Background(), ChargeRequest{ReservationID: "R1", PaymentToken: "tok", Amount: 5000})

	require.NoError(t, err)
	assert.Equal(t, ChargeDeclined, result.Status)
	assert.Equal(t, "insufficient funds", result.Reason)
}

func TestPaymentClient_ChargeGatewayError(t *testing.T) {
	// none of these say anything about the card, even with a decline-shaped body
	for _, code := range []int{
		http.StatusBadGateway,
		http.StatusTooManyRequests,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusBadRequest,
	} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv := newGateway(t, func(w http.ResponseWriter, req PaymentChargeRequest) {
				w.WriteHeader(code)
				json.NewEncoder(w).Encode(PaymentChargeResponse{Success: false, Status: "REJECTED", Message: "invalid team slug"})
			})

			client := NewPaymentClient(PaymentConfig{BaseURL: srv.URL})
			_, err := client.Charge(context.Background(), ChargeRequest{ReservationID: "R1", PaymentToken: "tok", Amount: 5000})

			require.Error(t, err)
			assert.Contains(t, err.Error(), fmt.Sprintf("returned %d", code))
		})
	}
}

func TestPaymentClient_TokenIsDeterministic(t *testing.T) {
	client := NewPaymentClient(PaymentConfig{TeamSlug: "team", Password: "secret"})

	a := client.generateToken(map[string]string{"Amount": "100", "OrderId": "R1"})
	b := client.generateToken(map[string]string{"OrderId": "R1", "Amount": "100"})
	c := client.generateToken(map[string]string{"Amount": "101", "OrderId": "R1"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
