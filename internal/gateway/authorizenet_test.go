package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhol1961/waggin-meals-sub004/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *AuthorizeNetClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAuthorizeNetClient(&config.Config{
		AuthorizeNetLoginID:        "login",
		AuthorizeNetTransactionKey: "key",
		AuthorizeNetEndpoint:       srv.URL,
	})
}

func testChargeRequest() *ChargeRequest {
	return &ChargeRequest{
		Amount:            decimal.NewFromFloat(49.00),
		CustomerProfileID: "cust-profile-1",
		PaymentProfileID:  "pay-profile-1",
		IdempotencyKey:    "0123456789AB:2026-03-15",
		InvoiceNumber:     "INV-0123456789AB-2026-03-15",
		Description:       "Waggin Meals subscription (monthly)",
	}
}

func TestCharge_Approved(t *testing.T) {
	var captured map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		// Live endpoint prefixes responses with a UTF-8 BOM.
		w.Write([]byte("\xef\xbb\xbf"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"transactionResponse": map[string]interface{}{
				"responseCode": "1",
				"authCode":     "AUTH99",
				"transId":      "txn-1001",
			},
			"messages": map[string]interface{}{"resultCode": "Ok"},
		})
	})

	result, err := client.Charge(context.Background(), testChargeRequest())
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, "txn-1001", result.TransactionID)
	assert.Equal(t, "AUTH99", result.AuthCode)

	envelope, ok := captured["createTransactionRequest"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "0123456789AB:2026-03-15", envelope["refId"])
	txnReq := envelope["transactionRequest"].(map[string]interface{})
	assert.Equal(t, "authCaptureTransaction", txnReq["transactionType"])
	assert.Equal(t, "49.00", txnReq["amount"])
}

func TestCharge_DeclineIsResultNotError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"transactionResponse": map[string]interface{}{
				"responseCode": "2",
				"transId":      "txn-2002",
				"errors": []map[string]interface{}{
					{"errorCode": "2", "errorText": "This transaction has been declined."},
				},
			},
			"messages": map[string]interface{}{"resultCode": "Error"},
		})
	})

	result, err := client.Charge(context.Background(), testChargeRequest())
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, "txn-2002", result.TransactionID)
	assert.Equal(t, "This transaction has been declined.", result.ErrorMessage)
}

func TestCharge_HTTPErrorIsTransportError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	result, err := client.Charge(context.Background(), testChargeRequest())
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestCharge_NotConfigured(t *testing.T) {
	client := NewAuthorizeNetClient(&config.Config{})

	result, err := client.Charge(context.Background(), testChargeRequest())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, result)
}

func TestTransactionStatus_Mappings(t *testing.T) {
	cases := []struct {
		gatewayStatus string
		want          TransactionState
	}{
		{"settledSuccessfully", TxnSettled},
		{"capturedPendingSettlement", TxnSettled},
		{"authorizedPendingCapture", TxnPending},
		{"FDSPendingReview", TxnPending},
		{"declined", TxnDeclined},
		{"voided", TxnDeclined},
	}

	for _, tc := range cases {
		t.Run(tc.gatewayStatus, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"transaction": map[string]interface{}{
						"transId":           "txn-3003",
						"transactionStatus": tc.gatewayStatus,
					},
					"messages": map[string]interface{}{"resultCode": "Ok"},
				})
			})

			state, transID, err := client.TransactionStatus(context.Background(), "txn-3003")
			require.NoError(t, err)
			assert.Equal(t, tc.want, state)
			assert.Equal(t, "txn-3003", transID)
		})
	}
}

func TestTransactionStatus_RecordNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": map[string]interface{}{
				"resultCode": "Error",
				"message": []map[string]interface{}{
					{"code": "E00040", "text": "The record cannot be found."},
				},
			},
		})
	})

	state, _, err := client.TransactionStatus(context.Background(), "never-submitted")
	require.NoError(t, err)
	assert.Equal(t, TxnNotFound, state)
}
