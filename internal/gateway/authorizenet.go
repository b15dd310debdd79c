package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mhol1961/waggin-meals-sub004/internal/config"
)

// AuthorizeNetClient implements IClient against the Authorize.net CIM
// (Customer Information Manager) JSON API. Payment methods are referenced by
// customer profile + payment profile ids; raw card data never passes through.
type AuthorizeNetClient struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewAuthorizeNetClient creates a new Authorize.net gateway client.
func NewAuthorizeNetClient(cfg *config.Config) *AuthorizeNetClient {
	return &AuthorizeNetClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether gateway credentials are present.
func (c *AuthorizeNetClient) Configured() bool {
	return c.cfg.AuthorizeNetLoginID != "" && c.cfg.AuthorizeNetTransactionKey != ""
}

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type anetMessages struct {
	ResultCode string `json:"resultCode"`
	Message    []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"message"`
}

type anetTransactionResponse struct {
	ResponseCode string `json:"responseCode"`
	AuthCode     string `json:"authCode"`
	TransID      string `json:"transId"`
	Errors       []struct {
		ErrorCode string `json:"errorCode"`
		ErrorText string `json:"errorText"`
	} `json:"errors"`
}

type anetResponse struct {
	TransactionResponse anetTransactionResponse `json:"transactionResponse"`
	Transaction         struct {
		TransID           string `json:"transId"`
		TransactionStatus string `json:"transactionStatus"`
	} `json:"transaction"`
	Messages anetMessages `json:"messages"`
}

// makeRequest posts one request envelope ({requestType: {merchantAuthentication, ...fields}})
// to the API endpoint and decodes the response.
func (c *AuthorizeNetClient) makeRequest(ctx context.Context, requestType string, fields map[string]interface{}) (*anetResponse, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload := map[string]interface{}{
		"merchantAuthentication": merchantAuthentication{
			Name:           c.cfg.AuthorizeNetLoginID,
			TransactionKey: c.cfg.AuthorizeNetTransactionKey,
		},
	}
	for k, v := range fields {
		payload[k] = v
	}
	body, err := json.Marshal(map[string]interface{}{requestType: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", requestType, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.AuthorizeNetEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", requestType, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	// The API prefixes responses with a UTF-8 BOM.
	respBody = bytes.TrimPrefix(respBody, []byte("\xef\xbb\xbf"))

	var parsed anetResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse gateway response: %w", err)
	}
	return &parsed, nil
}

// Charge submits an authCaptureTransaction against a stored payment profile.
// The idempotency key travels as refId; resubmitting the identical key for an
// already-settled charge is gateway-side idempotent where supported.
func (c *AuthorizeNetClient) Charge(ctx context.Context, chargeReq *ChargeRequest) (*ChargeResult, error) {
	resp, err := c.makeRequest(ctx, "createTransactionRequest", map[string]interface{}{
		"refId": chargeReq.IdempotencyKey,
		"transactionRequest": map[string]interface{}{
			"transactionType": "authCaptureTransaction",
			"amount":          chargeReq.Amount.StringFixed(2),
			"profile": map[string]interface{}{
				"customerProfileId": chargeReq.CustomerProfileID,
				"paymentProfile": map[string]interface{}{
					"paymentProfileId": chargeReq.PaymentProfileID,
				},
			},
			"order": map[string]interface{}{
				"invoiceNumber": chargeReq.InvoiceNumber,
				"description":   chargeReq.Description,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	tr := resp.TransactionResponse
	if resp.Messages.ResultCode != "Ok" || tr.ResponseCode != "1" {
		// Decline or gateway-reported error: a result, not a transport failure.
		result := &ChargeResult{Approved: false, TransactionID: tr.TransID}
		if len(tr.Errors) > 0 {
			result.ErrorCode = tr.Errors[0].ErrorCode
			result.ErrorMessage = tr.Errors[0].ErrorText
		} else if len(resp.Messages.Message) > 0 {
			result.ErrorCode = resp.Messages.Message[0].Code
			result.ErrorMessage = resp.Messages.Message[0].Text
		} else {
			result.ErrorMessage = "payment declined"
		}
		log.Printf("[Gateway] Charge declined for invoice %s: %s (%s)", chargeReq.InvoiceNumber, result.ErrorMessage, result.ErrorCode)
		return result, nil
	}

	return &ChargeResult{
		Approved:      true,
		TransactionID: tr.TransID,
		AuthCode:      tr.AuthCode,
	}, nil
}

// TransactionStatus looks up a transaction for the reconciliation sweep.
// ref is the transaction id when known, otherwise the refId the charge was
// submitted under. An E00040 "record not found" maps to TxnNotFound.
func (c *AuthorizeNetClient) TransactionStatus(ctx context.Context, ref string) (TransactionState, string, error) {
	resp, err := c.makeRequest(ctx, "getTransactionDetailsRequest", map[string]interface{}{
		"transId": ref,
	})
	if err != nil {
		return "", "", err
	}

	if resp.Messages.ResultCode != "Ok" {
		if len(resp.Messages.Message) > 0 && resp.Messages.Message[0].Code == "E00040" {
			return TxnNotFound, "", nil
		}
		if len(resp.Messages.Message) > 0 {
			return "", "", fmt.Errorf("transaction lookup failed: %s", resp.Messages.Message[0].Text)
		}
		return "", "", fmt.Errorf("transaction lookup failed")
	}

	txn := resp.Transaction
	switch txn.TransactionStatus {
	case "settledSuccessfully", "capturedPendingSettlement":
		return TxnSettled, txn.TransID, nil
	case "authorizedPendingCapture", "FDSPendingReview":
		return TxnPending, txn.TransID, nil
	default:
		// declined, voided, expired, ...
		return TxnDeclined, txn.TransID, nil
	}
}
