package services

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/apperrors"
	"github.com/islandtransit/bus-booking-backend/internal/config"
)

// PAYableEnvironmentURLs maps environment names to their IPG endpoint URLs
var PAYableEnvironmentURLs = map[string]string{
	"dev":        "https://payable-ipg-dev.web.app/ipg/dev",
	"sandbox":    "https://sandboxipgpayment.payable.lk/ipg/sandbox",
	"production": "https://ipgpayment.payable.lk/ipg/pro",
}

// PAYableService implements PaymentGateway against the PAYable IPG.
// NOTE: merchantToken is never sent on the wire - it only feeds the
// checkValue calculation.
type PAYableService struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
}

// NewPAYableService creates a new PAYable payment gateway adapter
func NewPAYableService(cfg *config.PaymentConfig, logger *logrus.Logger) *PAYableService {
	return &PAYableService{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// payableInitiateRequest is the request sent to PAYable IPG
type payableInitiateRequest struct {
	MerchantKey string `json:"merchantKey"`

	ReturnURL  string `json:"returnUrl"`
	WebhookURL string `json:"webhookUrl,omitempty"`

	PaymentType  int    `json:"paymentType"` // 1 = one-time
	InvoiceID    string `json:"invoiceId"`
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`

	OrderDescription string `json:"orderDescription,omitempty"`

	CustomerFirstName   string `json:"customerFirstName"`
	CustomerLastName    string `json:"customerLastName"`
	CustomerEmail       string `json:"customerEmail"`
	CustomerMobilePhone string `json:"customerMobilePhone"`

	BillingAddressCountry string `json:"billingAddressCountry"`

	CheckValue string `json:"checkValue"`

	IntegrationType    string `json:"integrationType"`
	IntegrationVersion string `json:"integrationVersion"`
}

// payableInitiateResponse is the response from PAYable IPG
type payableInitiateResponse struct {
	Status          string `json:"status"` // "success", "PENDING" or "error"
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
	PaymentPage     string `json:"paymentPage"`
	Message         string `json:"message,omitempty"`
}

// payableRefundRequest is the refund request sent to PAYable
type payableRefundRequest struct {
	MerchantKey string `json:"merchantKey"`
	UID         string `json:"uid"`
	Amount      string `json:"amount"`
	Reason      string `json:"reason,omitempty"`
	CheckValue  string `json:"checkValue"`
}

// payableRefundResponse is the refund response from PAYable
type payableRefundResponse struct {
	Status    string `json:"status"`
	RefundUID string `json:"refundUid"`
	Message   string `json:"message,omitempty"`
}

// checkValue creates the SHA-512 request signature for PAYable authentication
// Step 1: hash1 = SHA512(merchantToken) uppercase hex
// Step 2: hash2 = SHA512("merchantKey|invoiceId|amount|currencyCode|hash1") uppercase hex
func (s *PAYableService) checkValue(invoiceID, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(s.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		s.config.MerchantKey,
		invoiceID,
		amount,
		currencyCode,
		hash1Hex,
	)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// Initiate creates a payment request and returns the payment page URL.
// When merchant credentials are absent (development), a placeholder payment
// URL is returned instead of calling the gateway.
func (s *PAYableService) Initiate(params InitiatePaymentParams) (*InitiatePaymentResult, error) {
	amountStr := fmt.Sprintf("%.2f", params.Amount)

	if !s.IsConfigured() {
		s.logger.WithField("invoice_id", params.InvoiceID).
			Warn("PAYable not configured - returning placeholder payment URL")
		return &InitiatePaymentResult{
			PaymentURL: fmt.Sprintf("https://gateway.payable.lk/pay/%s", params.InvoiceID),
			GatewayRef: fmt.Sprintf("DEV-%s", params.InvoiceID),
		}, nil
	}

	firstName, lastName := splitName(params.CustomerName)
	if lastName == "" {
		lastName = "." // PAYable requires a last name
	}

	customerEmail := params.CustomerEmail
	if customerEmail == "" {
		customerEmail = "customer@islandtransit.lk"
	}
	customerPhone := params.CustomerPhone
	if customerPhone == "" {
		customerPhone = "0770000000"
	}

	request := &payableInitiateRequest{
		MerchantKey:           s.config.MerchantKey,
		ReturnURL:             s.config.ReturnURL,
		WebhookURL:            s.config.WebhookURL,
		PaymentType:           1,
		InvoiceID:             params.InvoiceID,
		Amount:                amountStr,
		CurrencyCode:          params.Currency,
		OrderDescription:      params.Description,
		CustomerFirstName:     firstName,
		CustomerLastName:      lastName,
		CustomerEmail:         customerEmail,
		CustomerMobilePhone:   customerPhone,
		BillingAddressCountry: "LK",
		CheckValue:            s.checkValue(params.InvoiceID, amountStr, params.Currency),
		IntegrationType:       "IslandTransit", // Max 20 chars
		IntegrationVersion:    "1.0.0",
	}

	s.logger.WithFields(logrus.Fields{
		"invoice_id": params.InvoiceID,
		"amount":     amountStr,
		"currency":   params.Currency,
	}).Info("Initiating PAYable payment")

	body, err := s.post(s.endpointURL(), request)
	if err != nil {
		return nil, err
	}

	var paymentResp payableInitiateResponse
	if err := json.Unmarshal(body, &paymentResp); err != nil {
		return nil, apperrors.Gateway(err, "payment gateway returned an unreadable response")
	}

	// PAYable returns "PENDING" when payment is ready for the user, or
	// "success" in some flows. Both are valid.
	if paymentResp.Status != "success" && paymentResp.Status != "PENDING" {
		s.logger.WithFields(logrus.Fields{
			"invoice_id": params.InvoiceID,
			"status":     paymentResp.Status,
			"message":    paymentResp.Message,
		}).Error("PAYable payment initiation rejected")
		return nil, apperrors.Gateway(nil, "payment initiation failed")
	}
	if paymentResp.PaymentPage == "" {
		return nil, apperrors.Gateway(nil, "payment initiation failed: no payment page URL returned")
	}

	s.logger.WithFields(logrus.Fields{
		"uid":          paymentResp.UID,
		"payment_page": paymentResp.PaymentPage,
	}).Info("PAYable payment initiated successfully")

	return &InitiatePaymentResult{
		PaymentURL:  paymentResp.PaymentPage,
		GatewayRef:  paymentResp.UID,
		RawResponse: body,
	}, nil
}

// Refund asks the gateway to return money against an earlier payment. It is
// called inside the refund orchestrator's transaction; failure must abort
// the whole refund.
func (s *PAYableService) Refund(gatewayRef string, amount float64, reason string) (*RefundResult, error) {
	amountStr := fmt.Sprintf("%.2f", amount)

	if !s.IsConfigured() {
		s.logger.WithFields(logrus.Fields{
			"gateway_ref": gatewayRef,
			"amount":      amountStr,
		}).Warn("PAYable not configured - acknowledging refund locally")
		return &RefundResult{GatewayRef: fmt.Sprintf("DEV-REFUND-%s", gatewayRef)}, nil
	}

	request := &payableRefundRequest{
		MerchantKey: s.config.MerchantKey,
		UID:         gatewayRef,
		Amount:      amountStr,
		Reason:      reason,
		CheckValue:  s.checkValue(gatewayRef, amountStr, "LKR"),
	}

	s.logger.WithFields(logrus.Fields{
		"gateway_ref": gatewayRef,
		"amount":      amountStr,
	}).Info("Initiating PAYable refund")

	refundURL := strings.Replace(s.endpointURL(), "/ipg/", "/refund/", 1)
	body, err := s.post(refundURL, request)
	if err != nil {
		return nil, err
	}

	var refundResp payableRefundResponse
	if err := json.Unmarshal(body, &refundResp); err != nil {
		return nil, apperrors.Gateway(err, "payment gateway returned an unreadable refund response")
	}

	if refundResp.Status != "success" {
		s.logger.WithFields(logrus.Fields{
			"gateway_ref": gatewayRef,
			"status":      refundResp.Status,
			"message":     refundResp.Message,
		}).Error("PAYable refund rejected")
		return nil, apperrors.Gateway(nil, "gateway refund failed")
	}

	s.logger.WithFields(logrus.Fields{
		"gateway_ref": gatewayRef,
		"refund_uid":  refundResp.RefundUID,
	}).Info("PAYable refund completed")

	return &RefundResult{
		GatewayRef:  refundResp.RefundUID,
		RawResponse: body,
	}, nil
}

func (s *PAYableService) post(url string, payload interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	resp, err := s.client.Post(url, "application/json", bytes.NewBuffer(jsonBody))
	if err != nil {
		s.logger.WithError(err).Error("Failed to call PAYable endpoint")
		return nil, apperrors.Gateway(err, "payment gateway unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Gateway(err, "failed to read payment gateway response")
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
		}).Error("PAYable returned non-OK status")
		return nil, apperrors.Gateway(nil, "payment gateway returned status %d", resp.StatusCode)
	}

	return body, nil
}

func (s *PAYableService) endpointURL() string {
	if url, ok := PAYableEnvironmentURLs[s.config.Environment]; ok {
		return url
	}
	return PAYableEnvironmentURLs["sandbox"]
}

// splitName splits a full name into first and last name
func splitName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "Customer", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// IsConfigured returns true if payment gateway is properly configured
func (s *PAYableService) IsConfigured() bool {
	return s.config.MerchantKey != "" && s.config.MerchantToken != ""
}

// GetEnvironment returns the current payment environment
func (s *PAYableService) GetEnvironment() string {
	return s.config.Environment
}
