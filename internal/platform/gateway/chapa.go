package gateway

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

	"github.com/healpoint/clinic/internal/platform/apperr"
)

const chapaName = "chapa"

// Chapa is the Chapa hosted-checkout API client.
type Chapa struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewChapa(baseURL, secretKey string, timeout time.Duration) *Chapa {
	return &Chapa{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *Chapa) Name() string { return chapaName }

type chapaInitPayload struct {
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	Email         string            `json:"email"`
	FirstName     string            `json:"first_name"`
	LastName      string            `json:"last_name"`
	TxRef         string            `json:"tx_ref"`
	CallbackURL   string            `json:"callback_url,omitempty"`
	ReturnURL     string            `json:"return_url,omitempty"`
	Customization map[string]string `json:"customization"`
}

type chapaResponse struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (r *chapaResponse) message() string {
	var s string
	if err := json.Unmarshal(r.Message, &s); err == nil {
		return s
	}
	return string(r.Message)
}

func (c *Chapa) Initialize(ctx context.Context, req InitRequest) (*Checkout, error) {
	if c.secretKey == "" {
		return nil, apperr.Gateway(apperr.GatewayConfiguration, chapaName, "CHAPA_SECRET_KEY is not configured", nil)
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return nil, apperr.Gateway(apperr.GatewayConfiguration, chapaName, "DEFAULT_PAYMENT_EMAIL is not configured or invalid", nil)
	}

	payload := chapaInitPayload{
		Amount:        FormatAmount(req.AmountCents),
		Currency:      req.Currency,
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		TxRef:         req.Reference,
		CallbackURL:   req.CallbackURL,
		ReturnURL:     WithReference(req.ReturnURL, req.Reference),
		Customization: map[string]string{"title": "Card Payment"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode chapa payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	var data struct {
		CheckoutURL string `json:"checkout_url"`
	}
	_ = json.Unmarshal(resp.Data, &data)
	if resp.Status != "success" || data.CheckoutURL == "" {
		msg := resp.message()
		if msg == "" {
			msg = "failed to initialize payment"
		}
		return nil, apperr.Gateway(apperr.GatewayRejected, chapaName, msg, nil)
	}
	return &Checkout{Reference: req.Reference, CheckoutURL: data.CheckoutURL}, nil
}

// Verify treats a successful lookup whose tx_ref matches as paid, a
// pending transaction as pending, and anything else as failed.
func (c *Chapa) Verify(ctx context.Context, reference string) (*Verification, error) {
	if c.secretKey == "" {
		return nil, apperr.Gateway(apperr.GatewayConfiguration, chapaName, "CHAPA_SECRET_KEY is not configured", nil)
	}

	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		var ge *apperr.GatewayError
		if errors.As(err, &ge) && ge.Kind == apperr.GatewayRejected {
			return &Verification{Reference: reference, Status: StatusFailed}, nil
		}
		return nil, err
	}

	var data struct {
		TxRef  string `json:"tx_ref"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(resp.Data, &data)

	v := &Verification{Reference: reference, Status: StatusFailed}
	if resp.Status == "success" && data.TxRef == reference {
		switch data.Status {
		case "", "success":
			v.Status = StatusPaid
		case "pending":
			v.Status = StatusPending
		}
	}
	return v, nil
}

// do sends the request and classifies failures: transport errors and 5xx
// are transient, 401/403 mean a bad key, other 4xx are rejections.
func (c *Chapa) do(ctx context.Context, method, endpoint string, body []byte) (*chapaResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build chapa request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Gateway(apperr.GatewayTransient, chapaName, "failed to reach payment gateway", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Gateway(apperr.GatewayTransient, chapaName, "failed to read gateway response", err)
	}

	var out chapaResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		out = chapaResponse{Status: "error", Message: json.RawMessage(strconvQuote(string(raw)))}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, apperr.Gateway(apperr.GatewayTransient, chapaName, fmt.Sprintf("gateway returned status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperr.Gateway(apperr.GatewayConfiguration, chapaName, "gateway rejected the secret key", nil)
	case resp.StatusCode >= 400:
		msg := out.message()
		if msg == "" {
			msg = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		}
		return nil, apperr.Gateway(apperr.GatewayRejected, chapaName, msg, nil)
	}
	return &out, nil
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
