// Package gateway talks to hosted payment providers. The clinic core only
// sees Client: start a checkout, then verify its outcome by reference.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/healpoint/clinic/internal/config"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

type InitRequest struct {
	Reference   string
	AmountCents int64
	Currency    string
	Email       string
	FirstName   string
	LastName    string
	CallbackURL string
	ReturnURL   string
}

type Checkout struct {
	Reference   string
	CheckoutURL string
}

type Verification struct {
	Reference string
	Status    Status
}

// Client is a hosted payment provider. Errors are *apperr.GatewayError.
type Client interface {
	Name() string
	Initialize(ctx context.Context, req InitRequest) (*Checkout, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
}

// New selects the provider named by PAYMENT_PROVIDER.
func New(cfg *config.Config) (Client, error) {
	switch cfg.PaymentProvider {
	case "chapa":
		return NewChapa(cfg.ChapaBaseURL, cfg.ChapaSecretKey, cfg.GatewayTimeout), nil
	case "midtrans":
		return NewMidtrans(cfg.MidtransServerKey, cfg.MidtransProduction, cfg.GatewayTimeout), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}
}

// WithReference appends tx_ref to a return URL so the browser redirect
// carries the reference back to the front desk.
func WithReference(returnURL, reference string) string {
	if returnURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "tx_ref=" + reference
}

// FormatAmount renders cents as a decimal string with two places.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
