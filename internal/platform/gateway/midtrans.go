package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/healpoint/clinic/internal/platform/apperr"
)

const midtransName = "midtrans"

// snapAPI and statusAPI are the parts of the Midtrans SDK clients in use.
type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type statusAPI interface {
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// Midtrans starts Snap checkouts and verifies them through the Core API
// status endpoint.
type Midtrans struct {
	serverKey string
	snap      snapAPI
	core      statusAPI
	timeout   time.Duration
}

func NewMidtrans(serverKey string, production bool, timeout time.Duration) *Midtrans {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(serverKey, env)
	var c coreapi.Client
	c.New(serverKey, env)

	return &Midtrans{serverKey: serverKey, snap: &s, core: &c, timeout: timeout}
}

func (m *Midtrans) Name() string { return midtransName }

func (m *Midtrans) Initialize(ctx context.Context, req InitRequest) (*Checkout, error) {
	if m.serverKey == "" {
		return nil, apperr.Gateway(apperr.GatewayConfiguration, midtransName, "MIDTRANS_SERVER_KEY is not configured", nil)
	}
	// Snap amounts are whole currency units.
	if req.AmountCents%100 != 0 {
		return nil, apperr.Gateway(apperr.GatewayRejected, midtransName, "amount must be a whole number for this provider", nil)
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Reference,
			GrossAmt: req.AmountCents / 100,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.FirstName,
			LName: req.LastName,
			Email: req.Email,
		},
	}
	if ret := WithReference(req.ReturnURL, req.Reference); ret != "" {
		snapReq.Callbacks = &snap.Callbacks{Finish: ret}
	}

	type result struct {
		resp *snap.Response
		err  *midtrans.Error
	}
	out, err := call(ctx, m.timeout, func() result {
		resp, merr := m.snap.CreateTransaction(snapReq)
		return result{resp, merr}
	})
	if err != nil {
		return nil, err
	}
	if out.err != nil {
		return nil, classify(out.err)
	}
	if out.resp == nil || out.resp.RedirectURL == "" {
		return nil, apperr.Gateway(apperr.GatewayRejected, midtransName, "gateway returned no redirect url", nil)
	}
	return &Checkout{Reference: req.Reference, CheckoutURL: out.resp.RedirectURL}, nil
}

func (m *Midtrans) Verify(ctx context.Context, reference string) (*Verification, error) {
	if m.serverKey == "" {
		return nil, apperr.Gateway(apperr.GatewayConfiguration, midtransName, "MIDTRANS_SERVER_KEY is not configured", nil)
	}

	type result struct {
		resp *coreapi.TransactionStatusResponse
		err  *midtrans.Error
	}
	out, err := call(ctx, m.timeout, func() result {
		resp, merr := m.core.CheckTransaction(reference)
		return result{resp, merr}
	})
	if err != nil {
		return nil, err
	}
	if out.err != nil {
		if out.err.StatusCode == http.StatusNotFound {
			return &Verification{Reference: reference, Status: StatusFailed}, nil
		}
		return nil, classify(out.err)
	}
	if out.resp == nil || out.resp.OrderID != reference {
		return &Verification{Reference: reference, Status: StatusFailed}, nil
	}
	return &Verification{Reference: reference, Status: midtransStatus(out.resp.TransactionStatus, out.resp.FraudStatus)}, nil
}

// midtransStatus maps transaction_status/fraud_status to a payment status.
func midtransStatus(transaction, fraud string) Status {
	switch transaction {
	case "settlement":
		return StatusPaid
	case "capture":
		if fraud == "" || fraud == "accept" {
			return StatusPaid
		}
		return StatusPending
	case "pending", "authorize":
		return StatusPending
	default:
		return StatusFailed
	}
}

func classify(e *midtrans.Error) error {
	switch {
	case e.StatusCode == 0 || e.StatusCode >= 500:
		return apperr.Gateway(apperr.GatewayTransient, midtransName, e.Message, e.RawError)
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return apperr.Gateway(apperr.GatewayConfiguration, midtransName, "gateway rejected the server key", e.RawError)
	default:
		return apperr.Gateway(apperr.GatewayRejected, midtransName, e.Message, e.RawError)
	}
}

// call runs a blocking SDK call and gives up when ctx or timeout expires.
// The SDK call itself keeps running in the background until its own
// HTTP client gives up.
func call[T any](ctx context.Context, timeout time.Duration, fn func() T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan T, 1)
	go func() { done <- fn() }()

	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, apperr.Gateway(apperr.GatewayTransient, midtransName, "payment gateway timed out", ctx.Err())
	}
}
