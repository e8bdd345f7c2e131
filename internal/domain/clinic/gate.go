package clinic

import (
	"context"

	"github.com/google/uuid"

	"github.com/healpoint/clinic/internal/platform/apperr"
)

const errAlreadyPaid = "patient already has a paid payment"

// PaymentGate enforces that a patient holds at most one paid payment. The
// explicit checks give an attributable error; the partial unique index on
// payment(patient_id) WHERE status = 'paid' is the backstop.
type PaymentGate struct {
	payments PaymentRepository
	currency string
	newRef   func() string
}

func NewPaymentGate(payments PaymentRepository, currency string) *PaymentGate {
	return &PaymentGate{payments: payments, currency: currency, newRef: uuid.NewString}
}

// CheckRequest validates the amount and method before anything is written.
func (g *PaymentGate) CheckRequest(amount Money, method PaymentMethod) error {
	if amount <= 0 {
		return apperr.Validation("amount", "must be greater than 0")
	}
	if !method.Valid() {
		return apperr.Validation("payment_method", "must be one of: cash gateway")
	}
	return nil
}

// EnsureUnpaid rejects a patient who already has a paid payment.
func (g *PaymentGate) EnsureUnpaid(ctx context.Context, patientID uuid.UUID) error {
	paid, err := g.payments.HasPaid(ctx, patientID)
	if err != nil {
		return err
	}
	if paid {
		return apperr.Validation("patient", errAlreadyPaid)
	}
	return nil
}

// Authorize records a payment for patientID inside the caller's transaction.
// The caller must hold the patient row lock. Cash resolves to paid at once;
// a gateway payment stays pending until verified.
func (g *PaymentGate) Authorize(ctx context.Context, patientID uuid.UUID, amount Money, method PaymentMethod) (*Payment, error) {
	if err := g.CheckRequest(amount, method); err != nil {
		return nil, err
	}
	if err := g.EnsureUnpaid(ctx, patientID); err != nil {
		return nil, err
	}

	p := &Payment{
		PatientID: patientID,
		Amount:    amount,
		Currency:  g.currency,
		Method:    method,
		Status:    PaymentPending,
		Reference: g.newRef(),
	}
	if method == MethodCash {
		p.Status = PaymentPaid
	}
	if err := g.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
