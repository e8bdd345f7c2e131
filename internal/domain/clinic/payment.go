package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/auth"
	"github.com/healpoint/clinic/internal/platform/cache"
	"github.com/healpoint/clinic/internal/platform/gateway"
)

const errLateDuplicatePayment = errAlreadyPaid + "; refund required"

// CreatePayment takes a payment for an existing patient who has not paid
// yet. Gateway payments start a hosted checkout after commit.
func (s *Service) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentOutcome, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionCreate, auth.ResourcePayment); err != nil {
		return nil, err
	}
	method := PaymentMethod(req.Method)
	if err := s.gate.CheckRequest(req.Amount, method); err != nil {
		return nil, err
	}
	patient, err := s.patients.GetByID(ctx, req.PatientID)
	if err != nil {
		return nil, asFieldError(err, "patient", "patient not found")
	}
	// Fail fast before anything is sent to the gateway.
	if err := s.gate.EnsureUnpaid(ctx, patient.ID); err != nil {
		return nil, err
	}

	var pay *Payment
	err = s.inTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetForUpdate(ctx, patient.ID); err != nil {
			return err
		}
		var err error
		pay, err = s.gate.Authorize(ctx, patient.ID, req.Amount, method)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.PaymentMutation{Op: cache.OpCreate, PaymentID: pay.ID, PatientID: pay.PatientID})
	s.logger.Info().
		Str("payment_id", pay.ID.String()).
		Str("patient_id", pay.PatientID.String()).
		Str("method", string(pay.Method)).
		Msg("payment created")

	if method == MethodGateway {
		return s.startCheckout(ctx, pay, patient), nil
	}
	return &PaymentOutcome{Payment: pay, Paid: pay.Status == PaymentPaid}, nil
}

// startCheckout opens a hosted checkout for a pending gateway payment. A
// gateway failure marks the payment failed and is reported in the outcome
// rather than returned.
func (s *Service) startCheckout(ctx context.Context, pay *Payment, patient *Patient) *PaymentOutcome {
	out := &PaymentOutcome{Payment: pay}

	var (
		checkout *gateway.Checkout
		err      error
	)
	if s.gw == nil {
		err = apperr.Gateway(apperr.GatewayConfiguration, "none", "no payment gateway is configured", nil)
	} else {
		checkout, err = s.gw.Initialize(ctx, gateway.InitRequest{
			Reference:   pay.Reference,
			AmountCents: int64(pay.Amount),
			Currency:    pay.Currency,
			Email:       s.payment.Email,
			FirstName:   patient.FirstName,
			LastName:    patient.LastName,
			CallbackURL: s.payment.CallbackURL,
			ReturnURL:   gateway.WithReference(s.payment.ReturnURL, pay.Reference),
		})
	}

	// The payment row is already committed; record the outcome even if the
	// request has gone away.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		kind, ok := apperr.GatewayKindOf(err)
		if !ok {
			kind = apperr.GatewayTransient
		}
		out.ErrorKind = string(kind)
		out.Error = err.Error()

		if _, rerr := s.payments.Resolve(ctx, pay.ID, PaymentFailed, err.Error()); rerr != nil {
			s.logger.Error().Err(rerr).Str("payment_id", pay.ID.String()).Msg("failed to mark payment failed")
		} else {
			pay.Status = PaymentFailed
			pay.Failure = err.Error()
		}
		s.logger.Error().
			Err(err).
			Str("payment_id", pay.ID.String()).
			Str("kind", string(kind)).
			Msg("payment checkout failed")
		s.invalidate(ctx, cache.PaymentMutation{Op: cache.OpUpdate, PaymentID: pay.ID, PatientID: pay.PatientID})
		return out
	}

	if err := s.payments.SetCheckoutURL(ctx, pay.ID, checkout.CheckoutURL); err != nil {
		s.logger.Error().Err(err).Str("payment_id", pay.ID.String()).Msg("failed to store checkout url")
	}
	pay.CheckoutURL = checkout.CheckoutURL
	out.CheckoutURL = checkout.CheckoutURL
	s.invalidate(ctx, cache.PaymentMutation{Op: cache.OpUpdate, PaymentID: pay.ID, PatientID: pay.PatientID})
	return out
}

// HandleWebhook verifies the payment named by ref with the gateway and
// records the result. Replays of an already resolved payment are no-ops.
func (s *Service) HandleWebhook(ctx context.Context, ref string) (*Payment, error) {
	if ref == "" {
		return nil, apperr.Validation("tx_ref", "this field is required")
	}
	pay, err := s.payments.GetByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if pay.Status.Terminal() {
		return pay, nil
	}
	return s.resolvePayment(ctx, pay)
}

// resolvePayment applies the gateway's verdict to a pending payment. If the
// patient was paid by another payment in the meantime, a late success is
// recorded as failed and flagged for refund.
func (s *Service) resolvePayment(ctx context.Context, pay *Payment) (*Payment, error) {
	if s.gw == nil {
		return nil, apperr.Gateway(apperr.GatewayConfiguration, "none", "no payment gateway is configured", nil)
	}
	v, err := s.gw.Verify(ctx, pay.Reference)
	if err != nil {
		return nil, err
	}
	if v.Status == gateway.StatusPending {
		return pay, nil
	}

	status, failure := PaymentFailed, "declined by "+s.gw.Name()
	if v.Status == gateway.StatusPaid {
		status, failure = PaymentPaid, ""
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetForUpdate(ctx, pay.PatientID); err != nil {
			return err
		}
		st, fail := status, failure
		if st == PaymentPaid {
			paid, err := s.payments.HasPaid(ctx, pay.PatientID)
			if err != nil {
				return err
			}
			if paid {
				st, fail = PaymentFailed, errLateDuplicatePayment
			}
		}
		_, err := s.payments.Resolve(ctx, pay.ID, st, fail)
		return err
	})
	if apperr.IsConflict(err) {
		// Another payment for the patient was marked paid concurrently.
		err = s.tx.WithTx(ctx, func(ctx context.Context) error {
			_, err := s.payments.Resolve(ctx, pay.ID, PaymentFailed, errLateDuplicatePayment)
			return err
		})
	}
	if err != nil {
		return nil, err
	}

	updated, err := s.payments.GetByID(ctx, pay.ID)
	if err != nil {
		return nil, err
	}
	if status == PaymentPaid && updated.Status == PaymentFailed {
		s.logger.Error().
			Str("payment_id", pay.ID.String()).
			Str("patient_id", pay.PatientID.String()).
			Str("tx_ref", pay.Reference).
			Msg("gateway reported a second successful payment; refund required")
	}
	s.invalidate(ctx, cache.PaymentMutation{Op: cache.OpUpdate, PaymentID: pay.ID, PatientID: pay.PatientID})
	s.logger.Info().
		Str("payment_id", pay.ID.String()).
		Str("status", string(updated.Status)).
		Msg("payment resolved")
	return updated, nil
}

// ReconcilePending re-verifies gateway payments that have been pending for
// longer than olderThan. It returns how many were resolved.
func (s *Service) ReconcilePending(ctx context.Context, olderThan time.Duration) (int, error) {
	const batch = 100
	stale, err := s.payments.ListStalePending(ctx, s.now().Add(-olderThan), batch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	var errs []error
	for _, pay := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		updated, err := s.resolvePayment(ctx, pay)
		if err != nil {
			s.logger.Warn().Err(err).Str("payment_id", pay.ID.String()).Msg("reconcile payment failed")
			errs = append(errs, err)
			continue
		}
		if updated.Status.Terminal() {
			resolved++
		}
	}
	return resolved, errors.Join(errs...)
}

func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionRead, auth.ResourcePayment); err != nil {
		return nil, err
	}
	return readThrough(ctx, s, cache.PaymentKey(id), func(ctx context.Context) (*Payment, error) {
		return s.payments.GetByID(ctx, id)
	})
}

func (s *Service) ListPayments(ctx context.Context) ([]*Payment, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionList, auth.ResourcePayment); err != nil {
		return nil, err
	}
	return readThrough(ctx, s, cache.AllPayments, func(ctx context.Context) ([]*Payment, error) {
		return s.payments.List(ctx, PaymentFilter{})
	})
}
