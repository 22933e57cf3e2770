package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/weightcare/portal/internal/domain/consultation"
	"github.com/weightcare/portal/internal/platform/alert"
	"github.com/weightcare/portal/internal/platform/notification"
	"github.com/weightcare/portal/internal/platform/payment"
)

// ConsultationStore reads and updates consultation rows.
type ConsultationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error)
	ApplyDecision(ctx context.Context, id uuid.UUID, u *consultation.DecisionUpdate) error
}

// PatientDirectory resolves a patient's contact email.
type PatientDirectory interface {
	EmailFor(ctx context.Context, id uuid.UUID) (string, error)
}

// PaymentGateway is the slice of the payment processor the reject path uses.
type PaymentGateway interface {
	GetCheckoutSession(ctx context.Context, id string) (*payment.CheckoutSession, error)
	CancelSubscription(ctx context.Context, id string) error
	LatestInvoicePaymentIntent(ctx context.Context, subscriptionID string) (string, error)
	Refund(ctx context.Context, paymentIntentID string) (*payment.Refund, error)
}

// Notifier renders and sends a templated email.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// AlertSink records conditions that need manual follow-up.
type AlertSink interface {
	Raise(ctx context.Context, a *alert.Alert) error
}

type Dependencies struct {
	Consultations ConsultationStore
	Patients      PatientDirectory
	Payments      PaymentGateway
	Notifier      Notifier
	Alerts        AlertSink
	Logger        zerolog.Logger
}

type Option func(*Reconciler)

// WithCallTimeout bounds every external call. Non-positive values are ignored.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithEmailDefaults sets the values shared by every decision email.
func WithEmailDefaults(portalURL, refundAmount string) Option {
	return func(r *Reconciler) {
		r.portalURL = portalURL
		r.refundAmount = refundAmount
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler applies pharmacist decisions: it settles the payment, records the
// outcome, then emails the patient in the background.
type Reconciler struct {
	deps         Dependencies
	callTimeout  time.Duration
	portalURL    string
	refundAmount string
	now          func() time.Time

	wg sync.WaitGroup
}

func NewReconciler(deps Dependencies, opts ...Option) *Reconciler {
	r := &Reconciler{
		deps:         deps,
		callTimeout:  10 * time.Second,
		refundAmount: "£49.00",
		now:          time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Wait blocks until all background notifications have finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// run is the working state of one reconciliation.
type run struct {
	req     Request
	id      uuid.UUID
	cons    *consultation.Consultation
	session *payment.CheckoutSession
	log     zerolog.Logger

	paymentIntentID string
	refundStatus    consultation.RefundStatus
	refundID        string
}

type transition struct {
	from, to State
	do       func(*Reconciler, context.Context, *run) error
}

// transitions lists, per decision, the ordered steps from FETCHED to DONE.
var transitions = map[consultation.Decision][]transition{
	consultation.DecisionApprove: {
		{StateFetched, StateStatusUpdated, (*Reconciler).updateStatus},
		{StateStatusUpdated, StateNotified, (*Reconciler).notify},
		{StateNotified, StateDone, nil},
	},
	consultation.DecisionReject: {
		{StateFetched, StateSessionResolved, (*Reconciler).resolveSession},
		{StateSessionResolved, StatePIResolved, (*Reconciler).resolvePaymentIntent},
		{StatePIResolved, StateRefundAttempted, (*Reconciler).refund},
		{StateRefundAttempted, StateStatusUpdated, (*Reconciler).updateStatus},
		{StateStatusUpdated, StateNotified, (*Reconciler).notify},
		{StateNotified, StateDone, nil},
	},
}

// Reconcile drives a consultation to the state the decision requires. It is
// safe to retry: a repeated reject neither refunds nor cancels twice.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	rn := &run{
		req: req,
		log: r.deps.Logger.With().
			Str("consultation_id", req.ConsultationID).
			Str("decision", string(req.Decision)).
			Logger(),
	}
	if err := r.fetch(ctx, rn); err != nil {
		return nil, err
	}

	state := StateFetched
	trace := []State{state}
	for _, t := range transitions[req.Decision] {
		if t.from != state {
			return nil, fmt.Errorf("reconciler: no transition from %s", state)
		}
		if t.do != nil {
			if err := t.do(r, ctx, rn); err != nil {
				rn.log.Error().Err(err).Str("state", string(state)).Str("next", string(t.to)).
					Msg("reconciliation failed")
				return &Result{Trace: append(trace, StateFailed)}, err
			}
		}
		state = t.to
		trace = append(trace, state)
	}

	rn.log.Info().
		Str("payment_intent_id", rn.paymentIntentID).
		Str("refund_status", string(rn.refundStatus)).
		Msg("decision reconciled")

	return &Result{
		Status:          req.Decision.Outcome(),
		PaymentIntentID: rn.paymentIntentID,
		RefundStatus:    rn.refundStatus,
		Trace:           trace,
	}, nil
}

func (r *Reconciler) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.callTimeout)
}

func (r *Reconciler) fetch(ctx context.Context, rn *run) error {
	id, err := uuid.Parse(rn.req.ConsultationID)
	if err != nil {
		return notFound(rn.req.ConsultationID)
	}
	cctx, cancel := r.call(ctx)
	defer cancel()

	c, err := r.deps.Consultations.Get(cctx, id)
	if errors.Is(err, consultation.ErrNotFound) {
		return notFound(rn.req.ConsultationID)
	}
	if err != nil {
		return &Error{Kind: ErrUpdate, Message: "Failed to load consultation: " + err.Error(), Err: err}
	}

	// A refunded consultation cannot be re-activated without a new payment.
	if rn.req.Decision == consultation.DecisionApprove && c.Status == consultation.StatusRejected {
		return &Error{Kind: ErrConflict, Message: "Consultation already rejected: " + rn.req.ConsultationID}
	}

	rn.id = id
	rn.cons = c
	return nil
}

func (r *Reconciler) resolveSession(ctx context.Context, rn *run) error {
	if rn.cons.CheckoutSessionID == nil || *rn.cons.CheckoutSessionID == "" {
		rn.log.Warn().Msg("consultation has no checkout session")
		return nil
	}

	cctx, cancel := r.call(ctx)
	s, err := r.deps.Payments.GetCheckoutSession(cctx, *rn.cons.CheckoutSessionID)
	cancel()
	if err != nil {
		return paymentError(err)
	}
	rn.session = s

	if !s.SubscriptionCancellable() {
		return nil
	}
	cctx, cancel = r.call(ctx)
	err = r.deps.Payments.CancelSubscription(cctx, s.SubscriptionID)
	cancel()
	switch {
	case errors.Is(err, payment.ErrSubscriptionInactive):
		rn.log.Info().Str("subscription_id", s.SubscriptionID).Msg("subscription already cancelled")
	case err != nil:
		return paymentError(err)
	default:
		rn.log.Info().Str("subscription_id", s.SubscriptionID).Msg("subscription cancelled")
	}
	return nil
}

// resolvePaymentIntent tries the consultation record, then the checkout
// session, then the subscription's latest invoice.
func (r *Reconciler) resolvePaymentIntent(ctx context.Context, rn *run) error {
	if rn.cons.PaymentIntentID != nil && *rn.cons.PaymentIntentID != "" {
		rn.paymentIntentID = *rn.cons.PaymentIntentID
		return nil
	}
	if rn.session == nil {
		return nil
	}
	if rn.session.PaymentIntentID != "" {
		rn.paymentIntentID = rn.session.PaymentIntentID
		return nil
	}
	if !rn.session.Subscription || rn.session.SubscriptionID == "" {
		return nil
	}

	cctx, cancel := r.call(ctx)
	defer cancel()
	pi, err := r.deps.Payments.LatestInvoicePaymentIntent(cctx, rn.session.SubscriptionID)
	if err != nil {
		return paymentError(err)
	}
	rn.paymentIntentID = pi
	return nil
}

func (r *Reconciler) refund(ctx context.Context, rn *run) error {
	if rn.paymentIntentID == "" {
		rn.refundStatus = consultation.RefundUnresolved
		rn.log.Error().Msg("no payment intent found for rejected consultation, refund requires manual action")
		r.raiseUnresolved(ctx, rn)
		return nil
	}

	cctx, cancel := r.call(ctx)
	defer cancel()
	ref, err := r.deps.Payments.Refund(cctx, rn.paymentIntentID)
	switch {
	case errors.Is(err, payment.ErrAlreadyRefunded):
		rn.refundStatus = consultation.RefundAlreadyRefunded
		rn.log.Info().Str("payment_intent_id", rn.paymentIntentID).Msg("payment already refunded")
	case err != nil:
		return paymentError(err)
	default:
		rn.refundStatus = consultation.RefundRefunded
		rn.refundID = ref.ID
		rn.log.Info().Str("payment_intent_id", rn.paymentIntentID).Str("refund_id", ref.ID).Msg("payment refunded")
	}
	return nil
}

func (r *Reconciler) raiseUnresolved(ctx context.Context, rn *run) {
	if r.deps.Alerts == nil {
		return
	}
	detail := "rejected consultation has no payment intent on record, session, or latest invoice"
	if rn.cons.CheckoutSessionID != nil {
		detail += " (checkout session " + *rn.cons.CheckoutSessionID + ")"
	}
	cctx, cancel := r.call(ctx)
	defer cancel()
	err := r.deps.Alerts.Raise(cctx, &alert.Alert{
		ConsultationID: rn.id,
		Kind:           alert.KindPaymentIntentUnresolved,
		Detail:         detail,
	})
	if err != nil {
		rn.log.Error().Err(err).Msg("failed to raise reconciliation alert")
	}
}

func (r *Reconciler) updateStatus(ctx context.Context, rn *run) error {
	u := &consultation.DecisionUpdate{
		Status:          rn.req.Decision.Outcome(),
		Decision:        rn.req.Decision,
		Reason:          rn.req.Reason,
		PaymentIntentID: rn.paymentIntentID,
		RefundStatus:    rn.refundStatus,
		RefundID:        rn.refundID,
		ReviewedAt:      r.now().UTC(),
	}
	cctx, cancel := r.call(ctx)
	defer cancel()
	if err := r.deps.Consultations.ApplyDecision(cctx, rn.id, u); err != nil {
		return updateError(err)
	}
	return nil
}

// notify emails the patient in the background. The email outlives the request
// context and never fails the reconciliation.
func (r *Reconciler) notify(ctx context.Context, rn *run) error {
	if r.deps.Notifier == nil || r.deps.Patients == nil {
		return nil
	}
	templateID := notification.TemplateConsultationApproved
	reason := rn.req.Reason
	if rn.req.Decision == consultation.DecisionReject {
		templateID = notification.TemplateConsultationRejected
		if reason == "" {
			reason = "No additional notes were provided."
		}
	}
	data := map[string]string{
		"portal_url":    r.portalURL,
		"reason":        reason,
		"refund_amount": r.refundAmount,
	}
	patientID := rn.cons.PatientID
	log := rn.log

	// Lookup plus send with retries.
	budget := 3 * r.callTimeout
	bg := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		nctx, cancel := context.WithTimeout(bg, budget)
		defer cancel()

		email, err := r.deps.Patients.EmailFor(nctx, patientID)
		if err != nil {
			log.Warn().Err(err).Msg("patient email lookup failed, notification skipped")
			return
		}
		n, err := r.deps.Notifier.SendFromTemplate(nctx, templateID, data, email)
		if err != nil {
			log.Error().Err(err).Str("template_id", templateID).Msg("decision email failed")
			return
		}
		log.Info().Str("notification_id", n.ID).Int("attempts", n.Attempts).Msg("decision email sent")
	}()
	return nil
}
