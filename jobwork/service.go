/*
Package jobwork is the application layer of the voucher ledger.

PURPOSE:
  The voucher and payment packages are pure. This package is where they
  meet storage: it loads documents, validates a proposed event against the
  folded history, appends it, re-syncs the cached totals and writes the
  voucher back. Every write to a voucher goes through here.

WRITE FLOW:
  ┌──────────┐   ┌────────────────┐   ┌──────────────┐   ┌─────────────┐
  │ Load     │──▶│ Check against  │──▶│ Append event │──▶│ SyncCache + │
  │ voucher  │   │ folded history │   │ (new id)     │   │ Update(ver) │
  └──────────┘   └────────────────┘   └──────────────┘   └─────────────┘
        ▲                                                       │
        └──────────── retry once on ErrConcurrentModification ──┘

READ FLOW:
  View() loads the voucher and its payments concurrently, then derives the
  summary and reconciliation. The result is recomputed on every call; the
  service never caches derived views.

SEE ALSO:
  - voucher/ledger.go: Derivations
  - payment/reconcile.go: Payment matching
  - generic/sequence.go: Voucher numbering
*/
package jobwork

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/payment"
	"github.com/warp/jobwork-ledger/voucher"
)

// Service orchestrates voucher and payment writes and derived reads.
type Service struct {
	Vouchers  VoucherStore
	Payments  PaymentStore
	Allocator *generic.NumberAllocator
	Logger    *zap.Logger
	Metrics   Recorder

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.Logger = l } }
func WithMetrics(r Recorder) Option   { return func(s *Service) { s.Metrics = r } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.Now = now }
}

// NewService wires a service. The allocator's ExistingNumbers defaults to
// the voucher store when unset.
func NewService(vouchers VoucherStore, payments PaymentStore, allocator *generic.NumberAllocator, opts ...Option) *Service {
	s := &Service{
		Vouchers:  vouchers,
		Payments:  payments,
		Allocator: allocator,
		Logger:    zap.NewNop(),
		Metrics:   nopRecorder{},
		Now:       time.Now,
		NewID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if allocator != nil && allocator.ExistingNumbers == nil {
		allocator.ExistingNumbers = vouchers.VoucherNumbers
	}
	return s
}

// =============================================================================
// CREATE
// =============================================================================

// CreateVoucherInput opens a voucher and dispatches it to the first vendor.
type CreateVoucherInput struct {
	CreatedAt generic.TimePoint // business date; defaults to today
	CreatedBy generic.UserID
	Item      voucher.ItemDetails

	ReceiverID         generic.UserID
	QuantityDispatched int // defaults to Item.InitialQuantity
	JobWork            string
	Transport          voucher.Transport
	Comment            string
	Timestamp          time.Time // dispatch time; defaults to now
}

// CreateVoucher allocates a number and stores a voucher holding its
// dispatch event.
func (s *Service) CreateVoucher(ctx context.Context, in CreateVoucherInput) (*voucher.Voucher, error) {
	now := s.Now()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = generic.DateOf(now)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = now
	}
	if in.QuantityDispatched == 0 {
		in.QuantityDispatched = in.Item.InitialQuantity
	}
	if in.CreatedBy == "" {
		return nil, generic.InvalidVoucher("created_by_user_id", "is required")
	}
	if in.QuantityDispatched > in.Item.InitialQuantity {
		return nil, generic.InvalidVoucher("quantity_dispatched",
			"%d exceeds initial quantity %d", in.QuantityDispatched, in.Item.InitialQuantity)
	}

	v := &voucher.Voucher{
		ID:        generic.VoucherID(s.NewID()),
		CreatedAt: in.CreatedAt,
		CreatedBy: in.CreatedBy,
		Item:      in.Item,
		UpdatedAt: now,
	}
	dispatch := voucher.Event{
		Type:      voucher.EventDispatch,
		Timestamp: in.Timestamp,
		UserID:    in.CreatedBy,
		Comment:   in.Comment,
		Details: voucher.DispatchDetails{
			SenderID:           in.CreatedBy,
			ReceiverID:         in.ReceiverID,
			QuantityDispatched: in.QuantityDispatched,
			JobWork:            in.JobWork,
			Transport:          in.Transport,
		},
	}
	// Validate before allocating so bad input does not burn a number.
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if err := dispatch.Validate(); err != nil {
		return nil, err
	}

	number, fy, err := s.Allocator.Allocate(ctx)
	if err != nil {
		return nil, err
	}
	v.VoucherNo = number
	v.FinancialYear = fy.Label()
	dispatch.ID = voucher.EventIDFor(number, 1)
	v.Events = []voucher.Event{dispatch}
	voucher.SyncCache(v)

	if err := s.Vouchers.CreateVoucher(ctx, v); err != nil {
		return nil, fmt.Errorf("creating voucher %s: %w", number, err)
	}

	s.Metrics.VoucherCreated()
	s.Metrics.EventAppended(voucher.EventDispatch)
	s.Logger.Info("voucher created",
		zap.String("voucher_id", string(v.ID)),
		zap.String("voucher_no", v.VoucherNo),
		zap.String("financial_year", v.FinancialYear),
		zap.Int("quantity", in.QuantityDispatched),
		zap.String("receiver_id", string(in.ReceiverID)),
	)
	return v, nil
}

// =============================================================================
// APPEND
// =============================================================================

// ReceiveInput records a vendor's acknowledgment of incoming goods.
type ReceiveInput struct {
	UserID           generic.UserID
	ReceiverID       generic.UserID // defaults to UserID
	SenderID         generic.UserID // optional
	ParentEventID    generic.EventID
	QuantityReceived int
	QuantityExpected *int
	Missing          int
	DamagedOnArrival int
	DamageReason     string
	Comment          string
	Timestamp        time.Time
}

// Receive appends a receive event.
func (s *Service) Receive(ctx context.Context, id generic.VoucherID, in ReceiveInput) (*voucher.Voucher, error) {
	if in.ReceiverID == "" {
		in.ReceiverID = in.UserID
	}
	return s.appendEvent(ctx, id, func(v *voucher.Voucher, ordered []voucher.Event) (voucher.Event, error) {
		if err := s.checkParent(v, in.ParentEventID); err != nil {
			return voucher.Event{}, err
		}
		e := voucher.Event{
			ID:            voucher.NextEventID(v),
			Type:          voucher.EventReceive,
			Timestamp:     s.timestamp(in.Timestamp),
			UserID:        in.UserID,
			Comment:       in.Comment,
			ParentEventID: in.ParentEventID,
		}
		details := voucher.ReceiveDetails{
			ReceiverID:       in.ReceiverID,
			SenderID:         in.SenderID,
			QuantityReceived: in.QuantityReceived,
			QuantityExpected: in.QuantityExpected,
			Discrepancies: voucher.ReceiveDiscrepancies{
				Missing:          in.Missing,
				DamagedOnArrival: in.DamagedOnArrival,
				DamageReason:     in.DamageReason,
			},
		}
		e.Details = details

		res := voucher.ResolveSenderID(e, ordered)
		switch res.Rule {
		case voucher.SenderParentEvent:
			// The parent link is authoritative; store the sender.
			details.SenderID = res.SenderID
			e.Details = details
		case voucher.SenderNearestPrior, voucher.SenderUnresolved:
			s.Metrics.SenderHeuristic(res.Rule)
			s.Logger.Warn("receive recorded without sender",
				zap.String("voucher_no", v.VoucherNo),
				zap.String("event_id", string(e.ID)),
				zap.String("rule", string(res.Rule)),
				zap.String("best_guess", res.Display()),
			)
		}

		// Missing pieces count against what was sent, otherwise they could
		// be written off and then received again.
		accounted := in.QuantityReceived + in.Missing
		if pending := voucher.PendingReceipt(ordered, in.ReceiverID); accounted > pending {
			return voucher.Event{}, &generic.InsufficientQuantityError{
				VoucherID: v.ID,
				SenderID:  res.SenderID,
				Available: pending,
				Requested: accounted,
			}
		}
		return e, nil
	})
}

// ForwardInput records a vendor sending worked goods onward.
type ForwardInput struct {
	UserID            generic.UserID
	SenderID          generic.UserID // defaults to UserID
	ReceiverID        generic.UserID
	ParentEventID     generic.EventID
	QuantityForwarded int
	QuantityBeforeJob *int
	JobWork           string
	PricePerPiece     *generic.Money
	DamagedAfterJob   int
	Transport         *voucher.Transport
	Comment           string
	Timestamp         time.Time
}

// Forward appends a forward event after checking the sender holds enough.
func (s *Service) Forward(ctx context.Context, id generic.VoucherID, in ForwardInput) (*voucher.Voucher, error) {
	if in.SenderID == "" {
		in.SenderID = in.UserID
	}
	return s.appendEvent(ctx, id, func(v *voucher.Voucher, ordered []voucher.Event) (voucher.Event, error) {
		if err := s.checkParent(v, in.ParentEventID); err != nil {
			return voucher.Event{}, err
		}
		if in.ReceiverID == "" {
			return voucher.Event{}, generic.InvalidEvent("receiver_id", "is required")
		}
		need := in.QuantityForwarded + in.DamagedAfterJob
		if held := voucher.AvailableForSender(ordered, in.SenderID); need > held {
			return voucher.Event{}, &generic.InsufficientQuantityError{
				VoucherID: v.ID,
				SenderID:  in.SenderID,
				Available: held,
				Requested: need,
			}
		}
		return voucher.Event{
			ID:            voucher.NextEventID(v),
			Type:          voucher.EventForward,
			Timestamp:     s.timestamp(in.Timestamp),
			UserID:        in.UserID,
			Comment:       in.Comment,
			ParentEventID: in.ParentEventID,
			Details: voucher.ForwardDetails{
				SenderID:          in.SenderID,
				ReceiverID:        in.ReceiverID,
				QuantityForwarded: in.QuantityForwarded,
				QuantityBeforeJob: in.QuantityBeforeJob,
				JobWork:           in.JobWork,
				PricePerPiece:     in.PricePerPiece,
				Discrepancies:     voucher.ForwardDiscrepancies{DamagedAfterJob: in.DamagedAfterJob},
				Transport:         in.Transport,
			},
		}, nil
	})
}

type buildFunc func(v *voucher.Voucher, ordered []voucher.Event) (voucher.Event, error)

// appendEvent runs load → build → validate → append → sync → update, retrying
// once if another writer got there first.
func (s *Service) appendEvent(ctx context.Context, id generic.VoucherID, build buildFunc) (*voucher.Voucher, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		v, err := s.Vouchers.GetVoucher(ctx, id)
		if err != nil {
			return nil, err
		}
		if v.IsCompleted() {
			return nil, fmt.Errorf("voucher %s: %w", v.VoucherNo, generic.ErrVoucherCompleted)
		}
		e, err := build(v, voucher.SortEvents(v.Events))
		if err != nil {
			return nil, err
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}

		v.Events = append(v.Events, e)
		voucher.SyncCache(v)
		v.UpdatedAt = s.Now()

		err = s.Vouchers.UpdateVoucher(ctx, v)
		if err == nil {
			s.Metrics.EventAppended(e.Type)
			s.Logger.Info("event appended",
				zap.String("voucher_no", v.VoucherNo),
				zap.String("event_id", string(e.ID)),
				zap.String("event_type", string(e.Type)),
				zap.String("status", string(v.Status)),
			)
			return v, nil
		}
		if !generic.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		s.Logger.Debug("retrying append after concurrent modification", zap.String("voucher_id", string(id)))
	}
	return nil, lastErr
}

func (s *Service) checkParent(v *voucher.Voucher, parent generic.EventID) error {
	if parent == "" {
		return nil
	}
	if _, ok := v.FindEvent(parent); !ok {
		return fmt.Errorf("parent %s on voucher %s: %w", parent, v.VoucherNo, generic.ErrEventNotFound)
	}
	return nil
}

func (s *Service) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.Now()
	}
	return t
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete closes the voucher after the admin receives the final goods.
func (s *Service) Complete(ctx context.Context, id generic.VoucherID, adminID generic.UserID, receivedQty int) (*voucher.Voucher, error) {
	if receivedQty < 0 {
		return nil, generic.InvalidVoucher("admin_received_quantity", "must not be negative")
	}
	for attempt := 0; ; attempt++ {
		v, err := s.Vouchers.GetVoucher(ctx, id)
		if err != nil {
			return nil, err
		}
		if v.IsCompleted() {
			return nil, fmt.Errorf("voucher %s: %w", v.VoucherNo, generic.ErrVoucherCompleted)
		}
		if len(voucher.ForwardEvents(v)) == 0 {
			return nil, fmt.Errorf("voucher %s: %w", v.VoucherNo, generic.ErrNotForwarded)
		}

		now := s.Now()
		v.Completion = &voucher.Completion{At: now, By: adminID, AdminReceivedQuantity: receivedQty}
		voucher.SyncCache(v)
		v.UpdatedAt = now

		err = s.Vouchers.UpdateVoucher(ctx, v)
		if err == nil {
			s.Logger.Info("voucher completed",
				zap.String("voucher_no", v.VoucherNo),
				zap.Int("admin_received_quantity", receivedQty),
			)
			return v, nil
		}
		if !generic.IsRetryable(err) || attempt > 0 {
			return nil, err
		}
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentInput records money paid to a vendor.
type PaymentInput struct {
	VoucherID      generic.VoucherID
	ForwardEventID generic.EventID // preferred; empty records a legacy-style payment
	VendorID       generic.UserID  // required without ForwardEventID
	VendorName     string
	VendorCode     string
	JobWorkDone    string
	AmountPaid     generic.Money
	PaymentDate    generic.TimePoint
	CreatedBy      generic.UserID
}

// RecordPayment stores a payment. With a forward event id the vendor, job
// work, price and quantity are taken from the event.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (payment.Payment, error) {
	v, err := s.Vouchers.GetVoucher(ctx, in.VoucherID)
	if err != nil {
		return payment.Payment{}, err
	}

	now := s.Now()
	p := payment.Payment{
		ID:             generic.PaymentID(s.NewID()),
		VoucherID:      v.ID,
		VendorID:       in.VendorID,
		VendorName:     in.VendorName,
		VendorCode:     in.VendorCode,
		JobWorkDone:    in.JobWorkDone,
		PricePerPiece:  generic.ZeroMoney(),
		TotalAmount:    generic.ZeroMoney(),
		AmountPaid:     in.AmountPaid,
		PaymentDate:    in.PaymentDate,
		ForwardEventID: in.ForwardEventID,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = generic.DateOf(now)
	}

	if in.ForwardEventID != "" {
		e, ok := v.FindEvent(in.ForwardEventID)
		if !ok {
			return payment.Payment{}, fmt.Errorf("forward event %s on voucher %s: %w",
				in.ForwardEventID, v.VoucherNo, generic.ErrEventNotFound)
		}
		fwd, ok := e.Forward()
		if !ok {
			return payment.Payment{}, generic.InvalidPayment("forwardEventId", "%s is a %s event", e.ID, e.Type)
		}
		if p.VendorID != "" && p.VendorID != fwd.SenderID {
			return payment.Payment{}, generic.InvalidPayment("vendorId",
				"%s did not perform forward event %s", p.VendorID, e.ID)
		}
		p.VendorID = fwd.SenderID
		p.JobWorkDone = fwd.JobWork
		p.PricePerPiece = fwd.Price()
		p.NetQty = fwd.QuantityForwarded
		p.TotalAmount = fwd.Price().MulInt(fwd.QuantityForwarded)
	}

	if err := p.Validate(); err != nil {
		return payment.Payment{}, err
	}
	if err := s.Payments.CreatePayment(ctx, p); err != nil {
		return payment.Payment{}, fmt.Errorf("recording payment on voucher %s: %w", v.VoucherNo, err)
	}

	s.Metrics.PaymentRecorded()
	s.Logger.Info("payment recorded",
		zap.String("voucher_no", v.VoucherNo),
		zap.String("payment_id", string(p.ID)),
		zap.String("vendor_id", string(p.VendorID)),
		zap.String("forward_event_id", string(p.ForwardEventID)),
		zap.String("amount_paid", p.AmountPaid.String()),
	)
	return p, nil
}

// =============================================================================
// SIMPLE READS
// =============================================================================

// GetVoucher returns the stored voucher.
func (s *Service) GetVoucher(ctx context.Context, id generic.VoucherID) (*voucher.Voucher, error) {
	return s.Vouchers.GetVoucher(ctx, id)
}

// ListVouchers returns vouchers with their cached fields.
func (s *Service) ListVouchers(ctx context.Context, filter VoucherFilter) ([]*voucher.Voucher, error) {
	return s.Vouchers.ListVouchers(ctx, filter)
}

// PaymentsForVoucher returns all payments recorded against a voucher.
func (s *Service) PaymentsForVoucher(ctx context.Context, id generic.VoucherID) ([]payment.Payment, error) {
	if _, err := s.Vouchers.GetVoucher(ctx, id); err != nil {
		return nil, err
	}
	return s.Payments.PaymentsByVoucher(ctx, id)
}

// PaymentsForVendor returns every payment made to a vendor, across vouchers,
// in the order they were recorded.
func (s *Service) PaymentsForVendor(ctx context.Context, vendorID generic.UserID) ([]payment.Payment, error) {
	if vendorID == "" {
		return nil, generic.InvalidPayment("vendorId", "is required")
	}
	return s.Payments.PaymentsByVendor(ctx, vendorID)
}

// DeleteVoucher removes a voucher. Its number is not reissued.
func (s *Service) DeleteVoucher(ctx context.Context, id generic.VoucherID) error {
	if err := s.Vouchers.DeleteVoucher(ctx, id); err != nil {
		return err
	}
	s.Logger.Info("voucher deleted", zap.String("voucher_id", string(id)))
	return nil
}

// PreviewNextNumber shows the number the next voucher would likely get. It
// reserves nothing; CreateVoucher allocates atomically.
func (s *Service) PreviewNextNumber(ctx context.Context) (string, error) {
	fy := s.Allocator.CurrentFinancialYear()
	existing, err := s.Vouchers.VoucherNumbers(ctx, fy)
	if err != nil {
		return "", err
	}
	return generic.NextNumber(existing, fy, s.Allocator.Format), nil
}
