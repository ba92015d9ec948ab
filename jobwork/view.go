package jobwork

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/payment"
	"github.com/warp/jobwork-ledger/voucher"
)

// accountConcurrency bounds the per-voucher payment lookups of VendorAccount.
const accountConcurrency = 8

// EventView is an event with its sender resolved for display.
type EventView struct {
	Event          voucher.Event      `json:"event"`
	ResolvedSender string             `json:"resolvedSender"`
	SenderRule     voucher.SenderRule `json:"senderRule"`
}

// VoucherView is the derived read model of one voucher.
type VoucherView struct {
	Voucher  *voucher.Voucher `json:"voucher"`
	Summary  voucher.Summary  `json:"summary"`
	Timeline []EventView      `json:"timeline"`
	Payments payment.Result   `json:"payments"`

	// CacheDivergences lists cached fields that disagree with the events.
	// The summary above is always derived, never read from the cache.
	CacheDivergences []voucher.Divergence `json:"cacheDivergences,omitempty"`
}

// View derives summary, timeline and payment reconciliation for a voucher.
func (s *Service) View(ctx context.Context, id generic.VoucherID) (*VoucherView, error) {
	var (
		v        *voucher.Voucher
		payments []payment.Payment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		v, err = s.Vouchers.GetVoucher(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = s.Payments.PaymentsByVoucher(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ordered := voucher.SortEvents(v.Events)
	timeline := voucher.Timeline(v)
	views := make([]EventView, 0, len(timeline))
	for _, e := range timeline {
		res := voucher.ResolveSenderID(e, ordered)
		if e.Type == voucher.EventCompleted {
			res = voucher.SenderResolution{Rule: voucher.SenderUnresolved}
		}
		views = append(views, EventView{Event: e, ResolvedSender: res.Display(), SenderRule: res.Rule})
	}

	result := payment.Reconcile(v.ID, voucher.ForwardEvents(v), payments)
	s.reportUnattributed(v, result)

	divs := voucher.CheckCache(v)
	for _, d := range divs {
		s.Metrics.CacheDivergence(d.Field)
	}

	return &VoucherView{
		Voucher:          v,
		Summary:          voucher.Summarize(v),
		Timeline:         views,
		Payments:         result,
		CacheDivergences: divs,
	}, nil
}

// VendorAccount reconciles every voucher the vendor forwarded on and keeps
// the vendor's entries.
func (s *Service) VendorAccount(ctx context.Context, vendorID generic.UserID) (payment.Account, error) {
	all, err := s.Vouchers.ListVouchers(ctx, VoucherFilter{})
	if err != nil {
		return payment.Account{}, err
	}

	var mine []*voucher.Voucher
	for _, v := range all {
		for _, e := range v.Events {
			if fwd, ok := e.Forward(); ok && fwd.SenderID == vendorID {
				mine = append(mine, v)
				break
			}
		}
	}

	results := make([]payment.Result, len(mine))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(accountConcurrency)
	for i, v := range mine {
		g.Go(func() error {
			payments, err := s.Payments.PaymentsByVoucher(gctx, v.ID)
			if err != nil {
				return fmt.Errorf("payments for voucher %s: %w", v.VoucherNo, err)
			}
			results[i] = payment.Reconcile(v.ID, voucher.ForwardEvents(v), payments)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return payment.Account{}, err
	}
	return payment.AccountFor(vendorID, results), nil
}

func (s *Service) reportUnattributed(v *voucher.Voucher, result payment.Result) {
	for _, u := range result.Unattributed {
		s.Metrics.Unattributed(u.Kind)
		s.Logger.Warn("unattributed record",
			zap.String("voucher_no", v.VoucherNo),
			zap.String("kind", string(u.Kind)),
			zap.String("id", u.ID),
			zap.String("reason", u.Reason),
		)
	}
}
