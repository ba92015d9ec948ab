package jobwork

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/voucher"
)

// AuditFinding lists the cached fields of one voucher that disagreed with the
// fold.
type AuditFinding struct {
	VoucherID   generic.VoucherID    `json:"voucherId"`
	VoucherNo   string               `json:"voucherNo"`
	Divergences []voucher.Divergence `json:"divergences"`
	Repaired    bool                 `json:"repaired"`
}

// AuditReport is the outcome of one AuditCache run.
type AuditReport struct {
	StartedAt time.Time      `json:"startedAt"`
	Checked   int            `json:"checked"`
	Diverged  int            `json:"diverged"`
	Repaired  int            `json:"repaired"`
	Findings  []AuditFinding `json:"findings"`
}

// AuditCache compares every voucher's cached status and totals with the
// fold. With repair set, divergent vouchers are re-synced and saved; a
// voucher modified concurrently is skipped since its writer re-synced it.
func (s *Service) AuditCache(ctx context.Context, repair bool) (AuditReport, error) {
	report := AuditReport{StartedAt: s.Now()}

	all, err := s.Vouchers.ListVouchers(ctx, VoucherFilter{})
	if err != nil {
		return report, err
	}
	for _, v := range all {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		divs := voucher.CheckCache(v)
		if len(divs) == 0 {
			continue
		}
		report.Diverged++
		finding := AuditFinding{VoucherID: v.ID, VoucherNo: v.VoucherNo, Divergences: divs}
		for _, d := range divs {
			s.Metrics.CacheDivergence(d.Field)
			s.Logger.Warn("cached field diverges from events",
				zap.String("voucher_no", v.VoucherNo),
				zap.String("field", d.Field),
				zap.String("cached", d.Cached),
				zap.String("derived", d.Derived),
			)
		}

		if repair {
			voucher.SyncCache(v)
			v.UpdatedAt = s.Now()
			switch err := s.Vouchers.UpdateVoucher(ctx, v); {
			case err == nil:
				finding.Repaired = true
				report.Repaired++
			case errors.Is(err, generic.ErrConcurrentModification):
				s.Logger.Debug("voucher changed during audit", zap.String("voucher_no", v.VoucherNo))
			default:
				return report, err
			}
		}
		report.Findings = append(report.Findings, finding)
	}

	s.Logger.Info("cache audit finished",
		zap.Int("checked", report.Checked),
		zap.Int("diverged", report.Diverged),
		zap.Int("repaired", report.Repaired),
	)
	return report, nil
}
