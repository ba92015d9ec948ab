package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/jobwork"
	"github.com/warp/jobwork-ledger/payment"
)

var _ jobwork.PaymentStore = (*Store)(nil)

// =============================================================================
// PAYMENT STORE (jobwork.PaymentStore interface)
// =============================================================================

const paymentColumns = `
	id, voucher_id, vendor_id, vendor_name, vendor_code, job_work_done,
	price_per_piece, net_qty, total_amount, amount_paid, payment_date,
	forward_event_id, created_by, created_at`

// CreatePayment inserts a payment. Payments are never updated.
func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.VoucherID, p.VendorID, nullString(p.VendorName), nullString(p.VendorCode),
		nullString(p.JobWorkDone), p.PricePerPiece.String(), p.NetQty,
		p.TotalAmount.String(), p.AmountPaid.String(), p.PaymentDate.String(),
		nullString(string(p.ForwardEventID)), nullString(string(p.CreatedBy)),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("voucher %s: %w", p.VoucherID, generic.ErrNotFound)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// PaymentsByVoucher returns a voucher's payments in the order recorded.
func (s *Store) PaymentsByVoucher(ctx context.Context, id generic.VoucherID) ([]payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE voucher_id = ? ORDER BY created_at, id`
	return s.queryPayments(ctx, query, id)
}

// PaymentsByVendor returns every payment made to a vendor.
func (s *Store) PaymentsByVendor(ctx context.Context, vendorID generic.UserID) ([]payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE vendor_id = ? ORDER BY created_at, id`
	return s.queryPayments(ctx, query, vendorID)
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(rows *sql.Rows) (payment.Payment, error) {
	var (
		p              payment.Payment
		vendorName     sql.NullString
		vendorCode     sql.NullString
		jobWork        sql.NullString
		price          string
		total          string
		paid           string
		paymentDate    string
		forwardEventID sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&p.ID, &p.VoucherID, &p.VendorID, &vendorName, &vendorCode, &jobWork,
		&price, &p.NetQty, &total, &paid, &paymentDate,
		&forwardEventID, &createdBy, &createdAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.VendorName = vendorName.String
	p.VendorCode = vendorCode.String
	p.JobWorkDone = jobWork.String
	p.PricePerPiece = generic.MustParseMoney(price)
	p.TotalAmount = generic.MustParseMoney(total)
	p.AmountPaid = generic.MustParseMoney(paid)
	p.ForwardEventID = generic.EventID(forwardEventID.String)
	p.CreatedBy = generic.UserID(createdBy.String)
	p.CreatedAt = parseTime(createdAt)
	if p.PaymentDate, err = generic.ParseDate(paymentDate); err != nil {
		return p, fmt.Errorf("payment %s date: %w", p.ID, err)
	}
	return p, nil
}
