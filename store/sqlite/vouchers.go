package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/jobwork"
	"github.com/warp/jobwork-ledger/voucher"
)

var _ jobwork.VoucherStore = (*Store)(nil)

// =============================================================================
// VOUCHER STORE (jobwork.VoucherStore interface)
// =============================================================================

const voucherColumns = `
	id, voucher_no, financial_year, created_at, created_by, item_json,
	events_json, completion_json, status,
	total_dispatched, total_received, total_forwarded, total_missing_on_arrival,
	total_damaged_on_arrival, total_damaged_after_work, admin_received_quantity,
	version, updated_at`

// CreateVoucher inserts v with version 1.
func (s *Store) CreateVoucher(ctx context.Context, v *voucher.Voucher) error {
	row, err := encodeVoucher(v)
	if err != nil {
		return err
	}

	query := `INSERT INTO vouchers (` + voucherColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`

	_, err = s.db.ExecContext(ctx, query,
		v.ID, v.VoucherNo, v.FinancialYear, v.CreatedAt.String(), v.CreatedBy, row.item,
		row.events, row.completion, v.Status,
		v.Totals.Dispatched, v.Totals.Received, v.Totals.Forwarded, v.Totals.MissingOnArrival,
		v.Totals.DamagedOnArrival, v.Totals.DamagedAfterWork, v.Totals.AdminReceived,
		formatTime(v.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "voucher_no") {
			return fmt.Errorf("%s: %w", v.VoucherNo, generic.ErrDuplicateVoucherNumber)
		}
		return fmt.Errorf("failed to insert voucher: %w", err)
	}
	v.Version = 1
	return nil
}

// GetVoucher loads a voucher by id.
func (s *Store) GetVoucher(ctx context.Context, id generic.VoucherID) (*voucher.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = ?`

	v, err := scanVoucher(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("voucher %s: %w", id, generic.ErrNotFound)
	}
	return v, err
}

// ListVouchers returns matching vouchers, newest number first.
func (s *Store) ListVouchers(ctx context.Context, filter jobwork.VoucherFilter) ([]*voucher.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.FinancialYear != "" {
		query += ` AND financial_year = ?`
		args = append(args, filter.FinancialYear)
	}
	query += ` ORDER BY voucher_no DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []*voucher.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

// UpdateVoucher writes v if the stored version still equals v.Version.
func (s *Store) UpdateVoucher(ctx context.Context, v *voucher.Voucher) error {
	row, err := encodeVoucher(v)
	if err != nil {
		return err
	}

	query := `
		UPDATE vouchers SET
			item_json = ?, events_json = ?, completion_json = ?, status = ?,
			total_dispatched = ?, total_received = ?, total_forwarded = ?,
			total_missing_on_arrival = ?, total_damaged_on_arrival = ?,
			total_damaged_after_work = ?, admin_received_quantity = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		row.item, row.events, row.completion, v.Status,
		v.Totals.Dispatched, v.Totals.Received, v.Totals.Forwarded,
		v.Totals.MissingOnArrival, v.Totals.DamagedOnArrival,
		v.Totals.DamagedAfterWork, v.Totals.AdminReceived,
		formatTime(v.UpdatedAt),
		v.ID, v.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update voucher: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vouchers WHERE id = ?`, v.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("voucher %s: %w", v.ID, generic.ErrNotFound)
		}
		return fmt.Errorf("voucher %s at version %d: %w", v.VoucherNo, v.Version, generic.ErrConcurrentModification)
	}
	v.Version++
	return nil
}

// DeleteVoucher removes a voucher; its payments go with it. The counter is
// untouched, so the number is never reissued.
func (s *Store) DeleteVoucher(ctx context.Context, id generic.VoucherID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vouchers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete voucher: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("voucher %s: %w", id, generic.ErrNotFound)
	}
	return nil
}

// VoucherNumbers lists numbers issued in fy.
func (s *Store) VoucherNumbers(ctx context.Context, fy generic.FinancialYear) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT voucher_no FROM vouchers WHERE financial_year = ? ORDER BY voucher_no`, fy.Label())
	if err != nil {
		return nil, fmt.Errorf("failed to query voucher numbers: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// =============================================================================
// ENCODING
// =============================================================================

type voucherRow struct {
	item       string
	events     string
	completion sql.NullString
}

func encodeVoucher(v *voucher.Voucher) (voucherRow, error) {
	var row voucherRow
	item, err := json.Marshal(v.Item)
	if err != nil {
		return row, fmt.Errorf("failed to encode item: %w", err)
	}
	row.item = string(item)

	if row.events, err = voucher.EncodeEvents(v.Events); err != nil {
		return row, fmt.Errorf("failed to encode events: %w", err)
	}
	if v.Completion != nil {
		c, err := json.Marshal(v.Completion)
		if err != nil {
			return row, fmt.Errorf("failed to encode completion: %w", err)
		}
		row.completion = nullString(string(c))
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVoucher(sc scanner) (*voucher.Voucher, error) {
	var (
		v          voucher.Voucher
		createdAt  string
		item       string
		events     string
		completion sql.NullString
		updatedAt  string
	)

	err := sc.Scan(
		&v.ID, &v.VoucherNo, &v.FinancialYear, &createdAt, &v.CreatedBy, &item,
		&events, &completion, &v.Status,
		&v.Totals.Dispatched, &v.Totals.Received, &v.Totals.Forwarded, &v.Totals.MissingOnArrival,
		&v.Totals.DamagedOnArrival, &v.Totals.DamagedAfterWork, &v.Totals.AdminReceived,
		&v.Version, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan voucher: %w", err)
	}

	if v.CreatedAt, err = generic.ParseDate(createdAt); err != nil {
		return nil, fmt.Errorf("voucher %s created_at: %w", v.VoucherNo, err)
	}
	v.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(item), &v.Item); err != nil {
		return nil, fmt.Errorf("voucher %s item: %w", v.VoucherNo, err)
	}
	if v.Events, err = voucher.DecodeEvents(events); err != nil {
		return nil, fmt.Errorf("voucher %s events: %w", v.VoucherNo, err)
	}
	if completion.Valid && completion.String != "" {
		v.Completion = &voucher.Completion{}
		if err := json.Unmarshal([]byte(completion.String), v.Completion); err != nil {
			return nil, fmt.Errorf("voucher %s completion: %w", v.VoucherNo, err)
		}
	}
	return &v, nil
}
