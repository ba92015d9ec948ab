/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  validator tags; handlers run them through the shared validator before
  touching the service.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients
  - *Response: Wrappers

MONEY:
  Amounts travel as decimal strings ("12.50") and are parsed with
  generic.ParseMoney. Floats never carry money.

DATES:
  Business dates are "YYYY-MM-DD". Event timestamps are RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/voucher"
)

// =============================================================================
// REQUESTS
// =============================================================================

// TransportDTO is the consignment note of a dispatch or forward.
type TransportDTO struct {
	LRNo            string `json:"lr_no"`
	LRDate          string `json:"lr_date" validate:"omitempty,datetime=2006-01-02"`
	TransporterName string `json:"transporter_name"`
}

// CreateVoucherRequest opens a voucher and dispatches it.
type CreateVoucherRequest struct {
	CreatedBy             string        `json:"created_by_user_id" validate:"required"`
	CreatedAt             string        `json:"created_at" validate:"omitempty,datetime=2006-01-02"`
	ItemName              string        `json:"item_name" validate:"required,max=200"`
	Images                []string      `json:"images"`
	InitialQuantity       int           `json:"initial_quantity" validate:"gt=0"`
	SupplierName          string        `json:"supplier_name"`
	SupplierPricePerPiece string        `json:"supplier_price_per_piece" validate:"omitempty,numeric"`
	ReceiverID            string        `json:"receiver_id" validate:"required"`
	QuantityDispatched    int           `json:"quantity_dispatched" validate:"gte=0"`
	JobWork               string        `json:"jobWork"`
	Transport             *TransportDTO `json:"transport"`
	Comment               string        `json:"comment"`
	Timestamp             *time.Time    `json:"timestamp"`
}

// ReceiveRequest records goods arriving at a vendor.
type ReceiveRequest struct {
	UserID           string     `json:"user_id" validate:"required"`
	ReceiverID       string     `json:"receiver_id"`
	SenderID         string     `json:"sender_id"`
	ParentEventID    string     `json:"parent_event_id"`
	QuantityReceived int        `json:"quantity_received" validate:"gte=0"`
	QuantityExpected *int       `json:"quantity_expected" validate:"omitempty,gte=0"`
	Missing          int        `json:"missing" validate:"gte=0"`
	DamagedOnArrival int        `json:"damaged_on_arrival" validate:"gte=0,ltefield=QuantityReceived"`
	DamageReason     string     `json:"damage_reason"`
	Comment          string     `json:"comment"`
	Timestamp        *time.Time `json:"timestamp"`
}

// ForwardRequest records worked goods sent onward.
type ForwardRequest struct {
	UserID            string        `json:"user_id" validate:"required"`
	SenderID          string        `json:"sender_id"`
	ReceiverID        string        `json:"receiver_id" validate:"required"`
	ParentEventID     string        `json:"parent_event_id"`
	QuantityForwarded int           `json:"quantity_forwarded" validate:"gte=0"`
	QuantityBeforeJob *int          `json:"quantity_before_job" validate:"omitempty,gte=0"`
	JobWork           string        `json:"jobWork"`
	PricePerPiece     string        `json:"price_per_piece" validate:"omitempty,numeric"`
	DamagedAfterJob   int           `json:"damaged_after_job" validate:"gte=0"`
	Transport         *TransportDTO `json:"transport"`
	Comment           string        `json:"comment"`
	Timestamp         *time.Time    `json:"timestamp"`
}

// CompleteRequest closes a voucher.
type CompleteRequest struct {
	AdminID               string `json:"admin_id" validate:"required"`
	AdminReceivedQuantity int    `json:"admin_received_quantity" validate:"gte=0"`
}

// PaymentRequest records a vendor payment.
type PaymentRequest struct {
	VoucherID      string `json:"voucherId" validate:"required"`
	ForwardEventID string `json:"forwardEventId"`
	VendorID       string `json:"vendorId" validate:"required_without=ForwardEventID"`
	VendorName     string `json:"vendorName"`
	VendorCode     string `json:"vendorCode"`
	JobWorkDone    string `json:"jobWorkDone"`
	AmountPaid     string `json:"amountPaid" validate:"required,numeric"`
	PaymentDate    string `json:"paymentDate" validate:"omitempty,datetime=2006-01-02"`
	CreatedBy      string `json:"createdBy"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// VoucherListItemDTO is a voucher row built from cached fields only.
type VoucherListItemDTO struct {
	ID            string         `json:"id"`
	VoucherNo     string         `json:"voucher_no"`
	FinancialYear string         `json:"financial_year"`
	CreatedAt     string         `json:"created_at"`
	ItemName      string         `json:"item_name"`
	Status        voucher.Status `json:"voucher_status"`
	voucher.Totals
}

// VoucherDetailDTO is a voucher with its display timeline.
type VoucherDetailDTO struct {
	Voucher  *voucher.Voucher `json:"voucher"`
	Timeline []voucher.Event  `json:"timeline"`
}

// NextNumberDTO previews the next voucher number.
type NextNumberDTO struct {
	VoucherNo     string `json:"voucher_no"`
	FinancialYear string `json:"financial_year"`
	Reserved      bool   `json:"reserved"`
}

// FieldErrorDTO names one invalid request field.
type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

func toListItem(v *voucher.Voucher) VoucherListItemDTO {
	return VoucherListItemDTO{
		ID:            string(v.ID),
		VoucherNo:     v.VoucherNo,
		FinancialYear: v.FinancialYear,
		CreatedAt:     v.CreatedAt.String(),
		ItemName:      v.Item.ItemName,
		Status:        v.Status,
		Totals:        v.Totals,
	}
}

func (t *TransportDTO) toDomain() (voucher.Transport, error) {
	if t == nil {
		return voucher.Transport{}, nil
	}
	out := voucher.Transport{LRNo: t.LRNo, TransporterName: t.TransporterName}
	if t.LRDate != "" {
		d, err := generic.ParseDate(t.LRDate)
		if err != nil {
			return out, err
		}
		out.LRDate = d
	}
	return out, nil
}

func optionalDate(s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.TimePoint{}, nil
	}
	return generic.ParseDate(s)
}

func optionalTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
