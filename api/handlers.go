/*
handlers.go - HTTP API handlers for the job-work voucher ledger

PURPOSE:
  Exposes jobwork.Service via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the service.

ENDPOINTS:
  Vouchers:
    GET    /api/vouchers                  List (cached status and totals)
    POST   /api/vouchers                  Create and dispatch
    GET    /api/vouchers/{id}             Voucher and timeline
    GET    /api/vouchers/{id}/view        Derived view with payments
    POST   /api/vouchers/{id}/receive     Append receive
    POST   /api/vouchers/{id}/forward     Append forward
    POST   /api/vouchers/{id}/complete    Close
    DELETE /api/vouchers/{id}             Delete (number not reused)
    GET    /api/vouchers/{id}/payments    Payments recorded on the voucher

  Payments:
    POST   /api/payments                  Record payment
    GET    /api/vendors/{id}/account      Vendor needed/completed payments
    GET    /api/vendors/{id}/payments     Vendor payment history

  Admin:
    POST   /api/admin/cache-audit         Re-fold all vouchers
    GET    /api/voucher-numbers/next      Preview next number (not reserved)

REQUEST FLOW:
  1. Decode JSON body
  2. Validate with struct tags
  3. Convert to service input
  4. Call jobwork.Service
  5. Serialize response or map error to status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Voucher or event not found
  - 409: Concurrent modification, completed voucher, duplicate number
  - 422: Quantity exceeds what the sender holds
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. User ids in request bodies are
  trusted as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/jobwork"
	"github.com/warp/jobwork-ledger/voucher"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *jobwork.Service
	Logger  *zap.Logger

	validate *validator.Validate
}

// NewHandler creates a handler over the service.
func NewHandler(svc *jobwork.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: svc, Logger: logger, validate: newValidator()}
}

// newValidator reports json tag names in field errors.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// VOUCHER HANDLERS
// =============================================================================

// ListVouchers returns vouchers from cached fields.
// GET /api/vouchers?status=Forwarded&financial_year=2025-26
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	filter := jobwork.VoucherFilter{
		Status:        voucher.Status(r.URL.Query().Get("status")),
		FinancialYear: r.URL.Query().Get("financial_year"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", fmt.Errorf("unknown status %q", filter.Status))
		return
	}

	vouchers, err := h.Service.ListVouchers(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]VoucherListItemDTO, len(vouchers))
	for i, v := range vouchers {
		dtos[i] = toListItem(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateVoucher allocates a number and dispatches the batch.
// POST /api/vouchers
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req CreateVoucherRequest
	if !h.decode(w, r, &req) {
		return
	}

	createdAt, err := optionalDate(req.CreatedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid created_at", err)
		return
	}
	transport, err := req.Transport.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transport", err)
		return
	}
	supplierPrice := generic.ZeroMoney()
	if req.SupplierPricePerPiece != "" {
		if supplierPrice, err = generic.ParseMoney(req.SupplierPricePerPiece); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid supplier_price_per_piece", err)
			return
		}
	}

	v, err := h.Service.CreateVoucher(r.Context(), jobwork.CreateVoucherInput{
		CreatedAt: createdAt,
		CreatedBy: generic.UserID(req.CreatedBy),
		Item: voucher.ItemDetails{
			ItemName:              req.ItemName,
			Images:                req.Images,
			InitialQuantity:       req.InitialQuantity,
			SupplierName:          req.SupplierName,
			SupplierPricePerPiece: supplierPrice,
		},
		ReceiverID:         generic.UserID(req.ReceiverID),
		QuantityDispatched: req.QuantityDispatched,
		JobWork:            req.JobWork,
		Transport:          transport,
		Comment:            req.Comment,
		Timestamp:          optionalTime(req.Timestamp),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetVoucher returns the stored voucher and its display timeline.
// GET /api/vouchers/{id}
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.GetVoucher(r.Context(), voucherID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VoucherDetailDTO{Voucher: v, Timeline: voucher.Timeline(v)})
}

// GetVoucherView returns the derived view.
// GET /api/vouchers/{id}/view
func (h *Handler) GetVoucherView(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.View(r.Context(), voucherID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Receive appends a receive event.
// POST /api/vouchers/{id}/receive
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.Service.Receive(r.Context(), voucherID(r), jobwork.ReceiveInput{
		UserID:           generic.UserID(req.UserID),
		ReceiverID:       generic.UserID(req.ReceiverID),
		SenderID:         generic.UserID(req.SenderID),
		ParentEventID:    generic.EventID(req.ParentEventID),
		QuantityReceived: req.QuantityReceived,
		QuantityExpected: req.QuantityExpected,
		Missing:          req.Missing,
		DamagedOnArrival: req.DamagedOnArrival,
		DamageReason:     req.DamageReason,
		Comment:          req.Comment,
		Timestamp:        optionalTime(req.Timestamp),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// Forward appends a forward event.
// POST /api/vouchers/{id}/forward
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	var req ForwardRequest
	if !h.decode(w, r, &req) {
		return
	}

	var price *generic.Money
	if req.PricePerPiece != "" {
		p, err := generic.ParseMoney(req.PricePerPiece)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid price_per_piece", err)
			return
		}
		price = &p
	}
	var transport *voucher.Transport
	if req.Transport != nil {
		t, err := req.Transport.toDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid transport", err)
			return
		}
		transport = &t
	}

	v, err := h.Service.Forward(r.Context(), voucherID(r), jobwork.ForwardInput{
		UserID:            generic.UserID(req.UserID),
		SenderID:          generic.UserID(req.SenderID),
		ReceiverID:        generic.UserID(req.ReceiverID),
		ParentEventID:     generic.EventID(req.ParentEventID),
		QuantityForwarded: req.QuantityForwarded,
		QuantityBeforeJob: req.QuantityBeforeJob,
		JobWork:           req.JobWork,
		PricePerPiece:     price,
		DamagedAfterJob:   req.DamagedAfterJob,
		Transport:         transport,
		Comment:           req.Comment,
		Timestamp:         optionalTime(req.Timestamp),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// Complete closes a voucher.
// POST /api/vouchers/{id}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.Service.Complete(r.Context(), voucherID(r), generic.UserID(req.AdminID), req.AdminReceivedQuantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// DeleteVoucher removes a voucher.
// DELETE /api/vouchers/{id}
func (h *Handler) DeleteVoucher(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteVoucher(r.Context(), voucherID(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListVoucherPayments returns payments recorded on a voucher.
// GET /api/vouchers/{id}/payments
func (h *Handler) ListVoucherPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Service.PaymentsForVoucher(r.Context(), voucherID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if payments == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment stores a vendor payment.
// POST /api/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := generic.ParseMoney(req.AmountPaid)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amountPaid", err)
		return
	}
	date, err := optionalDate(req.PaymentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid paymentDate", err)
		return
	}

	p, err := h.Service.RecordPayment(r.Context(), jobwork.PaymentInput{
		VoucherID:      generic.VoucherID(req.VoucherID),
		ForwardEventID: generic.EventID(req.ForwardEventID),
		VendorID:       generic.UserID(req.VendorID),
		VendorName:     req.VendorName,
		VendorCode:     req.VendorCode,
		JobWorkDone:    req.JobWorkDone,
		AmountPaid:     amount,
		PaymentDate:    date,
		CreatedBy:      generic.UserID(req.CreatedBy),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetVendorAccount returns a vendor's needed and completed payments.
// GET /api/vendors/{id}/account
func (h *Handler) GetVendorAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Service.VendorAccount(r.Context(), generic.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ListVendorPayments returns the payments made to a vendor.
// GET /api/vendors/{id}/payments
func (h *Handler) ListVendorPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Service.PaymentsForVendor(r.Context(), generic.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if payments == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunCacheAudit re-folds every voucher. ?repair=false only reports.
// POST /api/admin/cache-audit
func (h *Handler) RunCacheAudit(w http.ResponseWriter, r *http.Request) {
	repair := r.URL.Query().Get("repair") != "false"
	report, err := h.Service.AuditCache(r.Context(), repair)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// PreviewNextNumber shows the number the next voucher will probably get.
// GET /api/voucher-numbers/next
func (h *Handler) PreviewNextNumber(w http.ResponseWriter, r *http.Request) {
	number, err := h.Service.PreviewNextNumber(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NextNumberDTO{
		VoucherNo:     number,
		FinancialYear: h.Service.Allocator.CurrentFinancialYear().Label(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func voucherID(r *http.Request) generic.VoucherID {
	return generic.VoucherID(chi.URLParam(r, "id"))
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			resp := ErrorResponse{Error: "Request validation failed"}
			for _, fe := range verrs {
				resp.Fields = append(resp.Fields, FieldErrorDTO{Field: fe.Field(), Message: validationMessage(fe)})
			}
			writeJSON(w, http.StatusBadRequest, resp)
			return false
		}
		writeError(w, http.StatusBadRequest, "Request validation failed", err)
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "required_without":
		return "Required when " + fe.Param() + " is empty"
	case "gt":
		return "Must be greater than " + fe.Param()
	case "gte":
		return "Must be greater than or equal to " + fe.Param()
	case "ltefield":
		return "Must not exceed " + fe.Param()
	case "numeric":
		return "Must be a decimal number"
	case "datetime":
		return "Must be a date in " + fe.Param() + " format"
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	default:
		return "Failed " + fe.Tag() + " validation"
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsQuantityViolation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrConcurrentModification),
		errors.Is(err, generic.ErrVoucherCompleted),
		errors.Is(err, generic.ErrDuplicateVoucherNumber):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, "Internal error", nil)
		return
	}

	resp := ErrorResponse{Error: http.StatusText(status), Details: err.Error()}
	var detail *generic.ValidationErrorDetail
	if errors.As(err, &detail) {
		resp.Fields = []FieldErrorDTO{{Field: detail.Field, Message: detail.Message}}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
