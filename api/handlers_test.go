/*
handlers_test.go - HTTP tests for the voucher API

Tests for:
- Voucher lifecycle through the router (create, receive, forward, complete)
- Error mapping (400, 404, 409, 422)
- Request validation field errors
- Payments and vendor accounts
- Health, metrics, rate limiting and the cache audit endpoint
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/jobwork"
	"github.com/warp/jobwork-ledger/payment"
	"github.com/warp/jobwork-ledger/store/memory"
	"github.com/warp/jobwork-ledger/telemetry"
	"github.com/warp/jobwork-ledger/voucher"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	router  *chi.Mux
	store   *memory.Memory
	service *jobwork.Service
	metrics *telemetry.Metrics
}

func newTestEnv(t *testing.T, opts RouterOptions) *testEnv {
	t.Helper()
	clock := testNow
	now := func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	mem := memory.NewMemory()
	allocator := generic.NewNumberAllocator(mem, generic.NumberFormat{Prefix: "JW"}, nil)
	allocator.Now = func() time.Time { return testNow }
	metrics := telemetry.NewMetrics()
	svc := jobwork.NewService(mem, mem, allocator, jobwork.WithClock(now), jobwork.WithMetrics(metrics))

	if opts.Metrics == nil {
		opts.Metrics = metrics
	}
	return &testEnv{
		router:  NewRouter(NewHandler(svc, nil), opts),
		store:   mem,
		service: svc,
		metrics: metrics,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// createVoucher opens a 100-piece voucher dispatched to v1.
func (e *testEnv) createVoucher(t *testing.T) map[string]any {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/vouchers", map[string]any{
		"created_by_user_id":       "admin",
		"item_name":                "Cotton shirt",
		"initial_quantity":         100,
		"supplier_name":            "Mill A",
		"supplier_price_per_piece": "40.00",
		"receiver_id":              "v1",
		"jobWork":                  "Dyeing",
		"transport":                map[string]any{"lr_no": "LR-1", "lr_date": "2025-06-10", "transporter_name": "Fast"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[map[string]any](t, rec)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestHandlers_VoucherLifecycle(t *testing.T) {
	// GIVEN: A fresh ledger
	env := newTestEnv(t, RouterOptions{})

	// WHEN: Admin creates a voucher
	v := env.createVoucher(t)
	id := v["id"].(string)

	// THEN: It gets the first number of FY 2025-26 and a dispatch event
	assert.Equal(t, "JW-2526-0001", v["voucher_no"])
	assert.Equal(t, "2025-26", v["financial_year"])
	assert.Equal(t, "Dispatched", v["voucher_status"])
	assert.EqualValues(t, 100, v["total_dispatched"])
	events := v["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "JW-2526-0001-E1", events[0].(map[string]any)["event_id"])

	// WHEN: v1 receives 100 with 2 damaged
	rec := env.do(t, http.MethodPost, "/api/vouchers/"+id+"/receive", map[string]any{
		"user_id":            "v1",
		"sender_id":          "admin",
		"parent_event_id":    "JW-2526-0001-E1",
		"quantity_received":  100,
		"damaged_on_arrival": 2,
		"damage_reason":      "torn",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Received", decodeBody[map[string]any](t, rec)["voucher_status"])

	// AND: v1 forwards 95 to v2 at 2.50 with 3 damaged during work
	rec = env.do(t, http.MethodPost, "/api/vouchers/"+id+"/forward", map[string]any{
		"user_id":            "v1",
		"receiver_id":        "v2",
		"quantity_forwarded": 95,
		"jobWork":            "Dyeing",
		"price_per_piece":    "2.50",
		"damaged_after_job":  3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The view shows derived figures
	rec = env.do(t, http.MethodGet, "/api/vouchers/"+id+"/view", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[jobwork.VoucherView](t, rec)
	assert.Equal(t, voucher.StatusForwarded, view.Summary.Status)
	assert.Equal(t, 98, view.Summary.TotalReceived)
	assert.Equal(t, 95, view.Summary.TotalForwarded)
	assert.Equal(t, 0, view.Summary.AvailableQuantity)
	require.Len(t, view.Timeline, 3)
	assert.Equal(t, "admin", view.Timeline[1].ResolvedSender)
	assert.Equal(t, voucher.SenderExplicit, view.Timeline[1].SenderRule)
	require.Len(t, view.Payments.Needed, 1)
	assert.True(t, view.Payments.Needed[0].TotalAmount.Equal(generic.MustParseMoney("237.50")))

	// WHEN: A partial payment is recorded against the forward event
	rec = env.do(t, http.MethodPost, "/api/payments", map[string]any{
		"voucherId":      id,
		"forwardEventId": "JW-2526-0001-E3",
		"amountPaid":     "100",
		"paymentDate":    "2025-06-12",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeBody[payment.Payment](t, rec)
	assert.Equal(t, generic.UserID("v1"), p.VendorID)
	assert.Equal(t, 95, p.NetQty)

	// THEN: The vendor account shows the remainder as pending
	rec = env.do(t, http.MethodGet, "/api/vendors/v1/account", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acc := decodeBody[payment.Account](t, rec)
	require.Len(t, acc.Needed, 1)
	assert.Equal(t, payment.StatusPartiallyPaid, acc.Needed[0].Status)
	assert.True(t, acc.TotalPending.Equal(generic.MustParseMoney("137.50")), acc.TotalPending.String())

	// WHEN: The admin completes the voucher
	rec = env.do(t, http.MethodPost, "/api/vouchers/"+id+"/complete", map[string]any{
		"admin_id":                "admin",
		"admin_received_quantity": 95,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Completed", decodeBody[map[string]any](t, rec)["voucher_status"])

	// THEN: The detail timeline ends with the completed event
	rec = env.do(t, http.MethodGet, "/api/vouchers/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[map[string]any](t, rec)
	timeline := detail["timeline"].([]any)
	require.Len(t, timeline, 4)
	assert.Equal(t, "completed", timeline[3].(map[string]any)["event_type"])

	// AND: The voucher's payments are listed
	rec = env.do(t, http.MethodGet, "/api/vouchers/"+id+"/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]payment.Payment](t, rec), 1)

	// AND: The vendor's payment history holds the same payment
	rec = env.do(t, http.MethodGet, "/api/vendors/v1/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]payment.Payment](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, p.ID, history[0].ID)

	rec = env.do(t, http.MethodGet, "/api/vendors/v7/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandlers_ListVouchers_FiltersByStatus(t *testing.T) {
	// GIVEN: Two vouchers, one received
	env := newTestEnv(t, RouterOptions{})
	first := env.createVoucher(t)
	env.createVoucher(t)
	rec := env.do(t, http.MethodPost, "/api/vouchers/"+first["id"].(string)+"/receive", map[string]any{
		"user_id": "v1", "quantity_received": 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: Listing all, then only received
	all := decodeBody[[]VoucherListItemDTO](t, env.do(t, http.MethodGet, "/api/vouchers", nil))
	received := decodeBody[[]VoucherListItemDTO](t, env.do(t, http.MethodGet, "/api/vouchers?status=Received", nil))

	// THEN: Newest number first, filter applied on cached status
	require.Len(t, all, 2)
	assert.Equal(t, "JW-2526-0002", all[0].VoucherNo)
	require.Len(t, received, 1)
	assert.Equal(t, "JW-2526-0001", received[0].VoucherNo)
	assert.Equal(t, 100, received[0].Received)

	// AND: An unknown status is rejected
	rec = env.do(t, http.MethodGet, "/api/vouchers?status=Lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_PreviewNextNumber(t *testing.T) {
	// GIVEN: One voucher already issued
	env := newTestEnv(t, RouterOptions{})
	env.createVoucher(t)

	// WHEN: Previewing
	rec := env.do(t, http.MethodGet, "/api/voucher-numbers/next", nil)

	// THEN: The next number is shown but not reserved
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeBody[NextNumberDTO](t, rec)
	assert.Equal(t, "JW-2526-0002", dto.VoucherNo)
	assert.Equal(t, "2025-26", dto.FinancialYear)
	assert.False(t, dto.Reserved)

	// AND: Previewing twice does not advance the counter
	again := decodeBody[NextNumberDTO](t, env.do(t, http.MethodGet, "/api/voucher-numbers/next", nil))
	assert.Equal(t, "JW-2526-0002", again.VoucherNo)
}

func TestHandlers_DeleteVoucher_NumberNotReused(t *testing.T) {
	// GIVEN: Two vouchers
	env := newTestEnv(t, RouterOptions{})
	env.createVoucher(t)
	second := env.createVoucher(t)

	// WHEN: Deleting the newest
	rec := env.do(t, http.MethodDelete, "/api/vouchers/"+second["id"].(string), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// THEN: It is gone
	rec = env.do(t, http.MethodGet, "/api/vouchers/"+second["id"].(string), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// AND: The next allocation skips its number
	third := env.createVoucher(t)
	assert.Equal(t, "JW-2526-0003", third["voucher_no"])
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestHandlers_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, RouterOptions{})
	v := env.createVoucher(t)
	id := v["id"].(string)

	t.Run("unknown voucher is 404", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/vouchers/nope/view", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Not Found", decodeBody[ErrorResponse](t, rec).Error)
	})

	t.Run("unknown parent event is 404", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/vouchers/"+id+"/receive", map[string]any{
			"user_id": "v1", "quantity_received": 10, "parent_event_id": "JW-2526-0001-E9",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("receiving more than was sent is 422", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/vouchers/"+id+"/receive", map[string]any{
			"user_id": "v1", "quantity_received": 101,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("forwarding goods never received is 422", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/vouchers/"+id+"/forward", map[string]any{
			"user_id": "v1", "receiver_id": "v2", "quantity_forwarded": 1,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("completing before any forward is 400", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/vouchers/"+id+"/complete", map[string]any{
			"admin_id": "admin", "admin_received_quantity": 0,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("appending to a completed voucher is 409", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/vouchers/"+id+"/receive", map[string]any{"user_id": "v1", "quantity_received": 100})
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = env.do(t, http.MethodPost, "/api/vouchers/"+id+"/forward", map[string]any{
			"user_id": "v1", "receiver_id": "admin", "quantity_forwarded": 100,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = env.do(t, http.MethodPost, "/api/vouchers/"+id+"/complete", map[string]any{"admin_id": "admin", "admin_received_quantity": 100})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/vouchers/"+id+"/complete", map[string]any{"admin_id": "admin", "admin_received_quantity": 100})
		assert.Equal(t, http.StatusConflict, rec.Code)
		rec = env.do(t, http.MethodPost, "/api/vouchers/"+id+"/receive", map[string]any{"user_id": "admin", "quantity_received": 1})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", generic.ErrNotFound, http.StatusNotFound},
		{"event not found", generic.ErrEventNotFound, http.StatusNotFound},
		{"quantity", &generic.InsufficientQuantityError{Available: 1, Requested: 2}, http.StatusUnprocessableEntity},
		{"conflict", generic.ErrConcurrentModification, http.StatusConflict},
		{"duplicate number", generic.ErrDuplicateVoucherNumber, http.StatusConflict},
		{"invalid event", generic.InvalidEvent("x", "bad"), http.StatusBadRequest},
		{"unknown type", generic.ErrUnknownEventType, http.StatusBadRequest},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestHandlers_Validation(t *testing.T) {
	env := newTestEnv(t, RouterOptions{})

	t.Run("missing required fields name json keys", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/vouchers", map[string]any{
			"created_by_user_id": "admin",
			"initial_quantity":   0,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeBody[ErrorResponse](t, rec)
		fields := make(map[string]string)
		for _, f := range resp.Fields {
			fields[f.Field] = f.Message
		}
		assert.Equal(t, "This field is required", fields["item_name"])
		assert.Equal(t, "This field is required", fields["receiver_id"])
		assert.Contains(t, fields, "initial_quantity")
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/vouchers", `{"item_name":"x","colour":"red"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid JSON", decodeBody[ErrorResponse](t, rec).Error)
	})

	t.Run("damage cannot exceed received", func(t *testing.T) {
		v := env.createVoucher(t)
		rec := env.do(t, http.MethodPost, "/api/vouchers/"+v["id"].(string)+"/receive", map[string]any{
			"user_id": "v1", "quantity_received": 5, "damaged_on_arrival": 6,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeBody[ErrorResponse](t, rec)
		require.Len(t, resp.Fields, 1)
		assert.Equal(t, "damaged_on_arrival", resp.Fields[0].Field)
	})

	t.Run("payment needs a vendor or a forward event", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/payments", map[string]any{
			"voucherId":  "whatever",
			"amountPaid": "10",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeBody[ErrorResponse](t, rec)
		require.Len(t, resp.Fields, 1)
		assert.Equal(t, "vendorId", resp.Fields[0].Field)
	})

	t.Run("money must be decimal", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/payments", map[string]any{
			"voucherId":  "whatever",
			"vendorId":   "v1",
			"amountPaid": "ten",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-positive payment is rejected by the domain", func(t *testing.T) {
		v := env.createVoucher(t)
		rec := env.do(t, http.MethodPost, "/api/payments", map[string]any{
			"voucherId":  v["id"],
			"vendorId":   "v1",
			"amountPaid": "0",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeBody[ErrorResponse](t, rec)
		require.Len(t, resp.Fields, 1)
		assert.Equal(t, "amountPaid", resp.Fields[0].Field)
	})
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHandlers_Healthz(t *testing.T) {
	t.Run("ok without a check", func(t *testing.T) {
		env := newTestEnv(t, RouterOptions{})
		rec := env.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unavailable when storage fails", func(t *testing.T) {
		env := newTestEnv(t, RouterOptions{Health: func(context.Context) error { return errors.New("locked") }})
		rec := env.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "locked", decodeBody[ErrorResponse](t, rec).Details)
	})
}

func TestHandlers_MetricsEndpoint(t *testing.T) {
	// GIVEN: One voucher created through the API
	env := newTestEnv(t, RouterOptions{})
	env.createVoucher(t)

	// WHEN: Scraping
	rec := env.do(t, http.MethodGet, "/metrics", nil)

	// THEN: Domain and HTTP counters are exposed
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, telemetry.MetricVouchersCreated+" 1")
	assert.Contains(t, body, telemetry.MetricHTTPRequests)
	assert.True(t, strings.Contains(body, `route="/api/vouchers/"`) || strings.Contains(body, `route="/api/vouchers"`))
}

func TestHandlers_RateLimit(t *testing.T) {
	// GIVEN: One request per second with no burst headroom
	env := newTestEnv(t, RouterOptions{RateLimit: 1, RateBurst: 1})

	// WHEN: The same client calls twice in a row
	first := env.do(t, http.MethodGet, "/healthz", nil)
	second := env.do(t, http.MethodGet, "/healthz", nil)

	// THEN: The second call is throttled
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestHandlers_CacheAudit(t *testing.T) {
	// GIVEN: A voucher whose stored cache was written by another tool
	env := newTestEnv(t, RouterOptions{})
	v := env.createVoucher(t)
	ctx := context.Background()
	stored, err := env.store.GetVoucher(ctx, generic.VoucherID(v["id"].(string)))
	require.NoError(t, err)
	stored.Status = voucher.StatusForwarded
	stored.Totals.Received = 42
	require.NoError(t, env.store.UpdateVoucher(ctx, stored))

	// WHEN: Running a report-only audit
	rec := env.do(t, http.MethodPost, "/api/admin/cache-audit?repair=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[jobwork.AuditReport](t, rec)

	// THEN: The divergence is reported but not fixed
	assert.Equal(t, 1, report.Diverged)
	assert.Equal(t, 0, report.Repaired)
	require.Len(t, report.Findings, 1)
	assert.Len(t, report.Findings[0].Divergences, 2)

	// WHEN: Running with repair
	report = decodeBody[jobwork.AuditReport](t, env.do(t, http.MethodPost, "/api/admin/cache-audit", nil))

	// THEN: The cache matches the events again
	assert.Equal(t, 1, report.Repaired)
	fixed, err := env.store.GetVoucher(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, voucher.StatusDispatched, fixed.Status)
	assert.Equal(t, 0, fixed.Totals.Received)
}
