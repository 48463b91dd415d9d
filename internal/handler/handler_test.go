package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

// --- Mock implementations ---

type mockEvaluator struct {
	result   *coupon.Eligibility
	err      error
	gotCode  string
	gotUser  string
	gotLines int
}

func (m *mockEvaluator) Evaluate(_ context.Context, code string, c cart.Cart, userID string) (*coupon.Eligibility, error) {
	m.gotCode = code
	m.gotUser = userID
	m.gotLines = len(c.Lines)
	return m.result, m.err
}

type mockReserver struct {
	res redemption.Reservation
	err error
	got redemption.ReserveInput
}

func (m *mockReserver) Reserve(_ context.Context, in redemption.ReserveInput) (redemption.Reservation, error) {
	m.got = in
	return m.res, m.err
}

type mockLedger struct {
	redeemErr  error
	releaseErr error
	redeemed   []redemption.Order
	released   []string
}

func (m *mockLedger) Redeem(_ context.Context, ord redemption.Order) error {
	m.redeemed = append(m.redeemed, ord)
	return m.redeemErr
}

func (m *mockLedger) Release(_ context.Context, orderID, _ string) error {
	m.released = append(m.released, orderID)
	return m.releaseErr
}

type mockCodeGen struct {
	codes []string
	err   error
	n     int
}

func (m *mockCodeGen) GenerateUnique(_ context.Context, _, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	code := m.codes[m.n%len(m.codes)]
	m.n++
	return code, nil
}

type mockCouponStore struct {
	byCode  map[string]*coupon.Coupon
	created []coupon.Coupon
	err     error
}

func (m *mockCouponStore) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	if cpn, ok := m.byCode[code]; ok {
		return cpn, nil
	}
	return nil, coupon.ErrNotFound
}

func (m *mockCouponStore) Create(_ context.Context, cpn coupon.Coupon) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, cpn)
	return nil
}

type mockOrderReader struct {
	orders map[string]redemption.Order
}

func (m *mockOrderReader) GetOrder(_ context.Context, orderID string) (redemption.Order, error) {
	if ord, ok := m.orders[orderID]; ok {
		return ord, nil
	}
	return redemption.Order{}, redemption.ErrOrderNotFound
}

type mockAPIKeyRepo struct {
	byHash map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if info, ok := m.byHash[hash]; ok {
		return info, nil
	}
	return nil, errors.New("api key not found")
}

// --- Helpers ---

const testAPIKey = "test-key"

var testPepper = []byte("pepper")

type fixture struct {
	evaluator *mockEvaluator
	reserver  *mockReserver
	ledger    *mockLedger
	codes     *mockCodeGen
	coupons   *mockCouponStore
	orders    *mockOrderReader
	mux       *http.ServeMux
}

func newFixture() *fixture {
	hash := auth.HashKey(testPepper, testAPIKey)
	f := &fixture{
		evaluator: &mockEvaluator{},
		reserver:  &mockReserver{},
		ledger:    &mockLedger{},
		codes:     &mockCodeGen{codes: []string{"PROMO-AAAA1111"}},
		coupons:   &mockCouponStore{byCode: map[string]*coupon.Coupon{}},
		orders:    &mockOrderReader{orders: map[string]redemption.Order{}},
	}
	verifier := auth.NewVerifier(&mockAPIKeyRepo{byHash: map[string]*auth.APIKeyInfo{
		hash: {ID: "key-1", KeyHash: hash, Name: "test"},
	}}, testPepper)

	h := NewHandler(f.evaluator, f.reserver, f.ledger, f.codes, f.coupons, f.orders, verifier)
	f.mux = h.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set(apiKeyHeader, testAPIKey)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --- Tests ---

func TestEvaluateEndpoint(t *testing.T) {
	t.Run("eligible coupon", func(t *testing.T) {
		f := newFixture()
		remaining := 5
		f.evaluator.result = &coupon.Eligibility{
			Eligible:                  true,
			EstimatedDiscount:         decimal.RequireFromString("8.00"),
			EstimatedShippingDiscount: decimal.Zero,
			GlobalRemaining:           &remaining,
		}

		rec := f.do(t, http.MethodPost, "/api/promo/evaluate", `{
			"code": "SUMMER10",
			"user_id": "u1",
			"cart": {"lines": [
				{"product_id": "p1", "quantity": 2, "unit_price": "25.00"},
				{"product_id": "p2", "quantity": 1, "unit_price": "30.00"}
			]}
		}`, false)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["eligible"])
		assert.Equal(t, "8.00", body["estimated_discount"])
		assert.Equal(t, float64(5), body["global_remaining"])
		assert.Equal(t, "SUMMER10", f.evaluator.gotCode)
		assert.Equal(t, "u1", f.evaluator.gotUser)
		assert.Equal(t, 2, f.evaluator.gotLines)
	})

	t.Run("ineligible coupon lists reasons", func(t *testing.T) {
		f := newFixture()
		f.evaluator.result = &coupon.Eligibility{
			Reasons:                   []string{"coupon_expired", "sold_out"},
			EstimatedDiscount:         decimal.Zero,
			EstimatedShippingDiscount: decimal.Zero,
		}

		rec := f.do(t, http.MethodPost, "/api/promo/evaluate", `{"code":"OLD","cart":{"lines":[]}}`, false)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["eligible"])
		assert.Equal(t, []any{"coupon_expired", "sold_out"}, body["reasons"])
	})

	t.Run("unknown code is 404", func(t *testing.T) {
		f := newFixture()
		f.evaluator.err = coupon.ErrNotFound

		rec := f.do(t, http.MethodPost, "/api/promo/evaluate", `{"code":"NOPE","cart":{"lines":[]}}`, false)

		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeBody(t, rec)["code"])
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		f := newFixture()
		rec := f.do(t, http.MethodPost, "/api/promo/evaluate", `{"code": `, false)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing code is 400", func(t *testing.T) {
		f := newFixture()
		rec := f.do(t, http.MethodPost, "/api/promo/evaluate", `{"cart":{"lines":[]}}`, false)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReserveEndpoint(t *testing.T) {
	reserveBody := `{
		"coupon_id": "c1",
		"user_id": "u1",
		"order_id": "o1",
		"discount": "8.00",
		"shipping_discount": "0.00"
	}`

	t.Run("requires api key", func(t *testing.T) {
		f := newFixture()
		rec := f.do(t, http.MethodPost, "/api/promo/reserve", reserveBody, false)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("creates hold", func(t *testing.T) {
		f := newFixture()
		f.reserver.res = redemption.Reservation{
			ID:       "res-1",
			CouponID: "c1",
			OrderID:  "o1",
			Discount: decimal.RequireFromString("8.00"),
		}

		rec := f.do(t, http.MethodPost, "/api/promo/reserve", reserveBody, true)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "res-1", body["reservation_id"])
		assert.True(t, decimal.RequireFromString("8.00").Equal(f.reserver.got.Discount))
	})

	t.Run("capacity conflict is 409 sold_out", func(t *testing.T) {
		f := newFixture()
		f.reserver.err = redemption.ErrUsageLimitReached

		rec := f.do(t, http.MethodPost, "/api/promo/reserve", reserveBody, true)

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "sold_out", decodeBody(t, rec)["code"])
	})

	t.Run("missing user is 400", func(t *testing.T) {
		f := newFixture()
		f.reserver.err = redemption.ErrUserRequired

		rec := f.do(t, http.MethodPost, "/api/promo/reserve", `{"coupon_id":"c1","order_id":"o1"}`, true)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRedeemEndpoint(t *testing.T) {
	t.Run("redeems known order", func(t *testing.T) {
		f := newFixture()
		f.orders.orders["o1"] = redemption.Order{ID: "o1", UserID: "u1", CouponCode: "SUMMER10"}

		rec := f.do(t, http.MethodPost, "/api/promo/redeem", `{"order_id":"o1"}`, true)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, f.ledger.redeemed, 1)
		assert.Equal(t, "SUMMER10", f.ledger.redeemed[0].CouponCode)
	})

	t.Run("unknown order is 404", func(t *testing.T) {
		f := newFixture()
		rec := f.do(t, http.MethodPost, "/api/promo/redeem", `{"order_id":"missing"}`, true)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestReleaseEndpoint(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/promo/release", `{"order_id":"o1","reason":"order cancelled"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"o1"}, f.ledger.released)
}

func TestIssueCodesEndpoint(t *testing.T) {
	t.Run("creates batch", func(t *testing.T) {
		f := newFixture()
		f.codes.codes = []string{"SUMMER-AAAA", "SUMMER-BBBB", "SUMMER-CCCC"}

		rec := f.do(t, http.MethodPost, "/api/promo/codes", `{
			"promotion_id": "promo-1",
			"prefix": "SUMMER",
			"count": 3,
			"max_redemptions": 100
		}`, true)

		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Len(t, body["codes"], 3)
		require.Len(t, f.coupons.created, 3)
		assert.Equal(t, "promo-1", f.coupons.created[0].PromotionID)
		assert.Equal(t, 100, f.coupons.created[0].MaxRedemptions)
		assert.Equal(t, coupon.VisibilityPublic, f.coupons.created[0].Visibility)
	})

	t.Run("exhausted code space is 500", func(t *testing.T) {
		f := newFixture()
		f.codes.err = coupon.ErrCodeSpaceExhausted

		rec := f.do(t, http.MethodPost, "/api/promo/codes", `{"promotion_id":"promo-1"}`, true)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "code_space_exhausted", decodeBody(t, rec)["code"])
	})

	t.Run("missing promotion is 400", func(t *testing.T) {
		f := newFixture()
		rec := f.do(t, http.MethodPost, "/api/promo/codes", `{"count":1}`, true)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetCouponEndpoint(t *testing.T) {
	f := newFixture()
	f.coupons.byCode["SUMMER10"] = &coupon.Coupon{
		ID:          "c1",
		PromotionID: "promo-1",
		Code:        "SUMMER10",
		Visibility:  coupon.VisibilityPublic,
		Active:      true,
	}

	t.Run("known code", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/promo/coupons/summer10", "", false)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "SUMMER10", body["code"])
		assert.Equal(t, "public", body["visibility"])
	})

	t.Run("unknown code", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/promo/coupons/missing", "", false)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}
