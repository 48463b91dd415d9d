package redemption

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/clock"
	"github.com/xenking/promo-engine/internal/domain/coupon"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeTxState struct {
	locked bool
}

type fakeTxKey struct{}

// fakeRepo is an in-memory Repository. GetCouponForUpdate takes a mutex that
// WithTx releases on completion, mirroring how a row lock held until commit
// serializes concurrent transactions on the same coupon.
type fakeRepo struct {
	mu          sync.Mutex
	rowLock     sync.Mutex
	coupons     map[string]coupon.Coupon
	assignments map[string]map[string]bool // couponID -> userID
	reserves    map[string]Reservation     // orderID
	redemptions map[string]Redemption      // orderID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		coupons:     map[string]coupon.Coupon{},
		assignments: map[string]map[string]bool{},
		reserves:    map[string]Reservation{},
		redemptions: map[string]Redemption{},
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	st := &fakeTxState{}
	err := fn(context.WithValue(ctx, fakeTxKey{}, st))
	if st.locked {
		f.rowLock.Unlock()
	}
	return err
}

func (f *fakeRepo) GetCouponForUpdate(ctx context.Context, couponID string) (*coupon.Coupon, error) {
	f.rowLock.Lock()
	if st, ok := ctx.Value(fakeTxKey{}).(*fakeTxState); ok {
		st.locked = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	cpn, ok := f.coupons[couponID]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &cpn, nil
}

func (f *fakeRepo) FindCouponByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cpn := range f.coupons {
		if cpn.Code == code {
			c := cpn
			return &c, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (f *fakeRepo) HasActiveAssignment(_ context.Context, couponID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignments[couponID][userID], nil
}

func (f *fakeRepo) FindReservationByOrder(_ context.Context, orderID string) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.reserves[orderID]; ok {
		r := res
		return &r, nil
	}
	return nil, nil
}

func (f *fakeRepo) CreateReservation(_ context.Context, res Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reserves[res.OrderID]; ok {
		return ErrDuplicateOrder
	}
	f.reserves[res.OrderID] = res
	return nil
}

func (f *fakeRepo) DeleteReservation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for orderID, res := range f.reserves {
		if res.ID == id {
			delete(f.reserves, orderID)
			return nil
		}
	}
	return nil
}

func (f *fakeRepo) PurgeExpiredReservations(_ context.Context, couponID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var purged int64
	for orderID, res := range f.reserves {
		if res.CouponID == couponID && res.Expired(now) {
			delete(f.reserves, orderID)
			purged++
		}
	}
	return purged, nil
}

func (f *fakeRepo) CountUsage(_ context.Context, couponID, userID string, now time.Time) (coupon.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var u coupon.Usage
	for _, res := range f.reserves {
		if res.CouponID != couponID || res.Expired(now) {
			continue
		}
		u.Reserved++
		if res.UserID == userID {
			u.CustomerReserved++
		}
	}
	for _, red := range f.redemptions {
		if red.CouponID != couponID || red.Voided() {
			continue
		}
		u.Redeemed++
		if red.UserID == userID {
			u.CustomerRedeemed++
		}
	}
	return u, nil
}

func (f *fakeRepo) FindRedemptionByOrder(_ context.Context, orderID string) (*Redemption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if red, ok := f.redemptions[orderID]; ok {
		r := red
		return &r, nil
	}
	return nil, nil
}

func (f *fakeRepo) CreateRedemption(_ context.Context, red Redemption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.redemptions[red.OrderID]; ok {
		return ErrDuplicateOrder
	}
	f.redemptions[red.OrderID] = red
	return nil
}

func (f *fakeRepo) VoidRedemption(_ context.Context, orderID, reason string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	red, ok := f.redemptions[orderID]
	if !ok || red.Voided() {
		return false, nil
	}
	at := now
	red.VoidedAt = &at
	red.VoidReason = reason
	f.redemptions[orderID] = red
	return true, nil
}

type recordedEvent struct {
	OrderID string
	Action  string
	Note    string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Record(_ context.Context, orderID, action, note string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{OrderID: orderID, Action: action, Note: note})
}

func (f *fakeEvents) byAction(action string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, ev := range f.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

func activeCoupon(id string, maxRedemptions, perCustomer int) coupon.Coupon {
	return coupon.Coupon{
		ID:             id,
		PromotionID:    "promo-1",
		Code:           "SAVE10",
		Visibility:     coupon.VisibilityPublic,
		Active:         true,
		MaxRedemptions: maxRedemptions,
		PerCustomerMax: perCustomer,
	}
}

func TestManagerReserve(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(fixedNow)
	ttl := 24 * time.Hour

	input := func() ReserveInput {
		return ReserveInput{
			CouponID:         "cpn-1",
			UserID:           "user-1",
			OrderID:          "order-1",
			Discount:         decimal.RequireFromString("5.00"),
			ShippingDiscount: decimal.Zero,
		}
	}

	t.Run("creates reservation with ttl expiry", func(t *testing.T) {
		repo := newFakeRepo()
		repo.coupons["cpn-1"] = activeCoupon("cpn-1", 0, 0)
		events := &fakeEvents{}
		m := NewManager(repo, events, clk, ttl)

		res, err := m.Reserve(ctx, input())
		require.NoError(t, err)

		assert.NotEmpty(t, res.ID)
		assert.Equal(t, "cpn-1", res.CouponID)
		assert.Equal(t, fixedNow.Add(ttl), res.ExpiresAt)
		assert.True(t, decimal.RequireFromString("5.00").Equal(res.Discount))
		assert.Len(t, events.byAction(ActionReserved), 1)
	})

	t.Run("repeat call returns existing reservation", func(t *testing.T) {
		repo := newFakeRepo()
		repo.coupons["cpn-1"] = activeCoupon("cpn-1", 1, 0)
		events := &fakeEvents{}
		m := NewManager(repo, events, clk, ttl)

		first, err := m.Reserve(ctx, input())
		require.NoError(t, err)
		second, err := m.Reserve(ctx, input())
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, repo.reserves, 1)
		assert.Len(t, events.byAction(ActionReserved), 1, "idempotent retry must not log again")
	})

	t.Run("order holding a different coupon conflicts", func(t *testing.T) {
		repo := newFakeRepo()
		repo.coupons["cpn-1"] = activeCoupon("cpn-1", 0, 0)
		repo.coupons["cpn-2"] = activeCoupon("cpn-2", 0, 0)
		m := NewManager(repo, &fakeEvents{}, clk, ttl)

		_, err := m.Reserve(ctx, input())
		require.NoError(t, err)

		in := input()
		in.CouponID = "cpn-2"
		_, err = m.Reserve(ctx, in)
		require.ErrorIs(t, err, ErrCouponMismatch)
	})

	t.Run("inactive coupon rejected", func(t *testing.T) {
		repo := newFakeRepo()
		cpn := activeCoupon("cpn-1", 0, 0)
		cpn.Active = false
		repo.coupons["cpn-1"] = cpn
		m := NewManager(repo, &fakeEvents{}, clk, ttl)

		_, err := m.Reserve(ctx, input())
		require.ErrorIs(t, err, ErrCouponInactive)
	})

	t.Run("assigned coupon requires active assignment", func(t *testing.T) {
		repo := newFakeRepo()
		cpn := activeCoupon("cpn-1", 0, 0)
		cpn.Visibility = coupon.VisibilityAssigned
		repo.coupons["cpn-1"] = cpn
		m := NewManager(repo, &fakeEvents{}, clk, ttl)

		_, err := m.Reserve(ctx, input())
		require.ErrorIs(t, err, ErrNotAssigned)

		repo.assignments["cpn-1"] = map[string]bool{"user-1": true}
		_, err = m.Reserve(ctx, input())
		require.NoError(t, err)
	})

	t.Run("global cap enforced against redemptions and holds", func(t *testing.T) {
		repo := newFakeRepo()
		repo.coupons["cpn-1"] = activeCoupon("cpn-1", 2, 0)
		repo.redemptions["other-1"] = Redemption{ID: "red-1", CouponID: "cpn-1", UserID: "user-9", OrderID: "other-1", RedeemedAt: fixedNow}
		repo.reserves["other-2"] = Reservation{ID: "res-1", CouponID: "cpn-1", UserID: "user-8", OrderID: "other-2", ExpiresAt: fixedNow.Add(time.Hour)}
		m := NewManager(repo, &fakeEvents{}, clk, ttl)

		_, err := m.Reserve(ctx, input())
		require.ErrorIs(t, err, ErrUsageLimitReached)
	})

	t.Run("voided redemptions do not consume capacity", func(t *testing.T) {
		repo := newFakeRepo()
		repo.coupons["cpn-1"] = activeCoupon("cpn-1", 1, 0)
		voidedAt := fixedNow.Add(-time.Hour)
		repo.redemptions["other-1"] = Redemption{ID: "red-1", CouponID: "cpn-1", UserID: "user-9", OrderID: "other-1", RedeemedAt: fixedNow.Add(-2 * time.Hour), VoidedAt: &voidedAt}
		m := NewManager(repo, &fakeEvents{}, clk, ttl)

		_, err := m.Reserve(ctx, input())
		require.NoError(t, err)
	})

	t.Run("per customer cap enforced", func(t *testing.T) {
		repo := newFakeRepo()
		repo.coupons["cpn-1"] = activeCoupon("cpn-1", 0, 1)
		repo.redemptions["other-1"] = Redemption{ID: "red-1", CouponID: "cpn-1", UserID: "user-1", OrderID: "other-1", RedeemedAt: fixedNow}
		m := NewManager(repo, &fakeEvents{}, clk, ttl)

		_, err := m.Reserve(ctx, input())
		require.ErrorIs(t, err, ErrCustomerLimitReached)
	})

	t.Run("expired holds are purged before counting", func(t *testing.T) {
		repo := newFakeRepo()
		repo.coupons["cpn-1"] = activeCoupon("cpn-1", 1, 0)
		repo.reserves["stale"] = Reservation{ID: "res-old", CouponID: "cpn-1", UserID: "user-9", OrderID: "stale", ExpiresAt: fixedNow.Add(-time.Minute)}
		m := NewManager(repo, &fakeEvents{}, clk, ttl)

		_, err := m.Reserve(ctx, input())
		require.NoError(t, err)
		assert.NotContains(t, repo.reserves, "stale")
	})

	t.Run("input validation", func(t *testing.T) {
		m := NewManager(newFakeRepo(), &fakeEvents{}, clk, ttl)

		in := input()
		in.UserID = ""
		_, err := m.Reserve(ctx, in)
		require.ErrorIs(t, err, ErrUserRequired)

		in = input()
		in.OrderID = ""
		_, err = m.Reserve(ctx, in)
		require.ErrorIs(t, err, ErrOrderRequired)

		in = input()
		in.CouponID = ""
		_, err = m.Reserve(ctx, in)
		require.ErrorIs(t, err, ErrCouponRequired)
	})
}

func TestManagerReserveConcurrent(t *testing.T) {
	const (
		capacity = 3
		callers  = 10
	)

	repo := newFakeRepo()
	repo.coupons["cpn-1"] = activeCoupon("cpn-1", capacity, 0)
	m := NewManager(repo, &fakeEvents{}, clock.NewFixed(fixedNow), time.Hour)

	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Reserve(context.Background(), ReserveInput{
				CouponID: "cpn-1",
				UserID:   "user-1",
				OrderID:  "order-" + string(rune('a'+i)),
				Discount: decimal.RequireFromString("5.00"),
			})
		}()
	}
	wg.Wait()

	var ok, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, ErrUsageLimitReached)
			limited++
		}
	}

	assert.Equal(t, capacity, ok, "exactly the capped number of holds must succeed")
	assert.Equal(t, callers-capacity, limited)
	assert.Len(t, repo.reserves, capacity)
}
