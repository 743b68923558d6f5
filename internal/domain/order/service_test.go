package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-api/internal/domain/cart"
	"github.com/xenking/storefront-api/internal/domain/coupon"
	"github.com/xenking/storefront-api/internal/domain/inventory"
	"github.com/xenking/storefront-api/internal/domain/pricing"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// committed is the durable state of the mock store. Transaction writes land
// here only when the checkout body returns nil, which lets tests assert
// rollback atomicity: a failed checkout must leave it untouched.
type committed struct {
	stock       map[string]int
	orders      []*Order
	usages      []CouponUsage
	histories   []StatusHistory
	notes       []Note
	logs        []inventory.LogEntry
	cartCleared bool
	couponUses  int
}

type mockStore struct {
	lines      []cart.Line
	coupon     *coupon.Coupon
	userUsages int
	cfg        pricing.Config
	addresses  map[string]string // addressID -> owning user
	methods    map[string]decimal.Decimal
	existing   map[string]*Order // "user/key" -> prior order

	// commitConflict simulates a concurrent retry winning the unique
	// (user_id, idempotency_key) race at commit time.
	commitConflict bool
	conflictWinner *Order

	state committed
}

func newMockStore() *mockStore {
	return &mockStore{
		cfg: pricing.Config{
			TaxRate:               dec("0.08"),
			FreeShippingThreshold: pricing.DefaultFreeShippingThreshold,
			FlatShippingRate:      pricing.DefaultFlatShippingRate,
		},
		addresses: map[string]string{},
		methods:   map[string]decimal.Decimal{},
		existing:  map[string]*Order{},
		state:     committed{stock: map[string]int{}},
	}
}

func (s *mockStore) GetOrder(_ context.Context, orderID string) (*Order, error) {
	for _, o := range s.state.orders {
		if o.ID == orderID {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

func (s *mockStore) FindByIdempotencyKey(_ context.Context, userID, key string) (*Order, error) {
	if o, ok := s.existing[userID+"/"+key]; ok {
		return o, nil
	}
	return nil, ErrNotFound
}

func (s *mockStore) UserOwnsAddress(_ context.Context, userID, addressID string) (bool, error) {
	return s.addresses[addressID] == userID, nil
}

func (s *mockStore) ShippingMethodPrice(_ context.Context, methodID string) (decimal.Decimal, error) {
	price, ok := s.methods[methodID]
	if !ok {
		return decimal.Zero, ErrInvalidShippingMethod
	}
	return price, nil
}

func (s *mockStore) Checkout(_ context.Context, fn func(tx Tx) error) error {
	tx := &mockTx{store: s, stock: map[string]int{}}
	for k, v := range s.state.stock {
		tx.stock[k] = v
	}
	tx.couponUses = s.state.couponUses
	if err := fn(tx); err != nil {
		return err
	}
	if s.commitConflict {
		if s.conflictWinner != nil {
			s.existing[s.conflictWinner.UserID+"/"+s.conflictWinner.IdempotencyKey] = s.conflictWinner
		}
		return ErrIdempotencyConflict
	}
	// Commit.
	s.state.stock = tx.stock
	s.state.couponUses = tx.couponUses
	if tx.order != nil {
		s.state.orders = append(s.state.orders, tx.order)
	}
	s.state.usages = append(s.state.usages, tx.usages...)
	s.state.histories = append(s.state.histories, tx.histories...)
	s.state.notes = append(s.state.notes, tx.notes...)
	s.state.logs = append(s.state.logs, tx.logs...)
	s.state.cartCleared = tx.cartCleared
	return nil
}

type mockTx struct {
	store *mockStore

	stock       map[string]int
	couponUses  int
	order       *Order
	usages      []CouponUsage
	histories   []StatusHistory
	notes       []Note
	logs        []inventory.LogEntry
	cartCleared bool
}

func (t *mockTx) GetOrder(_ context.Context, orderID string) (*Order, error) {
	if t.order != nil && t.order.ID == orderID {
		o := *t.order
		o.History = t.histories
		o.Notes = t.notes
		return &o, nil
	}
	return nil, ErrNotFound
}

func (t *mockTx) FindByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error) {
	return t.store.FindByIdempotencyKey(ctx, userID, key)
}

func (t *mockTx) CartLines(_ context.Context, _ string) ([]cart.Line, error) {
	return t.store.lines, nil
}

func (t *mockTx) CouponByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	// Returns the coupon as read at lookup time; RedeemCoupon consults the
	// authoritative counter, which is how a stale eligibility view loses
	// the race at the conditional increment.
	c := t.store.coupon
	if c == nil || !equalFold(c.Code, code) {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (t *mockTx) CountCouponUsages(_ context.Context, _, _ string) (int, error) {
	return t.store.userUsages, nil
}

func (t *mockTx) RedeemCoupon(_ context.Context, _ string) (bool, error) {
	c := t.store.coupon
	if c.MaxUses > 0 && t.couponUses >= c.MaxUses {
		return false, nil
	}
	t.couponUses++
	return true, nil
}

func (t *mockTx) PricingConfig(_ context.Context) (pricing.Config, error) {
	return t.store.cfg, nil
}

func (t *mockTx) DecrementStock(_ context.Context, productID, variantID string, qty int) (int, bool, error) {
	key := productID
	if variantID != "" {
		key = variantID
	}
	current := t.stock[key]
	if current < qty {
		return 0, false, nil
	}
	t.stock[key] = current - qty
	return current - qty, true, nil
}

func (t *mockTx) InsertOrder(_ context.Context, o *Order) error {
	t.order = o
	return nil
}

func (t *mockTx) InsertCouponUsage(_ context.Context, u CouponUsage) error {
	t.usages = append(t.usages, u)
	return nil
}

func (t *mockTx) InsertStatusHistory(_ context.Context, _ string, h StatusHistory) error {
	t.histories = append(t.histories, h)
	return nil
}

func (t *mockTx) InsertNote(_ context.Context, _ string, n Note) error {
	t.notes = append(t.notes, n)
	return nil
}

func (t *mockTx) InsertInventoryLog(_ context.Context, e inventory.LogEntry) error {
	t.logs = append(t.logs, e)
	return nil
}

func (t *mockTx) ClearCart(_ context.Context, _ string) error {
	t.cartCleared = true
	return nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range len(a) {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func newTestService(store *mockStore) *Service {
	svc := NewService(store)
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func twoLineCart() []cart.Line {
	return []cart.Line{
		{ID: "l1", ProductID: "p1", ProductName: "Waffle", Quantity: 2, UnitPrice: dec("6.50")},
		{ID: "l2", ProductID: "p2", ProductName: "Creme Brulee", Quantity: 1, UnitPrice: dec("7.00")},
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	store := newMockStore()
	store.lines = twoLineCart()
	store.state.stock = map[string]int{"p1": 10, "p2": 5}

	svc := newTestService(store)
	res, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:   "u1",
		Notes:    "leave at the door",
		ClientIP: "203.0.113.7",
	})
	require.NoError(t, err)
	require.False(t, res.Replayed)

	o := res.Order
	// subtotal 20, no discount, tax 1.60, flat shipping 9.99 (below threshold of 50).
	assert.True(t, dec("20").Equal(o.Subtotal), "subtotal %s", o.Subtotal)
	assert.True(t, dec("1.60").Equal(o.Tax), "tax %s", o.Tax)
	assert.True(t, dec("9.99").Equal(o.Shipping), "shipping %s", o.Shipping)
	assert.True(t, dec("31.59").Equal(o.Total), "total %s", o.Total)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, PriorityNormal, o.Priority)
	assert.Equal(t, SourceWebsite, o.Source)
	require.Len(t, o.Items, 2)
	assert.True(t, dec("6.50").Equal(o.Items[0].UnitPrice))

	// Durable effects committed exactly once.
	assert.Equal(t, 8, store.state.stock["p1"])
	assert.Equal(t, 4, store.state.stock["p2"])
	assert.True(t, store.state.cartCleared)
	require.Len(t, store.state.logs, 2)
	assert.Equal(t, -2, store.state.logs[0].Change)
	assert.Equal(t, 8, store.state.logs[0].NewStock)
	assert.Equal(t, inventory.ReasonSale, store.state.logs[0].Reason)
	require.Len(t, store.state.histories, 1)
	assert.Equal(t, StatusPending, store.state.histories[0].To)
	assert.Contains(t, string(store.state.histories[0].Metadata), "203.0.113.7")
	require.Len(t, store.state.notes, 1)
	assert.False(t, store.state.notes[0].Internal)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1"})
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, store.state.orders)
	assert.False(t, store.state.cartCleared)
}

func TestPlaceOrder_IdempotentReplay(t *testing.T) {
	store := newMockStore()
	prior := &Order{ID: "existing", UserID: "u1", IdempotencyKey: "k1"}
	store.existing["u1/k1"] = prior
	store.lines = twoLineCart()
	store.state.stock = map[string]int{"p1": 10, "p2": 5}

	svc := newTestService(store)
	res, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "existing", res.Order.ID)
	// Stock decremented zero times on replay.
	assert.Equal(t, 10, store.state.stock["p1"])
}

func TestPlaceOrder_IdempotencyConflictAtCommit(t *testing.T) {
	store := newMockStore()
	store.lines = twoLineCart()
	store.state.stock = map[string]int{"p1": 10, "p2": 5}
	winner := &Order{ID: "winner", UserID: "u1", IdempotencyKey: "k1"}
	store.commitConflict = true
	store.conflictWinner = winner

	svc := newTestService(store)
	res, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "winner", res.Order.ID)
	// The conflicting transaction rolled back: no local commit happened.
	assert.Equal(t, 10, store.state.stock["p1"])
}

func TestPlaceOrder_InsufficientStockRollsBackEverything(t *testing.T) {
	store := newMockStore()
	store.lines = []cart.Line{
		{ID: "l1", ProductID: "p1", ProductName: "Waffle", Quantity: 2, UnitPrice: dec("6.50")},
		{ID: "l2", ProductID: "p2", ProductName: "Creme Brulee", Quantity: 1, UnitPrice: dec("7.00")},
		{ID: "l3", ProductID: "p3", ProductName: "Macaron", Quantity: 3, UnitPrice: dec("2.00")},
	}
	store.state.stock = map[string]int{"p1": 10, "p2": 5, "p3": 2} // p3 short

	svc := newTestService(store)
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1"})

	var serr *StockError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Macaron", serr.ProductName)
	assert.Contains(t, err.Error(), "insufficient stock for Macaron")

	// Earlier decrements did not survive and nothing was written.
	assert.Equal(t, 10, store.state.stock["p1"])
	assert.Equal(t, 5, store.state.stock["p2"])
	assert.Empty(t, store.state.orders)
	assert.Empty(t, store.state.logs)
	assert.False(t, store.state.cartCleared)
}

func TestPlaceOrder_CouponApplied(t *testing.T) {
	store := newMockStore()
	store.lines = []cart.Line{
		{ID: "l1", ProductID: "p1", ProductName: "Waffle", Quantity: 10, UnitPrice: dec("10.00")},
	}
	store.state.stock = map[string]int{"p1": 20}
	store.coupon = &coupon.Coupon{
		ID:           "c1",
		Code:         "SAVE20",
		DiscountType: coupon.DiscountPercentage,
		Value:        dec("20"),
		Active:       true,
	}

	svc := newTestService(store)
	res, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:     "u1",
		CouponCode: "save20", // lookup is case-insensitive
	})
	require.NoError(t, err)

	o := res.Order
	// subtotal 100, discount 20, tax on 80 = 6.40, free shipping (>= 50).
	assert.True(t, dec("20").Equal(o.Discount), "discount %s", o.Discount)
	assert.True(t, dec("6.40").Equal(o.Tax), "tax %s", o.Tax)
	assert.True(t, decimal.Zero.Equal(o.Shipping), "shipping %s", o.Shipping)
	assert.True(t, dec("86.40").Equal(o.Total), "total %s", o.Total)
	assert.Equal(t, "SAVE20", o.CouponCode)

	assert.Equal(t, 1, store.state.couponUses)
	require.Len(t, store.state.usages, 1)
	assert.True(t, dec("20").Equal(store.state.usages[0].Discount))
	assert.Contains(t, string(store.state.histories[0].Metadata), "SAVE20")
}

func TestPlaceOrder_UnknownCoupon(t *testing.T) {
	store := newMockStore()
	store.lines = twoLineCart()
	store.state.stock = map[string]int{"p1": 10, "p2": 5}

	svc := newTestService(store)
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1", CouponCode: "NOPE"})

	var cerr *coupon.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, coupon.ReasonInvalid, cerr.Reason)
	assert.Empty(t, store.state.orders)
}

func TestPlaceOrder_CouponCapRaceLostAtRedeem(t *testing.T) {
	store := newMockStore()
	store.lines = []cart.Line{
		{ID: "l1", ProductID: "p1", ProductName: "Waffle", Quantity: 1, UnitPrice: dec("60.00")},
	}
	store.state.stock = map[string]int{"p1": 5}
	store.coupon = &coupon.Coupon{
		ID:           "c1",
		Code:         "LAST1",
		DiscountType: coupon.DiscountFixed,
		Value:        dec("5"),
		MaxUses:      1,
		Active:       true,
	}
	store.state.couponUses = 1 // cap already consumed

	svc := newTestService(store)
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1", CouponCode: "LAST1"})

	var cerr *coupon.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, coupon.ReasonExhausted, cerr.Reason)
	// Whole transaction rolled back, including the stock decrement.
	assert.Equal(t, 5, store.state.stock["p1"])
	assert.Empty(t, store.state.orders)
}

func TestPlaceOrder_PerUserCapMessage(t *testing.T) {
	store := newMockStore()
	store.lines = twoLineCart()
	store.state.stock = map[string]int{"p1": 10, "p2": 5}
	store.coupon = &coupon.Coupon{
		ID:             "c1",
		Code:           "ONCE",
		DiscountType:   coupon.DiscountFixed,
		Value:          dec("5"),
		MaxUsesPerUser: 1,
		Active:         true,
	}
	store.userUsages = 1

	svc := newTestService(store)
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1", CouponCode: "ONCE"})

	var cerr *coupon.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, coupon.ReasonUserLimit, cerr.Reason)
	assert.Contains(t, cerr.Message, "1 time(s)")
}

func TestPlaceOrder_InvalidAddress(t *testing.T) {
	store := newMockStore()
	store.addresses["a1"] = "someone-else"

	svc := newTestService(store)
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1", ShippingAddressID: "a1"})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestPlaceOrder_InvalidShippingMethod(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1", ShippingMethodID: "m1"})
	require.ErrorIs(t, err, ErrInvalidShippingMethod)
}

func TestPlaceOrder_ExplicitShippingMethodPrice(t *testing.T) {
	store := newMockStore()
	store.lines = []cart.Line{
		{ID: "l1", ProductID: "p1", ProductName: "Waffle", Quantity: 1, UnitPrice: dec("100.00")},
	}
	store.state.stock = map[string]int{"p1": 5}
	store.methods["express"] = dec("14.99")

	svc := newTestService(store)
	res, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1", ShippingMethodID: "express"})
	require.NoError(t, err)
	// Explicit method price wins over the free-above-threshold default.
	assert.True(t, dec("14.99").Equal(res.Order.Shipping), "shipping %s", res.Order.Shipping)
}

func TestPlaceOrder_StoreFailurePropagates(t *testing.T) {
	store := newMockStore()
	store.lines = twoLineCart()
	store.state.stock = map[string]int{"p1": 10, "p2": 5}
	store.cfg.TaxRate = dec("-1") // malformed configuration

	svc := newTestService(store)
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: "u1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEmptyCart))
	assert.Empty(t, store.state.orders)
}
