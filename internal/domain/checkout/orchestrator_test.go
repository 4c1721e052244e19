package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartflow/checkout/internal/domain/cart"
	"github.com/cartflow/checkout/internal/domain/coupon"
	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/domain/payment"
	"github.com/cartflow/checkout/internal/domain/product"
)

// memSessionStore is an in-memory SessionStore with a real submit lock.
type memSessionStore struct {
	sessions map[string]*Session
	locks    map[string]bool
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]bool),
	}
}

func (m *memSessionStore) Get(_ context.Context, shopperID string) (*Session, error) {
	if s, ok := m.sessions[shopperID]; ok {
		cp := *s
		return &cp, nil
	}
	return &Session{ShopperID: shopperID, Step: StepShipping}, nil
}

func (m *memSessionStore) Put(_ context.Context, s *Session) error {
	cp := *s
	m.sessions[s.ShopperID] = &cp
	return nil
}

func (m *memSessionStore) Delete(_ context.Context, shopperID string) error {
	delete(m.sessions, shopperID)
	return nil
}

func (m *memSessionStore) TrySubmitLock(_ context.Context, shopperID string) (bool, error) {
	if m.locks[shopperID] {
		return false, nil
	}
	m.locks[shopperID] = true
	return true, nil
}

func (m *memSessionStore) ReleaseSubmitLock(_ context.Context, shopperID string) error {
	delete(m.locks, shopperID)
	return nil
}

func (m *memSessionStore) InvalidateCoupon(_ context.Context, shopperID string) error {
	if s, ok := m.sessions[shopperID]; ok {
		s.Applied = nil
	}
	return nil
}

// memPendingStore is an in-memory pendingorder.Store.
type memPendingStore struct {
	slots map[string]string
}

func newMemPendingStore() *memPendingStore {
	return &memPendingStore{slots: make(map[string]string)}
}

func (m *memPendingStore) Put(_ context.Context, shopperID, orderID string) error {
	m.slots[shopperID] = orderID
	return nil
}

func (m *memPendingStore) Get(_ context.Context, shopperID string) (string, bool, error) {
	id, ok := m.slots[shopperID]
	return id, ok, nil
}

func (m *memPendingStore) Release(_ context.Context, shopperID string) error {
	delete(m.slots, shopperID)
	return nil
}

// memCartRepo is a single-shopper in-memory cart repository.
type memCartRepo struct {
	cart     cart.Cart
	clearErr error
}

func (m *memCartRepo) GetOrCreate(_ context.Context, shopperID string) (*cart.Cart, error) {
	if m.cart.ID == "" {
		m.cart = cart.Cart{ID: "cart-1", ShopperID: shopperID}
	}
	c := m.cart
	c.Items = append([]cart.Item(nil), m.cart.Items...)
	return &c, nil
}

func (m *memCartRepo) UpsertItem(_ context.Context, _ string, item cart.Item) error {
	for i, it := range m.cart.Items {
		if it.ProductID == item.ProductID {
			m.cart.Items[i] = item
			return nil
		}
	}
	m.cart.Items = append(m.cart.Items, item)
	return nil
}

func (m *memCartRepo) SetQuantity(_ context.Context, _ string, productID string, quantity int) error {
	for i, it := range m.cart.Items {
		if it.ProductID == productID {
			m.cart.Items[i].Quantity = quantity
			return nil
		}
	}
	return cart.ErrItemNotFound
}

func (m *memCartRepo) RemoveItem(_ context.Context, _ string, productID string) error {
	for i, it := range m.cart.Items {
		if it.ProductID == productID {
			m.cart.Items = append(m.cart.Items[:i], m.cart.Items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memCartRepo) Clear(_ context.Context, _ string) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	m.cart.Items = nil
	return nil
}

// stubProducts serves a single catalog entry; the orchestrator itself never
// reads the catalog, it only needs the cart service wired.
type stubProducts struct{}

func (stubProducts) List(_ context.Context) ([]product.Product, error) {
	return []product.Product{{ID: "phone", Name: "Solara X2", Price: decimal.NewFromInt(10_000)}}, nil
}

func (stubProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	if id != "phone" {
		return nil, product.ErrNotFound
	}
	return &product.Product{ID: "phone", Name: "Solara X2", Price: decimal.NewFromInt(10_000)}, nil
}

// memOrderRepo is an in-memory order repository with conditional finalize.
type memOrderRepo struct {
	orders map[string]*order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*order.Order)}
}

func (m *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrderRepo) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) ListByShopper(_ context.Context, shopperID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.orders {
		if o.ShopperID == shopperID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) FinalizePayment(_ context.Context, id, gatewayRef string) (*payment.Intent, bool, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, false, order.ErrNotFound
	}
	switch o.Intent.Status {
	case payment.StatusCompleted:
		intent := o.Intent
		return &intent, false, nil
	case payment.StatusFailed:
		return nil, false, order.ErrPaymentFinal
	}
	o.Intent.Status = payment.StatusCompleted
	if gatewayRef != "" {
		o.Intent.GatewayOrderID = gatewayRef
	}
	o.Status = order.StatusProcessing
	intent := o.Intent
	return &intent, true, nil
}

func (m *memOrderRepo) FailPayment(_ context.Context, id string) (*payment.Intent, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Intent.Status == payment.StatusPending {
		o.Intent.Status = payment.StatusFailed
	}
	intent := o.Intent
	return &intent, nil
}

func (m *memOrderRepo) SetStatus(_ context.Context, id string, from, to order.Status) error {
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status == from {
		o.Status = to
	}
	return nil
}

// mockValidator returns a fixed percentage discount for one code.
type mockValidator struct {
	code    string
	percent int
	err     error
}

func (m *mockValidator) Validate(_ context.Context, code, _ string, subtotal decimal.Decimal) (*coupon.Applied, error) {
	if m.err != nil {
		return nil, m.err
	}
	if coupon.Normalize(code) != m.code {
		return nil, coupon.ErrNotFound
	}
	return &coupon.Applied{
		Code:            m.code,
		DiscountPercent: m.percent,
		DiscountedTotal: coupon.Discount(subtotal, m.percent),
	}, nil
}

// mockInitiator records initiation attempts and can fail on demand.
type mockInitiator struct {
	calls  int
	err    error
	result *payment.Initiation
}

func (m *mockInitiator) Initiate(_ context.Context, req payment.InitiationRequest) (*payment.Initiation, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &payment.Initiation{
		RedirectTarget: "https://pay.example.com/" + req.OrderID,
		FormFields:     map[string]string{"order_id": req.OrderID},
		GatewayRef:     "gw-" + req.OrderID,
	}, nil
}

type fixture struct {
	orch      *Orchestrator
	sessions  *memSessionStore
	pending   *memPendingStore
	cartRepo  *memCartRepo
	orderRepo *memOrderRepo
	gateway   *mockInitiator
	ledger    *order.Ledger
}

func newFixture() *fixture {
	sessions := newMemSessionStore()
	pending := newMemPendingStore()
	cartRepo := &memCartRepo{}
	orderRepo := newMemOrderRepo()
	gateway := &mockInitiator{}

	carts := cart.NewService(cartRepo, stubProducts{}, sessions)
	ledger := order.NewLedger(orderRepo)

	orch := NewOrchestrator(
		Config{DeliveryCharge: decimal.NewFromInt(150), Currency: "BDT"},
		sessions, carts, &mockValidator{code: "SAVE10", percent: 10}, ledger,
		map[payment.Method]payment.Initiator{
			payment.MethodCOD:     payment.CODInitiator{},
			payment.MethodGateway: gateway,
		},
		pending,
	)
	orch.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}

	return &fixture{
		orch:      orch,
		sessions:  sessions,
		pending:   pending,
		cartRepo:  cartRepo,
		orderRepo: orderRepo,
		gateway:   gateway,
		ledger:    ledger,
	}
}

func (f *fixture) fillCart(t *testing.T) {
	t.Helper()
	_, err := f.cartRepo.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	err = f.cartRepo.UpsertItem(context.Background(), "cart-1", cart.Item{
		ProductID: "phone",
		Name:      "Solara X2",
		UnitPrice: decimal.NewFromInt(10_000),
		Quantity:  1,
	})
	require.NoError(t, err)
}

func validShipping() order.ShippingInfo {
	return order.ShippingInfo{
		Name:    "Arman Hossain",
		Email:   "arman@example.com",
		Address: "12 Lake Road",
		City:    "Dhaka",
		Phone:   "+8801700000000",
	}
}

// reachReview walks the wizard to the review step.
func (f *fixture) reachReview(t *testing.T, m payment.Method) {
	t.Helper()
	ctx := context.Background()
	_, err := f.orch.SetShipping(ctx, "s1", validShipping())
	require.NoError(t, err)
	_, err = f.orch.SelectPaymentMethod(ctx, "s1", m)
	require.NoError(t, err)
}

func TestOrchestrator_StepAdvancesOnlyWhenComplete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	sess, err := f.orch.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepShipping, sess.Step)

	// Incomplete shipping keeps the step and names the missing fields.
	_, err = f.orch.SetShipping(ctx, "s1", order.ShippingInfo{Name: "Arman Hossain"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"email", "address", "city", "phone"}, verr.Fields)

	sess, err = f.orch.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepShipping, sess.Step)

	// Complete shipping advances to payment.
	sess, err = f.orch.SetShipping(ctx, "s1", validShipping())
	require.NoError(t, err)
	assert.Equal(t, StepPayment, sess.Step)

	// Choosing a method advances to review.
	sess, err = f.orch.SelectPaymentMethod(ctx, "s1", payment.MethodCOD)
	require.NoError(t, err)
	assert.Equal(t, StepReview, sess.Step)
}

func TestOrchestrator_SelectMethodRequiresShipping(t *testing.T) {
	f := newFixture()

	_, err := f.orch.SelectPaymentMethod(context.Background(), "s1", payment.MethodCOD)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestOrchestrator_SelectMethodRejectsUnknown(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.orch.SetShipping(ctx, "s1", validShipping())
	require.NoError(t, err)

	_, err = f.orch.SelectPaymentMethod(ctx, "s1", "wire")
	assert.ErrorIs(t, err, ErrMethodRequired)
}

func TestOrchestrator_Back(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.reachReview(t, payment.MethodCOD)

	sess, err := f.orch.Back(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepPayment, sess.Step)

	// Shipping data survives going back.
	assert.True(t, sess.ShippingComplete())

	sess, err = f.orch.Back(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepShipping, sess.Step)

	// Already at the first step: stays put.
	sess, err = f.orch.Back(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepShipping, sess.Step)
}

func TestOrchestrator_ApplyCoupon(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodCOD)

	sess, err := f.orch.ApplyCoupon(ctx, "s1", "save10")
	require.NoError(t, err)
	require.NotNil(t, sess.Applied)
	assert.True(t, decimal.NewFromInt(9_000).Equal(sess.Applied.DiscountedTotal))
}

func TestOrchestrator_ApplyCoupon_RejectionLeavesSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodCOD)

	_, err := f.orch.ApplyCoupon(ctx, "s1", "BOGUS")
	assert.ErrorIs(t, err, coupon.ErrNotFound)

	sess, err := f.orch.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sess.Applied)
	assert.Equal(t, StepReview, sess.Step)
}

func TestOrchestrator_SubmitCOD(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodCOD)

	_, err := f.orch.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	res, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)

	assert.True(t, res.Finalized)
	assert.True(t, decimal.NewFromInt(9_150).Equal(res.Total),
		"9000 discounted + 150 delivery, got %s", res.Total)
	assert.Nil(t, res.Initiation)

	// Order is completed and processing.
	ord, err := f.ledger.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, ord.Intent.Status)
	assert.Equal(t, order.StatusProcessing, ord.Status)

	// Cart is cleared, session submitted.
	assert.Empty(t, f.cartRepo.cart.Items)
	sess, err := f.orch.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepSubmitted, sess.Step)
	assert.Equal(t, res.OrderID, sess.OrderID)
}

func TestOrchestrator_SubmitCOD_ClearFailureDoesNotDuplicateOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodCOD)

	f.cartRepo.clearErr = errors.New("redis: connection refused")

	res, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, res.Finalized)

	// The session was committed before the clear, so a retry is rejected
	// instead of creating a second order.
	sess, err := f.orch.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepSubmitted, sess.Step)

	_, err = f.orch.Submit(ctx, "s1")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Len(t, f.orderRepo.orders, 1)
}

func TestOrchestrator_SubmitRequiresReviewStep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)

	_, err := f.orch.Submit(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotAtReview)

	_, err = f.orch.SetShipping(ctx, "s1", validShipping())
	require.NoError(t, err)
	_, err = f.orch.Submit(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotAtReview)
}

func TestOrchestrator_SubmitEmptyCart(t *testing.T) {
	f := newFixture()
	f.reachReview(t, payment.MethodCOD)

	_, err := f.orch.Submit(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestOrchestrator_SubmitWhileLocked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodCOD)

	locked, err := f.sessions.TrySubmitLock(ctx, "s1")
	require.NoError(t, err)
	require.True(t, locked)

	_, err = f.orch.Submit(ctx, "s1")
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	// After release the submit goes through and exactly one order exists.
	require.NoError(t, f.sessions.ReleaseSubmitLock(ctx, "s1"))
	_, err = f.orch.Submit(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, f.orderRepo.orders, 1)
}

func TestOrchestrator_SubmitGateway(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodGateway)

	res, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)

	assert.False(t, res.Finalized)
	require.NotNil(t, res.Initiation)
	assert.NotEmpty(t, res.Initiation.RedirectTarget)

	// The cart survives until confirmation.
	assert.NotEmpty(t, f.cartRepo.cart.Items)

	// The pending slot and session both reference the order.
	slot, ok, err := f.pending.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.OrderID, slot)

	sess, err := f.orch.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, sess.PendingOrderID)
	assert.Equal(t, StepReview, sess.Step)
}

func TestOrchestrator_SubmitGateway_RetryResumesSameOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodGateway)

	first, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)

	// Confirmation never arrived; the shopper mashes submit again.
	second, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID, "retry must not create a duplicate order")
	assert.Len(t, f.orderRepo.orders, 1)
	assert.Equal(t, 2, f.gateway.calls)
}

func TestOrchestrator_SubmitGateway_InitiationFailureKeepsOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodGateway)

	// The popup never opened: initiation fails outright.
	f.gateway.err = &payment.InitiationError{Reason: "gateway unreachable"}

	_, err := f.orch.Submit(ctx, "s1")
	var initErr *payment.InitiationError
	require.ErrorAs(t, err, &initErr)

	// The order exists, still pending, and the slot points at it.
	require.Len(t, f.orderRepo.orders, 1)
	_, ok, err := f.pending.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Retry after the gateway recovers resumes the same order.
	f.gateway.err = nil
	res, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, f.orderRepo.orders, 1)

	sess, err := f.orch.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, sess.PendingOrderID)
}

func TestOrchestrator_SubmitAfterListenerFinalized(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodGateway)

	res, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)

	// The listener completed the payment but the session repair was lost.
	_, finalized, err := f.ledger.CompletePayment(ctx, res.OrderID, "gw-1")
	require.NoError(t, err)
	require.True(t, finalized)

	second, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, second.Finalized)
	assert.Equal(t, res.OrderID, second.OrderID)

	sess, err := f.orch.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepSubmitted, sess.Step)
}

func TestOrchestrator_SubmitAfterFailedPendingCreatesFreshOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodGateway)

	first, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)

	// The gateway reported failure but the session repair was lost: the
	// session still references the dead order.
	_, err = f.ledger.FailPayment(ctx, first.OrderID)
	require.NoError(t, err)

	// One submit is enough: the failed reference is dropped and a new
	// order is created in the same call.
	second, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Len(t, f.orderRepo.orders, 2)

	sess, err := f.orch.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, second.OrderID, sess.PendingOrderID)
}

func TestOrchestrator_MutationsAfterSubmitRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fillCart(t)
	f.reachReview(t, payment.MethodCOD)

	_, err := f.orch.Submit(ctx, "s1")
	require.NoError(t, err)

	_, err = f.orch.SetShipping(ctx, "s1", validShipping())
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	_, err = f.orch.SelectPaymentMethod(ctx, "s1", payment.MethodCOD)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	_, err = f.orch.Back(ctx, "s1")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	_, err = f.orch.Submit(ctx, "s1")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestStep_String(t *testing.T) {
	assert.Equal(t, "shipping", StepShipping.String())
	assert.Equal(t, "submitted", StepSubmitted.String())
	assert.Equal(t, "unknown", Step(9).String())
}
