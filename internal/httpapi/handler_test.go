package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cartflow/checkout/internal/domain/auth"
	"github.com/cartflow/checkout/internal/domain/cart"
	"github.com/cartflow/checkout/internal/domain/checkout"
	"github.com/cartflow/checkout/internal/domain/coupon"
	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/domain/payment"
	"github.com/cartflow/checkout/internal/domain/product"
	"github.com/cartflow/checkout/internal/listener"
)

const (
	testPepper = "test-pepper"
	testSecret = "callback-secret"
)

// mockAuthRepo looks sessions up by token hash.
type mockAuthRepo struct {
	sessions map[string]*auth.Session
}

func (m *mockAuthRepo) FindByHash(_ context.Context, hash string) (*auth.Session, error) {
	s, ok := m.sessions[hash]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	return s, nil
}

// memSessionStore is an in-memory checkout.SessionStore with a submit lock.
type memSessionStore struct {
	sessions map[string]*checkout.Session
	locks    map[string]bool
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[string]*checkout.Session),
		locks:    make(map[string]bool),
	}
}

func (m *memSessionStore) Get(_ context.Context, shopperID string) (*checkout.Session, error) {
	if s, ok := m.sessions[shopperID]; ok {
		cp := *s
		return &cp, nil
	}
	return &checkout.Session{ShopperID: shopperID, Step: checkout.StepShipping}, nil
}

func (m *memSessionStore) Put(_ context.Context, s *checkout.Session) error {
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

// memCartRepo keys carts by shopper.
type memCartRepo struct {
	carts map[string]*cart.Cart
}

func (m *memCartRepo) GetOrCreate(_ context.Context, shopperID string) (*cart.Cart, error) {
	c, ok := m.carts[shopperID]
	if !ok {
		c = &cart.Cart{ID: "cart-" + shopperID, ShopperID: shopperID}
		m.carts[shopperID] = c
	}
	cp := *c
	cp.Items = append([]cart.Item(nil), c.Items...)
	return &cp, nil
}

func (m *memCartRepo) byCartID(cartID string) *cart.Cart {
	for _, c := range m.carts {
		if c.ID == cartID {
			return c
		}
	}
	return nil
}

func (m *memCartRepo) UpsertItem(_ context.Context, cartID string, item cart.Item) error {
	c := m.byCartID(cartID)
	for i, it := range c.Items {
		if it.ProductID == item.ProductID {
			c.Items[i] = item
			return nil
		}
	}
	c.Items = append(c.Items, item)
	return nil
}

func (m *memCartRepo) SetQuantity(_ context.Context, cartID, productID string, quantity int) error {
	c := m.byCartID(cartID)
	for i, it := range c.Items {
		if it.ProductID == productID {
			c.Items[i].Quantity = quantity
			return nil
		}
	}
	return cart.ErrItemNotFound
}

func (m *memCartRepo) RemoveItem(_ context.Context, cartID, productID string) error {
	c := m.byCartID(cartID)
	for i, it := range c.Items {
		if it.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memCartRepo) Clear(_ context.Context, cartID string) error {
	if c := m.byCartID(cartID); c != nil {
		c.Items = nil
	}
	return nil
}

// stubProducts is a fixed two-item catalog.
type stubProducts struct{}

func (stubProducts) catalog() []product.Product {
	return []product.Product{
		{ID: "phone", Name: "Solara X2", Price: decimal.NewFromInt(10_000), Category: "phones", Colors: []string{"black", "silver"}},
		{ID: "case", Name: "Bumper Case", Price: decimal.RequireFromString("349.50"), Category: "accessories"},
	}
}

func (s stubProducts) List(_ context.Context) ([]product.Product, error) {
	return s.catalog(), nil
}

func (s stubProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	for _, p := range s.catalog() {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, product.ErrNotFound
}

// memOrderRepo mirrors the conditional-finalize semantics of the SQL layer.
type memOrderRepo struct {
	orders map[string]*order.Order
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

// mockValidator accepts a single fixed code.
type mockValidator struct{}

func (mockValidator) Validate(_ context.Context, code, _ string, subtotal decimal.Decimal) (*coupon.Applied, error) {
	if coupon.Normalize(code) != "SAVE10" {
		return nil, coupon.ErrNotFound
	}
	return &coupon.Applied{
		Code:            "SAVE10",
		DiscountPercent: 10,
		DiscountedTotal: coupon.Discount(subtotal, 10),
	}, nil
}

// mockInitiator stands in for the hosted payment page.
type mockInitiator struct {
	err error
}

func (m *mockInitiator) Initiate(_ context.Context, req payment.InitiationRequest) (*payment.Initiation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &payment.Initiation{
		RedirectTarget: "https://pay.example.com/" + req.OrderID,
		FormFields:     map[string]string{"order_id": req.OrderID},
		GatewayRef:     "gw-" + req.OrderID,
	}, nil
}

type env struct {
	mux       *http.ServeMux
	orderRepo *memOrderRepo
	gateway   *mockInitiator
}

// tokens: tok-s1 and tok-s2 are live sessions, tok-old is expired.
func newEnv(t *testing.T, signalBuffer int) *env {
	t.Helper()

	now := time.Now()
	pepper := []byte(testPepper)
	authRepo := &mockAuthRepo{sessions: map[string]*auth.Session{}}
	for token, shopperID := range map[string]string{"tok-s1": "s1", "tok-s2": "s2"} {
		hash := auth.HashToken(pepper, token)
		authRepo.sessions[hash] = &auth.Session{
			TokenHash: hash,
			ShopperID: shopperID,
			ExpiresAt: now.Add(time.Hour),
		}
	}
	oldHash := auth.HashToken(pepper, "tok-old")
	authRepo.sessions[oldHash] = &auth.Session{
		TokenHash: oldHash,
		ShopperID: "s1",
		ExpiresAt: now.Add(-time.Minute),
	}

	sessions := newMemSessionStore()
	pending := &memPendingStore{slots: map[string]string{}}
	cartRepo := &memCartRepo{carts: map[string]*cart.Cart{}}
	orderRepo := &memOrderRepo{orders: map[string]*order.Order{}}
	gateway := &mockInitiator{}

	carts := cart.NewService(cartRepo, stubProducts{}, sessions)
	ledger := order.NewLedger(orderRepo)
	orch := checkout.NewOrchestrator(
		checkout.Config{DeliveryCharge: decimal.NewFromInt(150), Currency: "BDT"},
		sessions, carts, mockValidator{}, ledger,
		map[payment.Method]payment.Initiator{
			payment.MethodCOD:     payment.CODInitiator{},
			payment.MethodGateway: gateway,
		},
		pending,
	)
	signals := listener.New(signalBuffer, ledger, carts, pending, orch, zaptest.NewLogger(t))

	h := NewHandler(stubProducts{}, carts, orch, ledger, signals,
		auth.NewVerifier(authRepo, pepper), []byte(testSecret))

	mux := http.NewServeMux()
	h.Routes(mux)
	return &env{mux: mux, orderRepo: orderRepo, gateway: gateway}
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHandler_AuthRequired(t *testing.T) {
	e := newEnv(t, 8)

	rec := e.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "session token required", body.Message)

	rec = e.do(t, http.MethodGet, "/api/products", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body = decodeBody[errorResponse](t, rec)
	assert.Equal(t, "invalid session token", body.Message)
}

func TestHandler_ExpiredTokenHintsReauth(t *testing.T) {
	e := newEnv(t, 8)

	rec := e.do(t, http.MethodGet, "/api/cart", "tok-old", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "session expired", body.Message)
	assert.Equal(t, "sign in again; your checkout progress is kept", body.Hint)
}

func TestHandler_ListProducts(t *testing.T) {
	e := newEnv(t, 8)

	rec := e.do(t, http.MethodGet, "/api/products", "tok-s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	views := decodeBody[[]map[string]any](t, rec)
	require.Len(t, views, 2)
	assert.Equal(t, "phone", views[0]["id"])
	assert.InDelta(t, 10_000, views[0]["price"], 0.001)
	assert.InDelta(t, 349.50, views[1]["price"], 0.001)
}

func TestHandler_CartFlow(t *testing.T) {
	e := newEnv(t, 8)

	rec := e.do(t, http.MethodPost, "/api/cart/items", "tok-s1",
		map[string]any{"productId": "phone", "quantity": 2, "color": "black"})
	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeBody[cartView](t, rec)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Equal(t, "black", c.Items[0].Color)
	assert.InDelta(t, 20_000, c.Subtotal, 0.001)

	rec = e.do(t, http.MethodPatch, "/api/cart/items/phone", "tok-s1",
		map[string]any{"quantity": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	c = decodeBody[cartView](t, rec)
	assert.InDelta(t, 10_000, c.Subtotal, 0.001)

	rec = e.do(t, http.MethodDelete, "/api/cart/items/phone", "tok-s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c = decodeBody[cartView](t, rec)
	assert.Empty(t, c.Items)
	assert.Zero(t, c.Subtotal)
}

func TestHandler_AddCartItem_Rejections(t *testing.T) {
	e := newEnv(t, 8)

	rec := e.do(t, http.MethodPost, "/api/cart/items", "tok-s1",
		map[string]any{"productId": "no-such", "quantity": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/cart/items", "tok-s1",
		map[string]any{"productId": "phone", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/cart/items", "tok-s1",
		map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func validShipping() map[string]string {
	return map[string]string{
		"name":    "Ayesha Rahman",
		"email":   "ayesha@example.com",
		"address": "12 Lake Road",
		"city":    "Dhaka",
		"phone":   "+8801700000000",
	}
}

// reachReview walks the shopper through shipping and method selection.
func (e *env) reachReview(t *testing.T, token, method string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/cart/items", token,
		map[string]any{"productId": "phone", "quantity": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/checkout/shipping", token, validShipping())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/checkout/payment-method", token,
		map[string]any{"method": method})
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody[checkoutView](t, rec)
	require.Equal(t, "review", sess.Step)
}

func TestHandler_CheckoutShippingValidation(t *testing.T) {
	e := newEnv(t, 8)

	rec := e.do(t, http.MethodPost, "/api/checkout/shipping", "tok-s1",
		map[string]string{"name": "Ayesha Rahman"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "required fields missing", body.Message)
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "city")
}

func TestHandler_CheckoutRejectsUnknownMethod(t *testing.T) {
	e := newEnv(t, 8)
	rec := e.do(t, http.MethodPost, "/api/checkout/shipping", "tok-s1", validShipping())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/checkout/payment-method", "tok-s1",
		map[string]any{"method": "wire"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_SubmitCOD(t *testing.T) {
	e := newEnv(t, 8)
	e.reachReview(t, "tok-s1", "cod")

	rec := e.do(t, http.MethodPost, "/api/checkout/coupon", "tok-s1",
		map[string]any{"code": "save10"})
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody[checkoutView](t, rec)
	require.NotNil(t, sess.Coupon)
	assert.Equal(t, "SAVE10", sess.Coupon.Code)
	assert.InDelta(t, 9_000, sess.Coupon.DiscountedTotal, 0.001)

	rec = e.do(t, http.MethodPost, "/api/checkout/submit", "tok-s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[submitView](t, rec)
	assert.True(t, res.Finalized)
	assert.InDelta(t, 9_150, res.Total, 0.001)
	assert.Empty(t, res.RedirectTarget)

	// The order is on the ledger and the cart is cleared.
	rec = e.do(t, http.MethodGet, "/api/orders/"+res.OrderID, "tok-s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	o := decodeBody[orderView](t, rec)
	assert.Equal(t, "completed", o.PaymentStatus)
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.InDelta(t, 9_150, o.Total, 0.001)
	assert.Equal(t, "BDT", o.Currency)

	rec = e.do(t, http.MethodGet, "/api/cart", "tok-s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeBody[cartView](t, rec)
	assert.Empty(t, c.Items)
}

func TestHandler_SubmitUnknownCoupon(t *testing.T) {
	e := newEnv(t, 8)
	e.reachReview(t, "tok-s1", "cod")

	rec := e.do(t, http.MethodPost, "/api/checkout/coupon", "tok-s1",
		map[string]any{"code": "NOPE99"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandler_SubmitGateway(t *testing.T) {
	e := newEnv(t, 8)
	e.reachReview(t, "tok-s1", "gateway")

	rec := e.do(t, http.MethodPost, "/api/checkout/submit", "tok-s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[submitView](t, rec)
	assert.False(t, res.Finalized)
	assert.Equal(t, "https://pay.example.com/"+res.OrderID, res.RedirectTarget)
	assert.Equal(t, res.OrderID, res.FormFields["order_id"])

	// Not finalized yet: the checkout stays at review with a pending order.
	rec = e.do(t, http.MethodGet, "/api/checkout", "tok-s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody[checkoutView](t, rec)
	assert.Equal(t, "review", sess.Step)
	assert.Equal(t, res.OrderID, sess.PendingOrderID)
}

func TestHandler_SubmitGatewayUnreachable(t *testing.T) {
	e := newEnv(t, 8)
	e.reachReview(t, "tok-s1", "gateway")
	e.gateway.err = &payment.InitiationError{Reason: "gateway unreachable"}

	rec := e.do(t, http.MethodPost, "/api/checkout/submit", "tok-s1", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "your order is saved; retry the payment from checkout", body.Hint)
}

func TestHandler_SubmitOutsideReview(t *testing.T) {
	e := newEnv(t, 8)

	rec := e.do(t, http.MethodPost, "/api/checkout/submit", "tok-s1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_OrderScopedToShopper(t *testing.T) {
	e := newEnv(t, 8)
	e.reachReview(t, "tok-s1", "cod")

	rec := e.do(t, http.MethodPost, "/api/checkout/submit", "tok-s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[submitView](t, rec)

	// The owner sees it in the list; another shopper gets 404, not 403.
	rec = e.do(t, http.MethodGet, "/api/orders", "tok-s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decodeBody[[]orderView](t, rec)
	require.Len(t, orders, 1)

	rec = e.do(t, http.MethodGet, "/api/orders/"+res.OrderID, "tok-s2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/orders", "tok-s2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders = decodeBody[[]orderView](t, rec)
	assert.Empty(t, orders)
}

func callbackBody(typ, orderID, gatewayRef string) map[string]string {
	return map[string]string{
		"type":        typ,
		"order_id":    orderID,
		"gateway_ref": gatewayRef,
		"signature":   payment.Sign([]byte(testSecret), typ, orderID, gatewayRef),
	}
}

func TestHandler_PaymentCallback(t *testing.T) {
	e := newEnv(t, 8)

	rec := e.do(t, http.MethodPost, "/api/payment/callback", "",
		callbackBody("PAYMENT_SUCCESS", "ord-1", "gw-1"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "accepted", body["status"])
}

func TestHandler_PaymentCallbackRejectsBadSignature(t *testing.T) {
	e := newEnv(t, 8)

	req := callbackBody("PAYMENT_SUCCESS", "ord-1", "gw-1")
	req["signature"] = payment.Sign([]byte("wrong-secret"), "PAYMENT_SUCCESS", "ord-1", "gw-1")
	rec := e.do(t, http.MethodPost, "/api/payment/callback", "", req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "bad signature", body.Message)
}

func TestHandler_PaymentCallbackRejectsMalformed(t *testing.T) {
	e := newEnv(t, 8)

	rec := e.do(t, http.MethodPost, "/api/payment/callback", "",
		callbackBody("PAYMENT_MAYBE", "ord-1", "gw-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/payment/callback", "",
		callbackBody("PAYMENT_SUCCESS", "", "gw-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_PaymentCallbackShedsWhenSaturated(t *testing.T) {
	e := newEnv(t, 2)

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/api/payment/callback", "",
			callbackBody("PAYMENT_SUCCESS", fmt.Sprintf("ord-%d", i), "gw-1"))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := e.do(t, http.MethodPost, "/api/payment/callback", "",
		callbackBody("PAYMENT_SUCCESS", "ord-overflow", "gw-1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
