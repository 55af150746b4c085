package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

type testRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
	msg         string
}

func (e testRepoError) Error() string       { return e.msg }
func (e testRepoError) IsNotFound() bool    { return e.notFound }
func (e testRepoError) IsConflict() bool    { return e.conflict }
func (e testRepoError) IsUnavailable() bool { return e.unavailable }

func errNotFound(what string) error {
	return testRepoError{notFound: true, msg: what + " not found"}
}

func errUnavailable() error {
	return testRepoError{unavailable: true, msg: "backend unavailable"}
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.SessionSnapshot
	writes   []domain.SessionField
	removed  []string
}

func newMemSessions(snapshots ...domain.SessionSnapshot) *memSessions {
	m := &memSessions{sessions: map[string]domain.SessionSnapshot{}}
	for _, snapshot := range snapshots {
		m.sessions[snapshot.Key] = snapshot
	}
	return m
}

func (m *memSessions) Get(_ context.Context, key string) (domain.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.sessions[key]
	if !ok {
		return domain.SessionSnapshot{}, errNotFound("session")
	}
	return snapshot, nil
}

func (m *memSessions) UpdateField(_ context.Context, key string, field domain.SessionField, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.sessions[key]
	if !ok {
		return errNotFound("session")
	}
	switch field {
	case domain.SessionFieldCustomer:
		snapshot.Customer = value.(domain.SessionCustomer)
	case domain.SessionFieldCart:
		snapshot.Cart = value.([]domain.SessionCartLine)
	case domain.SessionFieldAppliedCoupons:
		snapshot.AppliedCoupons = value.([]string)
	case domain.SessionFieldChosenShippingMethods:
		snapshot.ChosenShippingMethods = value.(map[string]string)
	case domain.SessionFieldChosenPaymentMethod:
		snapshot.ChosenPaymentMethod = value.(string)
	case domain.SessionFieldCustomerEmail:
		snapshot.CustomerEmail = value.(string)
	case domain.SessionFieldAbandonedCartID:
		snapshot.AbandonedCartID = value.(string)
	}
	m.sessions[key] = snapshot
	m.writes = append(m.writes, field)
	return nil
}

func (m *memSessions) RemoveAppliedCoupon(_ context.Context, key string, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.sessions[key]
	if !ok {
		return errNotFound("session")
	}
	kept := snapshot.AppliedCoupons[:0]
	for _, applied := range snapshot.AppliedCoupons {
		if applied != code {
			kept = append(kept, applied)
		}
	}
	snapshot.AppliedCoupons = kept
	m.sessions[key] = snapshot
	m.removed = append(m.removed, code)
	return nil
}

func (m *memSessions) snapshot(key string) domain.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}

type memCustomers struct {
	mu          sync.Mutex
	byID        map[string]domain.Customer
	nextID      int
	metaUpdates map[string]map[string]string
	carts       map[string][]domain.SessionCartLine
	err         error
}

func newMemCustomers(customers ...domain.Customer) *memCustomers {
	m := &memCustomers{
		byID:        map[string]domain.Customer{},
		nextID:      500,
		metaUpdates: map[string]map[string]string{},
		carts:       map[string][]domain.SessionCartLine{},
	}
	for _, customer := range customers {
		m.byID[customer.ID] = customer
	}
	return m
}

func (m *memCustomers) FindByID(_ context.Context, id string) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Customer{}, m.err
	}
	customer, ok := m.byID[id]
	if !ok {
		return domain.Customer{}, errNotFound("customer")
	}
	return customer, nil
}

func (m *memCustomers) FindByEmail(_ context.Context, email string) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Customer{}, m.err
	}
	for _, customer := range m.byID {
		if strings.EqualFold(customer.Email, strings.TrimSpace(email)) {
			return customer, nil
		}
	}
	return domain.Customer{}, errNotFound("customer")
}

func (m *memCustomers) UsernameExists(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, customer := range m.byID {
		if customer.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memCustomers) Insert(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if customer.ID == "" {
		m.nextID++
		customer.ID = strconv.Itoa(m.nextID)
	}
	m.byID[customer.ID] = customer
	return customer, nil
}

func (m *memCustomers) UpdateMeta(_ context.Context, id string, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return errNotFound("customer")
	}
	m.metaUpdates[id] = meta
	return nil
}

func (m *memCustomers) SavePersistentCart(_ context.Context, id string, lines []domain.SessionCartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[id] = lines
	return nil
}

func (m *memCustomers) SetFirebaseUID(_ context.Context, id string, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	customer, ok := m.byID[id]
	if !ok {
		return errNotFound("customer")
	}
	customer.FirebaseUID = uid
	m.byID[id] = customer
	return nil
}

type memCoupons struct {
	byCode map[string]domain.Coupon
}

func newMemCoupons(coupons ...domain.Coupon) *memCoupons {
	m := &memCoupons{byCode: map[string]domain.Coupon{}}
	for _, coupon := range coupons {
		m.byCode[domain.NormalizeCouponCode(coupon.Code)] = coupon
	}
	return m
}

func (m *memCoupons) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	coupon, ok := m.byCode[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, errNotFound("coupon")
	}
	return coupon, nil
}

func (m *memCoupons) ListByIDs(_ context.Context, ids []string) ([]domain.Coupon, error) {
	var out []domain.Coupon
	for _, id := range ids {
		for _, coupon := range m.byCode {
			if coupon.ID == id {
				out = append(out, coupon)
			}
		}
	}
	return out, nil
}

func (m *memCoupons) ListRestrictedToEmail(_ context.Context, email string) ([]domain.Coupon, error) {
	var out []domain.Coupon
	for _, coupon := range m.byCode {
		for _, allowed := range coupon.EmailRestrictions {
			if strings.EqualFold(allowed, email) {
				out = append(out, coupon)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type memCatalog struct {
	products map[string]domain.Product
}

func newMemCatalog(products ...domain.Product) *memCatalog {
	m := &memCatalog{products: map[string]domain.Product{}}
	for _, product := range products {
		m.products[product.ID] = product
	}
	return m
}

func (m *memCatalog) GetProduct(_ context.Context, id string) (domain.Product, error) {
	product, ok := m.products[id]
	if !ok {
		return domain.Product{}, errNotFound("product")
	}
	return product, nil
}

func (m *memCatalog) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := m.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (m *memCatalog) CategoryDescendants(_ context.Context, ids []string) ([]string, error) {
	return ids, nil
}

func (m *memCatalog) ProductVariations(_ context.Context, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		out = append(out, m.products[id].VariationIDs...)
	}
	return out, nil
}

type stubShipping struct {
	rates []domain.ShippingRate
	calls int
	err   error
}

func (s *stubShipping) CalculateRates(_ context.Context, _ domain.ShippingPackage) ([]domain.ShippingRate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.ShippingRate(nil), s.rates...), nil
}

type memOrders struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	deleted []string
	updates int
	err     error
}

func newMemOrders(orders ...domain.Order) *memOrders {
	m := &memOrders{orders: map[string]domain.Order{}}
	for _, order := range orders {
		m.orders[order.ID] = order
	}
	return m
}

func (m *memOrders) Insert(_ context.Context, order domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Order{}, m.err
	}
	if _, exists := m.orders[order.ID]; exists {
		return domain.Order{}, testRepoError{conflict: true, msg: "order exists"}
	}
	m.orders[order.ID] = order
	return order, nil
}

func (m *memOrders) Update(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.ID]; !exists {
		return errNotFound("order")
	}
	m.orders[order.ID] = order
	m.updates++
	return nil
}

func (m *memOrders) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[id]; !exists {
		return errNotFound("order")
	}
	delete(m.orders, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return domain.Order{}, errNotFound("order")
	}
	return order, nil
}

func (m *memOrders) FindPendingBySession(_ context.Context, key string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.Draft && order.Status == domain.OrderStatusPending && order.MetaString(domain.OrderMetaSessionKey) == key {
			return order, nil
		}
	}
	return domain.Order{}, errNotFound("order")
}

func (m *memOrders) FindLatest(_ context.Context, filter repositories.OrderLookupFilter) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  domain.Order
		found bool
	)
	for _, order := range m.orders {
		if filter.SessionKey != "" && order.MetaString(domain.OrderMetaSessionKey) != filter.SessionKey {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.DraftOnly && !order.Draft {
			continue
		}
		if filter.PaymentMethod != "" && order.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if filter.BillingEmail != "" && !strings.EqualFold(order.Billing.Email, filter.BillingEmail) {
			continue
		}
		if !filter.CreatedAfter.IsZero() && order.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if !found || order.CreatedAt.After(best.CreatedAt) {
			best, found = order, true
		}
	}
	if !found {
		return domain.Order{}, errNotFound("order")
	}
	return best, nil
}

func (m *memOrders) get(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	return order, ok
}

type staticMerchant struct {
	cfg domain.MerchantConfig
}

func (s *staticMerchant) Current(context.Context) domain.MerchantConfig { return s.cfg }

type stubWallet struct {
	active   bool
	balances map[string]decimal.Decimal
	debitErr error
	debits   []decimal.Decimal
}

func (w *stubWallet) Active(context.Context) bool { return w.active }

func (w *stubWallet) Balance(_ context.Context, id string) (decimal.Decimal, error) {
	return w.balances[id], nil
}

func (w *stubWallet) Debit(_ context.Context, id string, amount decimal.Decimal, _ string) (string, error) {
	if w.debitErr != nil {
		return "", w.debitErr
	}
	w.debits = append(w.debits, amount)
	w.balances[id] = w.balances[id].Sub(amount)
	return fmt.Sprintf("tx-%d", len(w.debits)), nil
}

type recordingRecorder struct {
	records []domain.AbandonedCart
	err     error
}

func (r *recordingRecorder) RecordAbandonedCart(_ context.Context, cart domain.AbandonedCart) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, cart)
	return nil
}

type stubClaimer struct {
	held     map[string]bool
	released []string
}

func (c *stubClaimer) Claim(_ context.Context, key string, _ time.Duration) (func(context.Context), bool, error) {
	if c.held == nil {
		c.held = map[string]bool{}
	}
	if c.held[key] {
		return nil, false, nil
	}
	c.held[key] = true
	return func(context.Context) {
		delete(c.held, key)
		c.released = append(c.released, key)
	}, true, nil
}

type stubProvisioner struct {
	calls []string
	err   error
}

func (p *stubProvisioner) ProvisionIdentity(_ context.Context, customer domain.Customer, phone string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.calls = append(p.calls, customer.Email+"|"+phone)
	return "uid-" + customer.ID, nil
}

type stubNumbers struct {
	next int
}

func (n *stubNumbers) NextOrderNumber(context.Context) (string, error) {
	n.next++
	return strconv.Itoa(1000 + n.next), nil
}

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func testMerchant() domain.MerchantConfig {
	return domain.MerchantConfig{
		MerchantID:        "mid-1",
		CheckoutEnabled:   true,
		CodGatewayEnabled: true,
		Currency:          domain.CurrencyINR,
		StoreURL:          "https://shop.example.in",
		CartPath:          "/cart/",
		CheckoutPath:      "/checkout/",
		CodRestrictions:   domain.CodRestrictions{Mode: domain.CodModeDisable},
		Coupons:           domain.CouponListing{Enabled: true},
	}
}

func testProduct(id string, price string) domain.Product {
	return domain.Product{
		ID:           id,
		Name:         "Product " + id,
		Slug:         "product-" + id,
		SKU:          "SKU-" + id,
		Price:        mustDec(price),
		RegularPrice: mustDec(price),
		CategoryIDs:  []string{"cat-1"},
		Published:    true,
	}
}

func testSnapshot(key string, lines ...domain.SessionCartLine) domain.SessionSnapshot {
	return domain.SessionSnapshot{
		Key:                   key,
		Cart:                  lines,
		ChosenShippingMethods: map[string]string{},
		Currency:              domain.CurrencyINR,
	}
}

func cartLine(key, productID string, qty int) domain.SessionCartLine {
	return domain.SessionCartLine{Key: key, ProductID: productID, Quantity: qty}
}

func flatRate(cost string) domain.ShippingRate {
	return domain.ShippingRate{
		ID:         "flat_rate:1",
		MethodID:   "flat_rate",
		InstanceID: 1,
		Label:      "Flat rate",
		Cost:       mustDec(cost),
		Taxes:      map[string]decimal.Decimal{},
	}
}

// testEnv bundles in-memory collaborators shared by the service tests.
type testEnv struct {
	sessions  *memSessions
	customers *memCustomers
	coupons   *memCoupons
	catalog   *memCatalog
	shipping  *stubShipping
	orders    *memOrders
	merchant  *staticMerchant
	store     *SessionStore
	engine    *CartEngine
	guard     *EligibilityGuard
	gateways  *payments.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		sessions:  newMemSessions(),
		customers: newMemCustomers(),
		coupons:   newMemCoupons(),
		catalog:   newMemCatalog(testProduct("p1", "500"), testProduct("p2", "250")),
		shipping:  &stubShipping{rates: []domain.ShippingRate{flatRate("50")}},
		orders:    newMemOrders(),
		merchant:  &staticMerchant{cfg: testMerchant()},
	}
	var err error
	env.store, err = NewSessionStore(env.sessions, nil)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	env.engine, err = NewCartEngine(CartEngineDeps{
		Catalog:  env.catalog,
		Coupons:  env.coupons,
		Shipping: env.shipping,
		Clock:    testClock,
	})
	if err != nil {
		t.Fatalf("cart engine: %v", err)
	}
	env.guard, err = NewEligibilityGuard(env.catalog, nil)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	env.gateways, err = payments.NewRegistry(payments.DefaultGateways(true, true), payments.WithVisibilityFilter(payments.FilterVisibleGateways))
	if err != nil {
		t.Fatalf("gateways: %v", err)
	}
	return env
}

func (e *testEnv) hydrate(t *testing.T, key string) *CartContext {
	t.Helper()
	snapshot, err := e.store.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	cart, err := e.engine.Hydrate(context.Background(), HydrateInput{Snapshot: snapshot, Merchant: e.merchant.cfg})
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	return cart
}
