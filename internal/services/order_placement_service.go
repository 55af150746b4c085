package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/textutil"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	defaultClaimTTL         = 30 * time.Second
	orderExistsWindow       = time.Hour
	cartTotalTolerance      = "0.01"
	indianDialCode          = "+91"
	defaultGSTFieldName     = "billing_gstin"
	defaultGSTFieldLabel    = "GSTIN (Use Capital Letter)"
	maxUsernameAttempts     = 50
	placementStepSave       = "save"
	placementStepCustomer   = "customer"
	placementStepIdentity   = "identity"
	placementStepPayment    = "payment_method"
	placementStepPendingDel = "pending_order"
)

// titleCase capitalises each word. Casers are stateful, so one is built per call.
func titleCase(value string) string {
	return cases.Title(language.Und, cases.NoLower).String(value)
}

// OrderPlacementServiceDeps wires the collaborators of order placement.
type OrderPlacementServiceDeps struct {
	Sessions   *SessionStore
	Engine     *CartEngine
	Customers  repositories.CustomerRepository
	Orders     repositories.OrderRepository
	Merchant   MerchantConfigSource
	Gateways   *payments.Registry
	Numbers    OrderNumberAllocator
	Claims     PlacementClaimer
	Identities IdentityProvisioner
	ClaimTTL   time.Duration
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderPlacementService struct {
	loader     *sessionLoader
	customers  repositories.CustomerRepository
	orders     repositories.OrderRepository
	gateways   *payments.Registry
	numbers    OrderNumberAllocator
	claims     PlacementClaimer
	identities IdentityProvisioner
	claimTTL   time.Duration
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderPlacementService validates dependencies. Claims and Identities are optional.
func NewOrderPlacementService(deps OrderPlacementServiceDeps) (OrderPlacementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order placement: order repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("order placement: gateway registry is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order placement: order number allocator is required")
	}
	loader, err := newSessionLoader(deps.Sessions, deps.Engine, deps.Customers, deps.Merchant)
	if err != nil {
		return nil, err
	}
	ttl := deps.ClaimTTL
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderPlacementService{
		loader:     loader,
		customers:  deps.Customers,
		orders:     deps.Orders,
		gateways:   deps.Gateways,
		numbers:    deps.Numbers,
		claims:     deps.Claims,
		identities: deps.Identities,
		claimTTL:   ttl,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// placement carries one PlaceOrder call through its enrichment steps.
type placement struct {
	cmd      PlaceOrderCommand
	loaded   *loadedSession
	order    domain.Order
	method   string
	isPaid   bool
	warnings []IntegrityWarning
}

func (p *placement) warn(step string, err error) {
	p.warnings = append(p.warnings, IntegrityWarning{Step: step, Message: err.Error()})
}

func (s *orderPlacementService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error) {
	key := strings.TrimSpace(cmd.SessionKey)
	if key == "" {
		return PlacedOrder{}, ErrSessionMissingKey
	}
	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if !isPlacementMethod(method) {
		return PlacedOrder{}, ErrInvalidPaymentMethod
	}

	if s.claims != nil {
		release, acquired, err := s.claims.Claim(ctx, key, s.claimTTL)
		switch {
		case err != nil:
			s.logger(ctx, "order_placement.claim_failed", map[string]any{"sessionKey": key, "error": err.Error()})
		case !acquired:
			return PlacedOrder{}, ErrOrderInProgress
		default:
			defer release(context.WithoutCancel(ctx))
		}
	}

	loaded, err := s.loader.load(ctx, key)
	if err != nil {
		return PlacedOrder{}, err
	}
	cart := loaded.Cart
	if cart.Empty() {
		return PlacedOrder{}, ErrCartEmpty
	}
	if cart.PaymentMethod != method {
		cart.PaymentMethod = method
		if err := cart.Recalculate(ctx); err != nil {
			return PlacedOrder{}, err
		}
	}

	if err := checkCartTotal(cart.Total(), cmd.OrderTotal, cmd.FeeLines); err != nil {
		s.logger(ctx, "order_placement.total_mismatch", map[string]any{
			"sessionKey": key,
			"cartTotal":  domain.FormatAmount(cart.Total()),
			"orderTotal": cmd.OrderTotal,
		})
		return PlacedOrder{}, err
	}

	p := &placement{
		cmd:    cmd,
		loaded: loaded,
		method: method,
		isPaid: cmd.SetPaid && (method == domain.PaymentMethodPrepaid || method == domain.PaymentMethodWallet),
	}
	if loaded.Merchant.PendingOrderFlow {
		s.deletePendingOrder(ctx, p)
	}

	if err := s.createOrder(ctx, p); err != nil {
		return PlacedOrder{}, err
	}

	s.bindPaymentMethod(p)
	s.bindCustomer(ctx, p)
	s.applyAttribution(p)
	s.applyMetadata(p)
	s.applyPayment(p)
	s.applyFeeLines(p)
	p.order.RecalculateTotals()
	p.order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, p.order); err != nil {
		p.warn(placementStepSave, err)
	}

	for _, warning := range p.warnings {
		s.logger(ctx, "order_placement.enrichment_failed", map[string]any{
			"orderID": p.order.ID,
			"step":    warning.Step,
			"error":   warning.Message,
		})
	}
	s.logger(ctx, "order_placement.placed", map[string]any{
		"orderID":       p.order.ID,
		"sessionKey":    key,
		"paymentMethod": method,
		"total":         domain.FormatAmount(p.order.Totals.Total),
	})
	return PlacedOrder{OrderID: p.order.ID, Warnings: p.warnings}, nil
}

// checkCartTotal compares the cart total, adjusted by the wallet and prepaid discount lines the hosted
// checkout applied, with the order total it reports. A zero or unparsable order total skips the check.
func checkCartTotal(cartTotal decimal.Decimal, rawOrderTotal string, fees []FeeLineInput) error {
	orderTotal, err := domain.ParseAmount(rawOrderTotal)
	if err != nil || orderTotal.IsZero() {
		return nil
	}
	expected := cartTotal
	for _, fee := range fees {
		if strings.TrimSpace(fee.Name) != domain.FeeNameWalletApplied && strings.TrimSpace(fee.DiscountSource) != domain.DiscountSourcePrepaid {
			continue
		}
		amount, err := domain.ParseAmount(fee.Total)
		if err != nil {
			continue
		}
		expected = expected.Add(amount)
	}
	if expected.Sub(orderTotal).Abs().GreaterThan(decimal.RequireFromString(cartTotalTolerance)) {
		return ErrCartTotalMismatch
	}
	return nil
}

func (s *orderPlacementService) deletePendingOrder(ctx context.Context, p *placement) {
	pending, err := s.orders.FindPendingBySession(ctx, p.loaded.Snapshot.Key)
	if err != nil {
		if !isRepoNotFound(err) {
			p.warn(placementStepPendingDel, err)
		}
		return
	}
	if err := s.orders.Delete(ctx, pending.ID); err != nil && !isRepoNotFound(err) {
		p.warn(placementStepPendingDel, err)
	}
}

func (s *orderPlacementService) createOrder(ctx context.Context, p *placement) error {
	number, err := s.numbers.NextOrderNumber(ctx)
	if err != nil {
		return ErrPlaceOrderFailed.Wrap(err)
	}
	now := s.now()
	order := domain.Order{
		ID:         number,
		Number:     number,
		Status:     domain.OrderStatusPending,
		CreatedVia: checkoutCreatedVia,
		Billing:    orderAddress(p.cmd.Billing, true),
		Shipping:   orderAddress(p.cmd.Shipping, false),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	applyCartToOrder(&order, p.loaded.Cart)
	order.SetMeta(domain.OrderMetaSessionKey, p.loaded.Snapshot.Key)
	order.SetMeta(domain.OrderMetaIsGokwikOrder, "true")

	created, err := s.orders.Insert(ctx, order)
	if err != nil {
		return ErrPlaceOrderFailed.Wrap(err)
	}
	p.order = created
	return nil
}

// orderAddress cleans a supplied address block. Companies are never copied; billing phones are
// normalised and shipping phones dropped.
func orderAddress(input OrderAddressInput, billing bool) domain.OrderAddress {
	get := func(key string) string {
		return textutil.CleanText(input[key])
	}
	address := domain.OrderAddress{
		FirstName: get("first_name"),
		LastName:  get("last_name"),
		Address1:  get("address_1"),
		Address2:  get("address_2"),
		City:      get("city"),
		State:     NormalizeState(get("state")),
		Postcode:  get("postcode"),
		Country:   get("country"),
	}
	if billing {
		address.Email = get("email")
		if phone := get("phone"); phone != "" {
			address.Phone = FormatPhone(phone)
		}
	}
	return address
}

func (s *orderPlacementService) bindPaymentMethod(p *placement) {
	gateway, err := s.gateways.Lookup(p.method)
	if err != nil {
		p.warn(placementStepPayment, err)
		p.order.PaymentMethod = p.method
		return
	}
	p.order.PaymentMethod = gateway.ID
	p.order.PaymentMethodTitle = gateway.Title
}

// bindCustomer attaches the shopper account to the order, registering guests when the merchant asks for it.
func (s *orderPlacementService) bindCustomer(ctx context.Context, p *placement) {
	email := strings.TrimSpace(p.loaded.Snapshot.CustomerEmail)
	if email == "" {
		email = p.order.Billing.Email
	}

	account := p.loaded.Account
	if account == nil && email != "" {
		found, err := s.customers.FindByEmail(ctx, email)
		switch {
		case err == nil:
			account = &found
		case !isRepoNotFound(err):
			p.warn(placementStepCustomer, err)
			return
		}
	}
	if account == nil && email != "" && p.loaded.Merchant.RegisterAfterCheckout {
		registered, err := s.registerCustomer(ctx, p, email)
		if err != nil {
			p.warn(placementStepCustomer, err)
			return
		}
		account = &registered
	}
	if account != nil {
		p.order.CustomerID = account.ID
	}
}

func (s *orderPlacementService) registerCustomer(ctx context.Context, p *placement, email string) (domain.Customer, error) {
	billing := p.order.Billing
	username, err := s.availableUsername(ctx, billing.FirstName, billing.LastName, email)
	if err != nil {
		return domain.Customer{}, err
	}

	meta := addressMeta("billing_", billing)
	for key, value := range addressMeta("shipping_", p.order.Shipping) {
		meta[key] = value
	}
	meta["billing_email"] = email
	if p.loaded.Merchant.OTPLoginIntegration && billing.Phone != "" {
		meta["digt_countrycode"] = indianDialCode
		meta["digits_phone_no"] = strings.TrimPrefix(billing.Phone, indianDialCode)
		meta["digits_phone"] = billing.Phone
	}

	now := s.now()
	first := titleCase(billing.FirstName)
	last := titleCase(billing.LastName)
	customer, err := s.customers.Insert(ctx, domain.Customer{
		Email:       email,
		Username:    username,
		FirstName:   first,
		LastName:    last,
		DisplayName: strings.TrimSpace(first + " " + last),
		Meta:        meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logger(ctx, "order_placement.customer_registered", map[string]any{
		"customerID": customer.ID,
		"orderID":    p.order.ID,
	})

	if s.identities != nil {
		uid, err := s.identities.ProvisionIdentity(ctx, customer, billing.Phone)
		if err != nil {
			p.warn(placementStepIdentity, err)
			return customer, nil
		}
		if err := s.customers.SetFirebaseUID(ctx, customer.ID, uid); err != nil {
			p.warn(placementStepIdentity, err)
			return customer, nil
		}
		customer.FirebaseUID = uid
	}
	return customer, nil
}

// availableUsername derives first.last (or the email local part) and appends _1, _2 … until unused.
func (s *orderPlacementService) availableUsername(ctx context.Context, first, last, email string) (string, error) {
	base := strings.ToLower(strings.TrimSpace(first) + "." + strings.TrimSpace(last))
	base = strings.Join(strings.Fields(base), "")
	if strings.Trim(base, ".") == "" {
		base = strings.ToLower(strings.SplitN(email, "@", 2)[0])
	}
	candidate := base
	for i := 1; i <= maxUsernameAttempts; i++ {
		exists, err := s.customers.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
	return base + "_" + strings.ToLower(ulid.Make().String()), nil
}

func addressMeta(prefix string, address domain.OrderAddress) map[string]string {
	values := map[string]string{
		"first_name": address.FirstName,
		"last_name":  address.LastName,
		"address_1":  address.Address1,
		"address_2":  address.Address2,
		"city":       address.City,
		"state":      address.State,
		"postcode":   address.Postcode,
		"country":    address.Country,
		"phone":      address.Phone,
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		if value != "" {
			out[prefix+key] = value
		}
	}
	return out
}

func (s *orderPlacementService) applyAttribution(p *placement) {
	p.order.CustomerIP = strings.TrimSpace(p.cmd.CustomerIP)
	userAgent := textutil.CleanText(p.cmd.CustomerUserAgent)
	p.order.CustomerUserAgent = userAgent
	if userAgent != "" {
		p.order.SetMeta(domain.OrderMetaUserAgent, userAgent)
	}
}

// applyMetadata copies the supplied meta entries and mirrors the GST number for field-editor stores.
func (s *orderPlacementService) applyMetadata(p *placement) {
	for _, entry := range p.cmd.Meta {
		key := strings.TrimSpace(entry.Key)
		value := textutil.CleanText(entry.Value)
		if key == "" || value == "" {
			continue
		}
		if key == domain.OrderMetaGSTNumber {
			value = strings.ToUpper(value)
		}
		p.order.SetMeta(key, value)
	}

	rule := p.loaded.Merchant.GSTMirror
	gst := p.order.MetaString(domain.OrderMetaGSTNumber)
	if gst == "" || !rule.Matches(p.cmd.Host) {
		return
	}
	name := strings.TrimSpace(rule.FieldName)
	if name == "" {
		name = defaultGSTFieldName
	}
	label := strings.TrimSpace(rule.FieldLabel)
	if label == "" {
		label = defaultGSTFieldLabel
	}
	p.order.SetMeta(domain.OrderMetaFieldEditorBlock, map[string]any{
		"billing": []map[string]any{{
			"type":               "text",
			"meta_id":            false,
			"name":               name,
			"label":              label,
			"value":              gst,
			"priority":           130,
			"col":                6,
			"show_in_email":      true,
			"show_in_order_page": true,
		}},
	})
}

func (s *orderPlacementService) applyPayment(p *placement) {
	txID := textutil.CleanText(p.cmd.TransactionID)
	if txID != "" && !p.isPaid {
		p.order.TransactionID = txID
		p.order.SetMeta(domain.OrderMetaAdvanceTransaction, txID)
	}
	if p.isPaid {
		paidAt := s.now()
		p.order.DatePaid = &paidAt
		if txID != "" {
			p.order.TransactionID = txID
		}
		p.order.Status = domain.OrderStatusProcessing
	}
	if domain.ParseOrderStatus(p.cmd.Status) == domain.OrderStatusProcessing {
		p.order.Status = domain.OrderStatusProcessing
	}
}

// applyFeeLines materialises the wallet and prepaid discounts the hosted checkout applied as negative fees.
func (s *orderPlacementService) applyFeeLines(p *placement) {
	for _, fee := range p.cmd.FeeLines {
		name := strings.TrimSpace(fee.Name)
		total, err := domain.ParseAmount(fee.Total)
		if err != nil || total.IsZero() {
			continue
		}
		negative := total.Abs().Neg()
		switch {
		case name == domain.FeeNameWalletApplied:
			p.order.FeeLines = append(p.order.FeeLines, domain.OrderFeeLine{
				ID:        ulid.Make().String(),
				Name:      domain.FeeNameWalletApplied,
				Total:     negative,
				TotalTax:  decimal.Zero,
				TaxStatus: domain.FeeTaxNone,
			})
		case strings.TrimSpace(fee.DiscountSource) == domain.DiscountSourcePrepaid:
			if name == "" {
				name = domain.FeeNamePrepaidDiscount
			}
			p.order.RemoveFeeLines(name)
			p.order.FeeLines = append(p.order.FeeLines, domain.OrderFeeLine{
				ID:             ulid.Make().String(),
				Name:           name,
				Total:          negative,
				TotalTax:       decimal.Zero,
				TaxStatus:      domain.FeeTaxNone,
				DiscountSource: domain.DiscountSourcePrepaid,
			})
		}
	}
}

func (s *orderPlacementService) CheckOrderExists(ctx context.Context, cmd CheckOrderExistsCommand) (ExistingOrder, error) {
	key := strings.TrimSpace(cmd.SessionKey)
	email := strings.ToLower(strings.TrimSpace(cmd.CustomerEmail))
	if key == "" || email == "" {
		return ExistingOrder{}, ErrMissingParameters
	}
	order, err := s.orders.FindLatest(ctx, repositories.OrderLookupFilter{
		SessionKey:    key,
		Status:        domain.OrderStatusProcessing,
		PaymentMethod: domain.PaymentMethodPrepaid,
		BillingEmail:  email,
		CreatedAfter:  s.now().Add(-orderExistsWindow),
	})
	if err != nil {
		if isRepoNotFound(err) {
			return ExistingOrder{}, ErrNoOrderFound
		}
		return ExistingOrder{}, dependencyError(err)
	}
	return ExistingOrder{OrderID: order.ID}, nil
}

func (s *orderPlacementService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (OrderStatusChange, error) {
	orderID := strings.TrimSpace(cmd.MerchantOrderID)
	rawStatus := strings.TrimSpace(cmd.OrderStatus)
	if orderID == "" || rawStatus == "" {
		return OrderStatusChange{}, ErrMissingParameters
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return OrderStatusChange{}, ErrOrderNotFound
		}
		return OrderStatusChange{}, dependencyError(err)
	}
	if !order.IsCheckoutOrder() {
		return OrderStatusChange{}, ErrInvalidOrder
	}
	next := domain.ParseOrderStatus(rawStatus)
	if !next.Valid() {
		return OrderStatusChange{}, ErrInvalidOrderStatus
	}

	change := OrderStatusChange{OrderID: order.ID, OldStatus: order.Status, NewStatus: next}
	if order.Status == next {
		return change, nil
	}
	order.Status = next
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return OrderStatusChange{}, dependencyError(err)
	}
	s.logger(ctx, "order_placement.status_updated", map[string]any{
		"orderID":   order.ID,
		"oldStatus": string(change.OldStatus),
		"newStatus": string(next),
	})
	return change, nil
}
