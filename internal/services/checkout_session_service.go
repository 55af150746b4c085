package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/textutil"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	msgCouponAdded          = "Coupon was successfully added to cart."
	msgCouponRemoved        = "Coupon was successfully removed from cart."
	msgAddressUpdated       = "Address successfully updated."
	msgNoChanges            = "No changes requested."
	msgShippingUpdated      = "Shipping method successfully updated."
	msgPaymentMethodSet     = "Payment method successfully set."
	msgPaymentMethodReset   = "Payment method successfully reset."
	defaultWalletDebitNote  = "Balance used for your GoKwik order."
	couponRequiredOnRemoval = "Coupon is required."
)

// addressFieldTargets maps setAddress parameters onto the session customer keys they overwrite.
var addressFieldTargets = []struct {
	param   string
	targets []string
}{
	{param: "first_name", targets: []string{"first_name", "shipping_first_name"}},
	{param: "last_name", targets: []string{"last_name", "shipping_last_name"}},
	{param: "phone", targets: []string{"phone"}},
	{param: "email", targets: []string{"email"}},
	{param: "address_1", targets: []string{"address_1", "address", "shipping_address_1", "shipping_address"}},
	{param: "address_2", targets: []string{"address_2", "shipping_address_2"}},
	{param: "city", targets: []string{"city", "shipping_city"}},
	{param: "state", targets: []string{"state", "shipping_state"}},
	{param: "postcode", targets: []string{"postcode", "shipping_postcode"}},
	{param: "country", targets: []string{"country", "shipping_country"}},
}

// CheckoutSessionServiceDeps wires the collaborators of the checkout session service.
type CheckoutSessionServiceDeps struct {
	Sessions  *SessionStore
	Engine    *CartEngine
	Guard     *EligibilityGuard
	Merchant  MerchantConfigSource
	Customers repositories.CustomerRepository
	Coupons   repositories.CouponRepository
	Gateways  *payments.Registry
	Wallet    WalletLedger
	Recovery  *CartRecovery
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type checkoutSessionService struct {
	loader    *sessionLoader
	sessions  *SessionStore
	guard     *EligibilityGuard
	merchant  MerchantConfigSource
	customers repositories.CustomerRepository
	coupons   repositories.CouponRepository
	gateways  *payments.Registry
	wallet    WalletLedger
	recovery  *CartRecovery
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutSessionService validates dependencies. Wallet and Recovery are optional.
func NewCheckoutSessionService(deps CheckoutSessionServiceDeps) (CheckoutSessionService, error) {
	if deps.Guard == nil {
		return nil, errors.New("checkout session: eligibility guard is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout session: coupon repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("checkout session: gateway registry is required")
	}
	loader, err := newSessionLoader(deps.Sessions, deps.Engine, deps.Customers, deps.Merchant)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutSessionService{
		loader:    loader,
		sessions:  deps.Sessions,
		guard:     deps.Guard,
		merchant:  deps.Merchant,
		customers: deps.Customers,
		coupons:   deps.Coupons,
		gateways:  deps.Gateways,
		wallet:    deps.Wallet,
		recovery:  deps.Recovery,
		logger:    logger,
	}, nil
}

func (s *checkoutSessionService) GetCart(ctx context.Context, cmd GetCartCommand) (CartView, error) {
	loaded, err := s.loader.load(ctx, cmd.SessionKey)
	if err != nil {
		return CartView{}, err
	}
	cart := loaded.Cart
	merchant := loaded.Merchant
	snapshot := loaded.Snapshot

	codBlocked := HasCodBlock(cart.SnapshotLines(), merchant.CodBlock, merchant.MerchantID)
	if cart.Empty() {
		return CartView{}, ErrCartEmpty
	}

	removed, err := cart.ReconcileCoupons(ctx, snapshot.CustomerEmail, loaded.AccountEmail())
	if err != nil {
		return CartView{}, err
	}
	for _, code := range removed {
		if err := s.sessions.RemoveCoupon(ctx, snapshot.Key, code); err != nil {
			s.logger(ctx, "checkout_session.coupon_cleanup_failed", map[string]any{
				"sessionKey": snapshot.Key,
				"coupon":     code,
				"error":      err.Error(),
			})
		}
	}

	chosenShipping := snapshot.ChosenShippingMethods
	if len(chosenShipping) == 0 {
		chosenShipping = cart.ChosenShippingRates()
	}

	view := CartView{
		UserID:                loaded.AccountID(),
		CustomerEmail:         snapshot.CustomerEmail,
		Customer:              snapshot.Customer.Fields(),
		Items:                 cart.SerializeLineItems(),
		CouponApplied:         cart.AppliedCouponCodes(),
		ChosenShippingMethods: chosenShipping,
		ChosenPaymentMethod:   snapshot.ChosenPaymentMethod,
		ShippingMethods:       cart.ShippingMethods(),
		PaymentMethods:        s.paymentOptions(ctx, loaded, codBlocked),
		Totals:                cart.TotalsMap(),
	}

	if s.recovery != nil {
		s.recovery.Track(ctx, loaded)
	}
	if loaded.SessionAccount != nil {
		if err := s.customers.SavePersistentCart(ctx, loaded.SessionAccount.ID, cart.SnapshotLines()); err != nil {
			s.logger(ctx, "checkout_session.persistent_cart_failed", map[string]any{
				"customerID": loaded.SessionAccount.ID,
				"error":      err.Error(),
			})
		}
	}
	return view, nil
}

// paymentOptions lists the cod and prepaid methods with their pricing. COD eligibility failures hide
// COD instead of failing the cart read.
func (s *checkoutSessionService) paymentOptions(ctx context.Context, loaded *loadedSession, codBlocked bool) []PaymentMethodOption {
	cart := loaded.Cart
	merchant := loaded.Merchant

	codOK, err := s.guard.IsCodAvailable(ctx, cart.CodCart(), merchant.CodRestrictions)
	if err != nil {
		s.logger(ctx, "checkout_session.cod_check_failed", map[string]any{
			"sessionKey": loaded.Snapshot.Key,
			"error":      err.Error(),
		})
		codOK = false
	}
	visible := s.gateways.Visible(ctx, payments.VisibilityContext{
		CheckoutEnabled: true,
		CodAvailable:    merchant.CodGatewayEnabled && codOK,
		CodBlocked:      codBlocked,
	})

	base := cart.PricingBase()
	options := make([]PaymentMethodOption, 0, 2)
	for _, gateway := range visible {
		if gateway.ID != payments.GatewayCOD && gateway.ID != payments.GatewayPrepaid {
			continue
		}
		option := PaymentMethodOption{
			PaymentMethod: gateway.ID,
			Amount:        cart.Total(),
			Charge:        decimal.Zero,
			Discount:      decimal.Zero,
		}
		if rules, ok := merchant.RulesFor(gateway.ID); ok {
			result := ComputeFeeAndDiscount(base, rules)
			option.Charge = result.Fee
			option.Discount = result.Discount
		}
		options = append(options, option)
	}
	return options
}

func (s *checkoutSessionService) GetCoupons(ctx context.Context, sessionKey string) ([]CouponSummary, error) {
	merchant := s.merchant.Current(ctx)
	listing := merchant.Coupons
	if !listing.Enabled {
		return []CouponSummary{}, nil
	}

	var (
		loaded        *loadedSession
		customerEmail string
		validOnly     bool
	)
	if strings.TrimSpace(sessionKey) != "" {
		var err error
		loaded, err = s.loader.load(ctx, sessionKey)
		if err != nil {
			return nil, err
		}
		customerEmail = strings.TrimSpace(loaded.Snapshot.CustomerEmail)
		validOnly = listing.ShowValidCouponsOnly
	}

	coupons, err := s.coupons.ListByIDs(ctx, listing.SelectedCouponIDs)
	if err != nil {
		return nil, dependencyError(err)
	}
	if customerEmail != "" && listing.ShowUserSpecific {
		restricted, err := s.coupons.ListRestrictedToEmail(ctx, customerEmail)
		if err != nil {
			return nil, dependencyError(err)
		}
		coupons = append(coupons, restricted...)
	}

	withCart := loaded != nil && !loaded.Cart.Empty()
	seen := make(map[string]struct{}, len(coupons))
	out := make([]CouponSummary, 0, len(coupons))
	for _, coupon := range coupons {
		code := domain.NormalizeCouponCode(coupon.Code)
		if _, dup := seen[code]; dup || code == "" {
			continue
		}
		seen[code] = struct{}{}
		if coupon.Status != "" && coupon.Status != domain.CouponStatusPublished {
			continue
		}

		if validOnly {
			if loaded.Cart.ValidateCoupon(coupon) != nil {
				continue
			}
			if customerEmail != "" && !CheckCouponUsage(coupon, customerEmail, loaded.AccountEmail()) {
				continue
			}
		}

		summary := CouponSummary{
			Code:         coupon.Code,
			Amount:       domain.FormatAmount(coupon.Amount),
			DiscountType: string(coupon.DiscountType),
			Description:  coupon.Description,
		}
		if withCart {
			amount := coupon.Amount
			if coupon.DiscountType == domain.CouponPercent {
				amount = domain.PercentOf(loaded.Cart.Total(), coupon.Amount)
			}
			summary.Amount = domain.FormatAmount(amount)
			summary.DiscountValue = coupon.Amount.String()
			summary.WithCart = true
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *checkoutSessionService) ApplyCoupon(ctx context.Context, cmd CouponCommand) (MessageResult, error) {
	code := domain.NormalizeCouponCode(cmd.Code)
	if code == "" {
		return MessageResult{}, ErrCouponRequired
	}
	loaded, err := s.loader.load(ctx, cmd.SessionKey)
	if err != nil {
		return MessageResult{}, err
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return MessageResult{}, ErrCouponDoesNotExist
		}
		return MessageResult{}, dependencyError(err)
	}

	cart := loaded.Cart
	if err := cart.ValidateCoupon(coupon); err != nil {
		return MessageResult{}, ErrCouponInvalid.Wrap(err)
	}
	if email := strings.TrimSpace(loaded.Snapshot.CustomerEmail); email != "" {
		if !CheckCouponUsage(coupon, email, loaded.AccountEmail()) {
			return MessageResult{}, ErrCouponUsageExhausted
		}
	}

	if !cart.HasCoupon(code) {
		if err := cart.ApplyCoupon(ctx, coupon); err != nil {
			if _, ok := AsCheckoutError(err); ok {
				return MessageResult{}, ErrCouponInvalid.Wrap(err)
			}
			return MessageResult{}, err
		}
		if err := s.sessions.WriteField(ctx, loaded.Snapshot.Key, domain.SessionFieldAppliedCoupons, cart.AppliedCouponCodes()); err != nil {
			return MessageResult{}, err
		}
	}
	return MessageResult{Message: msgCouponAdded}, nil
}

func (s *checkoutSessionService) RemoveCoupon(ctx context.Context, cmd CouponCommand) (MessageResult, error) {
	code := domain.NormalizeCouponCode(cmd.Code)
	if code == "" {
		return MessageResult{}, ErrCouponRequired.WithMessage(couponRequiredOnRemoval)
	}
	snapshot, err := s.sessions.Load(ctx, cmd.SessionKey)
	if err != nil {
		return MessageResult{}, err
	}
	if snapshot.HasCoupon(code) {
		if err := s.sessions.RemoveCoupon(ctx, snapshot.Key, code); err != nil {
			return MessageResult{}, err
		}
	}
	return MessageResult{Message: msgCouponRemoved}, nil
}

func (s *checkoutSessionService) SetAddress(ctx context.Context, cmd SetAddressCommand) (MessageResult, error) {
	snapshot, err := s.sessions.Load(ctx, cmd.SessionKey)
	if err != nil {
		return MessageResult{}, err
	}

	customer := snapshot.Customer
	changed := false
	accountMeta := map[string]string{}
	for _, mapping := range addressFieldTargets {
		raw, ok := cmd.Fields[mapping.param]
		if !ok {
			continue
		}
		// Blank values never clear a stored address field.
		value := textutil.CleanText(strings.TrimSpace(raw))
		if value == "" {
			continue
		}
		if mapping.param == "state" {
			value = NormalizeState(value)
		}
		for _, key := range mapping.targets {
			customer.Set(key, value)
			if key == "address" || key == "shipping_address" {
				continue
			}
			if strings.HasPrefix(key, "shipping_") {
				accountMeta[key] = value
			} else {
				accountMeta["billing_"+key] = value
			}
		}
		changed = true
	}

	emailChanged := false
	if email := strings.TrimSpace(cmd.CustomerEmail); email != "" {
		emailChanged = true
		changed = true
		if err := s.sessions.WriteField(ctx, snapshot.Key, domain.SessionFieldCustomerEmail, textutil.CleanText(email)); err != nil {
			return MessageResult{}, err
		}
	}
	if !changed {
		return MessageResult{Message: msgNoChanges}, nil
	}

	if len(accountMeta) > 0 {
		if err := s.sessions.WriteField(ctx, snapshot.Key, domain.SessionFieldCustomer, customer); err != nil {
			return MessageResult{}, err
		}
		if id, ok := snapshot.AccountID(); ok {
			if err := s.customers.UpdateMeta(ctx, id, accountMeta); err != nil && !isRepoNotFound(err) {
				s.logger(ctx, "checkout_session.account_meta_failed", map[string]any{
					"customerID": id,
					"error":      err.Error(),
				})
			}
		}
	}
	s.logger(ctx, "checkout_session.address_updated", map[string]any{
		"sessionKey":   snapshot.Key,
		"fields":       len(accountMeta),
		"emailChanged": emailChanged,
	})
	return MessageResult{Message: msgAddressUpdated}, nil
}

func (s *checkoutSessionService) SetShippingMethod(ctx context.Context, cmd SetShippingMethodCommand) (MessageResult, error) {
	methods := make(map[string]string, len(cmd.Methods))
	for pkg, rate := range cmd.Methods {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" {
			continue
		}
		methods[pkg] = strings.TrimSpace(rate)
	}
	if len(methods) == 0 {
		if strings.TrimSpace(cmd.SessionKey) == "" {
			return MessageResult{}, ErrSessionMissingKey
		}
		return MessageResult{Message: msgNoChanges}, nil
	}
	if err := s.sessions.WriteField(ctx, cmd.SessionKey, domain.SessionFieldChosenShippingMethods, methods); err != nil {
		return MessageResult{}, err
	}
	return MessageResult{Message: msgShippingUpdated}, nil
}

func (s *checkoutSessionService) SetPaymentMethod(ctx context.Context, cmd SetPaymentMethodCommand) (MessageResult, error) {
	method := strings.TrimSpace(cmd.PaymentMethod)
	if err := s.sessions.WriteField(ctx, cmd.SessionKey, domain.SessionFieldChosenPaymentMethod, method); err != nil {
		return MessageResult{}, err
	}
	if method == "" {
		return MessageResult{Message: msgPaymentMethodReset}, nil
	}
	return MessageResult{Message: msgPaymentMethodSet}, nil
}

func (s *checkoutSessionService) GetWalletBalance(ctx context.Context, customerEmail string) (WalletBalance, error) {
	customer, err := s.walletCustomer(ctx, customerEmail)
	if err != nil {
		return WalletBalance{}, err
	}
	result := WalletBalance{CustomerID: customer.ID, Balance: decimal.Zero}
	if s.wallet == nil || !s.wallet.Active(ctx) {
		return result, nil
	}
	balance, err := s.wallet.Balance(ctx, customer.ID)
	if err != nil {
		return WalletBalance{}, dependencyError(err)
	}
	if balance.IsPositive() {
		result.Balance = domain.RoundMoney(balance)
	}
	return result, nil
}

func (s *checkoutSessionService) DeductWalletBalance(ctx context.Context, cmd DeductWalletCommand) (WalletDeduction, error) {
	if s.wallet == nil || !s.wallet.Active(ctx) {
		return WalletDeduction{}, ErrWalletInactive
	}
	customer, err := s.walletCustomer(ctx, cmd.Email)
	if err != nil {
		return WalletDeduction{}, err
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(cmd.Amount))
	if err != nil || !amount.IsPositive() {
		return WalletDeduction{}, ErrWalletInvalidAmount
	}
	note := textutil.CleanText(cmd.Note)
	if note == "" {
		note = defaultWalletDebitNote
	}

	balance, err := s.wallet.Balance(ctx, customer.ID)
	if err != nil {
		return WalletDeduction{}, ErrWalletTransaction.Wrap(err)
	}
	if balance.LessThan(amount) {
		return WalletDeduction{}, ErrWalletInsufficient
	}
	txID, err := s.wallet.Debit(ctx, customer.ID, amount, note)
	if err != nil {
		s.logger(ctx, "checkout_session.wallet_debit_failed", map[string]any{
			"customerID": customer.ID,
			"amount":     amount.String(),
			"error":      err.Error(),
		})
		return WalletDeduction{}, ErrWalletTransaction.Wrap(err)
	}
	s.logger(ctx, "checkout_session.wallet_debited", map[string]any{
		"customerID":    customer.ID,
		"amount":        amount.String(),
		"transactionID": txID,
	})
	return WalletDeduction{TransactionID: txID}, nil
}

func (s *checkoutSessionService) walletCustomer(ctx context.Context, email string) (domain.Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.Customer{}, ErrMissingCustomerEmail
	}
	customer, err := s.customers.FindByEmail(ctx, email)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Customer{}, ErrCustomerNotFound
		}
		return domain.Customer{}, dependencyError(err)
	}
	return customer, nil
}
