package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/services"
)

// CartHandlers exposes the session-bound cart endpoints driven by the hosted checkout.
type CartHandlers struct {
	sessions services.CheckoutSessionService
	orders   services.OrderPlacementService
	guard    func(http.Handler) http.Handler
}

// CartOption customises the cart handlers.
type CartOption func(*CartHandlers)

// WithCartIdempotency guards the money-moving endpoints (place-order, deduct-wallet-balance) with
// the given middleware.
func WithCartIdempotency(mw func(http.Handler) http.Handler) CartOption {
	return func(h *CartHandlers) {
		h.guard = mw
	}
}

// NewCartHandlers constructs the cart handlers.
func NewCartHandlers(sessions services.CheckoutSessionService, orders services.OrderPlacementService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{sessions: sessions, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	guarded := r
	if h.guard != nil {
		guarded = r.With(h.guard)
	}

	r.Post("/", h.getCart)
	r.Get("/get-coupons", h.getCoupons)
	r.Post("/apply-coupon", h.applyCoupon)
	r.Post("/remove-coupon", h.removeCoupon)
	r.Post("/set-address", h.setAddress)
	r.Post("/set-shipping-method", h.setShippingMethod)
	r.Post("/set-payment-method", h.setPaymentMethod)
	r.Post("/get-wallet-balance", h.getWalletBalance)
	guarded.Post("/deduct-wallet-balance", h.deductWalletBalance)
	guarded.Post("/place-order", h.placeOrder)
	r.Post("/check-order-exists", h.checkOrderExists)
	r.Post("/update-order-status", h.updateOrderStatus)
}

type messageResponse struct {
	Message string `json:"message"`
}

type paymentMethodPayload struct {
	PaymentMethod string `json:"payment_method"`
	Amount        string `json:"amount"`
	Charge        string `json:"charge"`
	Discount      string `json:"discount"`
}

type cartPayload struct {
	UserID               string                 `json:"user_id"`
	CustomerEmail        *string                `json:"customer_email"`
	Customer             map[string]any         `json:"customer"`
	Items                []map[string]any       `json:"items"`
	CouponApplied        []string               `json:"coupon_applied"`
	ChosenShippingMethod map[string]string      `json:"chosen_shipping_method"`
	ChosenPaymentMethod  string                 `json:"chosen_payment_method"`
	ShippingMethods      []map[string]any       `json:"shipping_methods"`
	PaymentMethods       []paymentMethodPayload `json:"payment_methods"`
	Totals               map[string]any         `json:"totals"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	view, err := h.sessions.GetCart(ctx, services.GetCartCommand{SessionKey: params.String("session_key")})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(view))
}

func buildCartPayload(view services.CartView) cartPayload {
	payload := cartPayload{
		UserID:               view.UserID,
		Customer:             view.Customer,
		Items:                view.Items,
		CouponApplied:        view.CouponApplied,
		ChosenShippingMethod: view.ChosenShippingMethods,
		ChosenPaymentMethod:  view.ChosenPaymentMethod,
		ShippingMethods:      view.ShippingMethods,
		PaymentMethods:       make([]paymentMethodPayload, 0, len(view.PaymentMethods)),
		Totals:               view.Totals,
	}
	if email := strings.TrimSpace(view.CustomerEmail); email != "" {
		payload.CustomerEmail = &email
	}
	if payload.UserID == "" {
		payload.UserID = "0"
	}
	if payload.Customer == nil {
		payload.Customer = map[string]any{}
	}
	if payload.Items == nil {
		payload.Items = []map[string]any{}
	}
	if payload.CouponApplied == nil {
		payload.CouponApplied = []string{}
	}
	if payload.ChosenShippingMethod == nil {
		payload.ChosenShippingMethod = map[string]string{}
	}
	if payload.ShippingMethods == nil {
		payload.ShippingMethods = []map[string]any{}
	}
	for _, option := range view.PaymentMethods {
		payload.PaymentMethods = append(payload.PaymentMethods, paymentMethodPayload{
			PaymentMethod: option.PaymentMethod,
			Amount:        domain.FormatAmount(option.Amount),
			Charge:        domain.FormatAmount(option.Charge),
			Discount:      domain.FormatAmount(option.Discount),
		})
	}
	return payload
}

type couponPayload struct {
	Code          string `json:"code"`
	Amount        string `json:"amount"`
	DiscountType  string `json:"discount_type"`
	Description   string `json:"description"`
	DiscountValue string `json:"discount_value,omitempty"`
}

func (h *CartHandlers) getCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	coupons, err := h.sessions.GetCoupons(ctx, params.String("session_key"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]couponPayload, 0, len(coupons))
	for _, coupon := range coupons {
		item := couponPayload{
			Code:         coupon.Code,
			Amount:       coupon.Amount,
			DiscountType: coupon.DiscountType,
			Description:  coupon.Description,
		}
		if coupon.WithCart {
			item.DiscountValue = coupon.DiscountValue
		}
		items = append(items, item)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"coupons": items})
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	h.couponMutation(w, r, true)
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	h.couponMutation(w, r, false)
}

func (h *CartHandlers) couponMutation(w http.ResponseWriter, r *http.Request, apply bool) {
	ctx := r.Context()
	if h.sessions == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}
	cmd := services.CouponCommand{
		SessionKey: params.String("session_key"),
		Code:       params.String("coupon"),
	}

	var result services.MessageResult
	if apply {
		result, err = h.sessions.ApplyCoupon(ctx, cmd)
	} else {
		result, err = h.sessions.RemoveCoupon(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: result.Message})
}

// addressParams are the set-address parameters copied onto the session customer when non-empty.
var addressParams = []string{
	"first_name", "last_name", "phone", "email", "address_1", "address_2",
	"city", "state", "postcode", "country",
}

func (h *CartHandlers) setAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	fields := make(map[string]string, len(addressParams))
	for _, key := range addressParams {
		if value := params.String(key); value != "" {
			fields[key] = value
		}
	}
	result, err := h.sessions.SetAddress(ctx, services.SetAddressCommand{
		SessionKey:    params.String("session_key"),
		Fields:        fields,
		CustomerEmail: params.String("customerEmail"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: result.Message})
}

func (h *CartHandlers) setShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	result, err := h.sessions.SetShippingMethod(ctx, services.SetShippingMethodCommand{
		SessionKey: params.String("session_key"),
		Methods:    shippingMethodsParam(params),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: result.Message})
}

// shippingMethodsParam accepts either an object keyed by package or a list indexed by package.
func shippingMethodsParam(params requestParams) map[string]string {
	if methods := params.StringMap("shipping_methods"); methods != nil {
		return methods
	}
	list, ok := params["shipping_methods"].([]any)
	if !ok {
		return nil
	}
	methods := make(map[string]string, len(list))
	for i, item := range list {
		if value, ok := scalar(item); ok {
			methods[strconv.Itoa(i)] = value
		}
	}
	return methods
}

func (h *CartHandlers) setPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	result, err := h.sessions.SetPaymentMethod(ctx, services.SetPaymentMethodCommand{
		SessionKey:    params.String("session_key"),
		PaymentMethod: params.String("payment_method"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: result.Message})
}

type walletBalancePayload struct {
	CustomerID    string `json:"customer_id"`
	WalletBalance string `json:"wallet_balance"`
}

func (h *CartHandlers) getWalletBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	balance, err := h.sessions.GetWalletBalance(ctx, params.String("customer_email"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, walletBalancePayload{
		CustomerID:    balance.CustomerID,
		WalletBalance: domain.FormatAmount(balance.Balance),
	})
}

const defaultWalletNote = "Balance used for your GoKwik order."

func (h *CartHandlers) deductWalletBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	note := params.String("note")
	if note == "" {
		note = defaultWalletNote
	}
	result, err := h.sessions.DeductWalletBalance(ctx, services.DeductWalletCommand{
		Email:  params.String("email"),
		Amount: params.String("amount"),
		Note:   note,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"transaction_id": result.TransactionID})
}

type placedOrderPayload struct {
	ID       string                      `json:"id"`
	Warnings []services.IntegrityWarning `json:"warnings,omitempty"`
}

func (h *CartHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	cmd := services.PlaceOrderCommand{
		SessionKey:        params.String("session_key"),
		Billing:           services.OrderAddressInput(params.StringMap("billing")),
		Shipping:          services.OrderAddressInput(params.StringMap("shipping")),
		PaymentMethod:     params.String("payment_method"),
		Status:            params.String("status"),
		TransactionID:     params.String("transaction_id"),
		SetPaid:           params.Bool("set_paid"),
		OrderTotal:        params.String("order_total"),
		CustomerIP:        params.String("customer_ip"),
		CustomerUserAgent: params.String("customer_user_agent"),
		Host:              r.Host,
	}
	for _, fee := range params.Objects("fee_lines") {
		cmd.FeeLines = append(cmd.FeeLines, services.FeeLineInput{
			Name:           strings.TrimSpace(scalarString(fee["name"])),
			Total:          strings.TrimSpace(scalarString(fee["total"])),
			DiscountSource: strings.TrimSpace(scalarString(fee["discount_source"])),
		})
	}
	for _, meta := range params.Objects("meta_data") {
		key := strings.TrimSpace(scalarString(meta["key"]))
		if key == "" {
			continue
		}
		cmd.Meta = append(cmd.Meta, services.MetaInput{Key: key, Value: scalarString(meta["value"])})
	}

	placed, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, placedOrderPayload{ID: placed.OrderID, Warnings: placed.Warnings})
}

type orderExistsPayload struct {
	Message string `json:"message"`
	OrderID string `json:"order_id,omitempty"`
}

func (h *CartHandlers) checkOrderExists(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	existing, err := h.orders.CheckOrderExists(ctx, services.CheckOrderExistsCommand{
		SessionKey:    params.String("session_key"),
		CustomerEmail: params.String("customer_email"),
	})
	if err != nil {
		if errors.Is(err, services.ErrNoOrderFound) {
			httpx.WriteJSON(w, http.StatusNotFound, orderExistsPayload{Message: services.ErrNoOrderFound.Message})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderExistsPayload{Message: "Order exists.", OrderID: existing.OrderID})
}

type orderStatusPayload struct {
	Message   string `json:"message"`
	OrderID   string `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

func (h *CartHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	change, err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		MerchantOrderID: params.String("merchant_order_id"),
		OrderStatus:     params.String("order_status"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderStatusPayload{
		Message:   "Order status updated successfully.",
		OrderID:   change.OrderID,
		OldStatus: string(change.OldStatus),
		NewStatus: string(change.NewStatus),
	})
}
