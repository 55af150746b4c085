package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/services"
)

func newCartRouter(h *CartHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/cart", h.Routes)
	return router
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return body
}

func TestCartHandlersGetCartSuccess(t *testing.T) {
	sessions := &stubSessionService{
		getCartFunc: func(_ context.Context, cmd services.GetCartCommand) (services.CartView, error) {
			if cmd.SessionKey != "t_abc" {
				t.Fatalf("unexpected session key %q", cmd.SessionKey)
			}
			return services.CartView{
				CustomerEmail:         "asha@example.com",
				Customer:              map[string]any{"phone": "9876543210"},
				Items:                 []map[string]any{{"product_id": "11", "quantity": 2}},
				CouponApplied:         []string{"save10"},
				ChosenShippingMethods: map[string]string{"0": "flat_rate:1"},
				ChosenPaymentMethod:   domain.PaymentMethodCOD,
				PaymentMethods: []services.PaymentMethodOption{
					{PaymentMethod: domain.PaymentMethodCOD, Amount: decimal.RequireFromString("1040"), Charge: decimal.RequireFromString("40")},
					{PaymentMethod: domain.PaymentMethodPrepaid, Amount: decimal.RequireFromString("1040"), Discount: decimal.RequireFromString("52")},
				},
				Totals: map[string]any{"total": "1040.00"},
			}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(sessions, nil))

	req := httptest.NewRequest(http.MethodPost, "/cart/", strings.NewReader(`{"session_key":"t_abc"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["user_id"] != "0" {
		t.Fatalf("expected anonymous user id 0, got %v", body["user_id"])
	}
	if body["customer_email"] != "asha@example.com" {
		t.Fatalf("unexpected customer email %v", body["customer_email"])
	}
	methods, ok := body["payment_methods"].([]any)
	if !ok || len(methods) != 2 {
		t.Fatalf("expected two payment methods, got %v", body["payment_methods"])
	}
	cod := methods[0].(map[string]any)
	if cod["payment_method"] != "cod" || cod["charge"] != "40.00" || cod["amount"] != "1040.00" {
		t.Fatalf("unexpected cod payload %v", cod)
	}
	chosen := body["chosen_shipping_method"].(map[string]any)
	if chosen["0"] != "flat_rate:1" {
		t.Fatalf("unexpected chosen shipping %v", chosen)
	}
}

func TestCartHandlersGetCartMapsCheckoutErrors(t *testing.T) {
	sessions := &stubSessionService{
		getCartFunc: func(context.Context, services.GetCartCommand) (services.CartView, error) {
			return services.CartView{}, services.ErrCartEmpty
		},
	}
	router := newCartRouter(NewCartHandlers(sessions, nil))

	req := httptest.NewRequest(http.MethodPost, "/cart/?session_key=t_abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["code"] != "gc_cart_has_no_items" {
		t.Fatalf("unexpected code %v", body["code"])
	}
	data := body["data"].(map[string]any)
	if data["status"].(float64) != http.StatusBadRequest {
		t.Fatalf("expected status in data, got %v", data)
	}
}

func TestCartHandlersUnexpectedErrorsAreMasked(t *testing.T) {
	sessions := &stubSessionService{
		getCartFunc: func(context.Context, services.GetCartCommand) (services.CartView, error) {
			return services.CartView{}, errors.New("firestore: deadline exceeded")
		},
	}
	router := newCartRouter(NewCartHandlers(sessions, nil))

	req := httptest.NewRequest(http.MethodPost, "/cart/", strings.NewReader(`{"session_key":"t_abc"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "deadline") {
		t.Fatalf("internal error text leaked: %s", rr.Body.String())
	}
}

func TestCartHandlersGetCoupons(t *testing.T) {
	sessions := &stubSessionService{
		getCouponsFunc: func(_ context.Context, sessionKey string) ([]services.CouponSummary, error) {
			if sessionKey != "42" {
				t.Fatalf("unexpected session key %q", sessionKey)
			}
			return []services.CouponSummary{
				{Code: "save10", Amount: "100.00", DiscountType: "percent", DiscountValue: "10", WithCart: true},
				{Code: "flat50", Amount: "50", DiscountType: "fixed_cart"},
			}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(sessions, nil))

	req := httptest.NewRequest(http.MethodGet, "/cart/get-coupons?session_key=42", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	coupons := decodeBody(t, rr)["coupons"].([]any)
	if len(coupons) != 2 {
		t.Fatalf("expected two coupons, got %d", len(coupons))
	}
	first := coupons[0].(map[string]any)
	if first["discount_value"] != "10" {
		t.Fatalf("expected discount value with cart, got %v", first)
	}
	if _, ok := coupons[1].(map[string]any)["discount_value"]; ok {
		t.Fatal("expected discount value omitted without cart")
	}
}

func TestCartHandlersApplyAndRemoveCoupon(t *testing.T) {
	var applied, removed services.CouponCommand
	sessions := &stubSessionService{
		applyCouponFunc: func(_ context.Context, cmd services.CouponCommand) (services.MessageResult, error) {
			applied = cmd
			return services.MessageResult{Message: "Coupon was successfully added to cart."}, nil
		},
		removeCouponFunc: func(_ context.Context, cmd services.CouponCommand) (services.MessageResult, error) {
			removed = cmd
			return services.MessageResult{}, services.ErrCouponDoesNotExist
		},
	}
	router := newCartRouter(NewCartHandlers(sessions, nil))

	req := httptest.NewRequest(http.MethodPost, "/cart/apply-coupon", strings.NewReader(`{"session_key":"t_1","coupon":"SAVE10"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("apply: expected 200, got %d", rr.Code)
	}
	if applied.Code != "SAVE10" || applied.SessionKey != "t_1" {
		t.Fatalf("unexpected apply command %+v", applied)
	}
	if decodeBody(t, rr)["message"] != "Coupon was successfully added to cart." {
		t.Fatalf("unexpected apply message %s", rr.Body.String())
	}

	form := url.Values{"session_key": {"t_1"}, "coupon": {"GONE"}}
	req = httptest.NewRequest(http.MethodPost, "/cart/remove-coupon", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if removed.Code != "GONE" {
		t.Fatalf("expected form-encoded coupon, got %+v", removed)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("coupon errors keep status 200, got %d", rr.Code)
	}
	if decodeBody(t, rr)["code"] != "gc_cart_coupon_does_not_exist" {
		t.Fatalf("unexpected remove response %s", rr.Body.String())
	}
}

func TestCartHandlersCouponErrorsAnswer200(t *testing.T) {
	for _, svcErr := range []*services.CheckoutError{
		services.ErrCouponDoesNotExist,
		services.ErrCouponInvalid,
		services.ErrCouponUsageExhausted,
	} {
		t.Run(svcErr.Code, func(t *testing.T) {
			sessions := &stubSessionService{
				applyCouponFunc: func(context.Context, services.CouponCommand) (services.MessageResult, error) {
					return services.MessageResult{}, svcErr
				},
			}
			router := newCartRouter(NewCartHandlers(sessions, nil))

			req := httptest.NewRequest(http.MethodPost, "/cart/apply-coupon", strings.NewReader(`{"session_key":"t_1","coupon":"SAVE10"}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["code"] != svcErr.Code {
				t.Fatalf("unexpected body %s", rr.Body.String())
			}
			if data, _ := body["data"].(map[string]any); data["status"] != float64(http.StatusOK) {
				t.Fatalf("expected envelope status 200, got %s", rr.Body.String())
			}
		})
	}
}

func TestCartHandlersSetAddressSkipsEmptyFields(t *testing.T) {
	var got services.SetAddressCommand
	sessions := &stubSessionService{
		setAddressFunc: func(_ context.Context, cmd services.SetAddressCommand) (services.MessageResult, error) {
			got = cmd
			return services.MessageResult{Message: "Address successfully updated."}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(sessions, nil))

	payload := `{"session_key":"7","first_name":"Asha","city":"","last_name":"   ","state":"Karnataka","postcode":560001,"customerEmail":"asha@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/cart/set-address", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, ok := got.Fields["city"]; ok {
		t.Fatal("empty city should not be forwarded")
	}
	if _, ok := got.Fields["last_name"]; ok {
		t.Fatal("whitespace-only last name should not be forwarded")
	}
	if got.Fields["postcode"] != "560001" || got.Fields["state"] != "Karnataka" || got.Fields["first_name"] != "Asha" {
		t.Fatalf("unexpected fields %+v", got.Fields)
	}
	if got.CustomerEmail != "asha@example.com" {
		t.Fatalf("unexpected email %q", got.CustomerEmail)
	}
}

func TestCartHandlersSetShippingMethodAcceptsListAndObject(t *testing.T) {
	var calls []map[string]string
	sessions := &stubSessionService{
		setShippingFunc: func(_ context.Context, cmd services.SetShippingMethodCommand) (services.MessageResult, error) {
			calls = append(calls, cmd.Methods)
			return services.MessageResult{Message: "Shipping method successfully updated."}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(sessions, nil))

	for _, payload := range []string{
		`{"session_key":"t","shipping_methods":["flat_rate:1"]}`,
		`{"session_key":"t","shipping_methods":{"0":"flat_rate:1"}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/cart/set-shipping-method", strings.NewReader(payload))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	for i, methods := range calls {
		if methods["0"] != "flat_rate:1" {
			t.Fatalf("call %d: unexpected methods %v", i, methods)
		}
	}
}

func TestCartHandlersWalletEndpoints(t *testing.T) {
	var deducted services.DeductWalletCommand
	sessions := &stubSessionService{
		walletBalanceFunc: func(_ context.Context, email string) (services.WalletBalance, error) {
			if email != "asha@example.com" {
				t.Fatalf("unexpected email %q", email)
			}
			return services.WalletBalance{CustomerID: "cust-9", Balance: decimal.RequireFromString("250.5")}, nil
		},
		deductWalletFunc: func(_ context.Context, cmd services.DeductWalletCommand) (services.WalletDeduction, error) {
			deducted = cmd
			return services.WalletDeduction{TransactionID: "txn-1"}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(sessions, nil))

	req := httptest.NewRequest(http.MethodPost, "/cart/get-wallet-balance", strings.NewReader(`{"customer_email":"asha@example.com"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	body := decodeBody(t, rr)
	if body["customer_id"] != "cust-9" || body["wallet_balance"] != "250.50" {
		t.Fatalf("unexpected balance payload %v", body)
	}

	req = httptest.NewRequest(http.MethodPost, "/cart/deduct-wallet-balance", strings.NewReader(`{"email":"asha@example.com","amount":120.25}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if decodeBody(t, rr)["transaction_id"] != "txn-1" {
		t.Fatalf("unexpected deduct payload %s", rr.Body.String())
	}
	if deducted.Amount != "120.25" || deducted.Note != defaultWalletNote {
		t.Fatalf("unexpected deduct command %+v", deducted)
	}
}

func TestCartHandlersPlaceOrder(t *testing.T) {
	var got services.PlaceOrderCommand
	orders := &stubOrderService{
		placeFunc: func(_ context.Context, cmd services.PlaceOrderCommand) (services.PlacedOrder, error) {
			got = cmd
			return services.PlacedOrder{
				OrderID:  "1001",
				Warnings: []services.IntegrityWarning{{Step: "customer_note", Message: "write failed"}},
			}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, orders))

	payload := `{
		"session_key": "t_abc",
		"billing": {"first_name": "Asha", "phone": "+91 98765 43210", "state": "KA"},
		"shipping": {"first_name": "Asha"},
		"payment_method": "gokwik_prepaid",
		"status": "processing",
		"transaction_id": "gk-1",
		"set_paid": true,
		"order_total": 1040,
		"fee_lines": [{"name": "Prepaid Discount", "total": "-52", "discount_source": "gkp"}],
		"meta_data": [{"key": "gokwik_order_id", "value": "GK-9"}, {"value": "ignored"}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/cart/place-order", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["id"] != "1001" {
		t.Fatalf("unexpected order id %v", body["id"])
	}
	if warnings := body["warnings"].([]any); len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
	if !got.SetPaid || got.OrderTotal != "1040" || got.Billing["state"] != "KA" {
		t.Fatalf("unexpected command %+v", got)
	}
	if len(got.FeeLines) != 1 || got.FeeLines[0].DiscountSource != "gkp" || got.FeeLines[0].Total != "-52" {
		t.Fatalf("unexpected fee lines %+v", got.FeeLines)
	}
	if len(got.Meta) != 1 || got.Meta[0].Key != "gokwik_order_id" {
		t.Fatalf("unexpected meta %+v", got.Meta)
	}
}

func TestCartHandlersPlaceOrderUsesIdempotencyGuard(t *testing.T) {
	guarded := 0
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guarded++
			next.ServeHTTP(w, r)
		})
	}
	router := newCartRouter(NewCartHandlers(&stubSessionService{}, &stubOrderService{}, WithCartIdempotency(guard)))

	for _, path := range []string{"/cart/place-order", "/cart/deduct-wallet-balance", "/cart/set-payment-method"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
	if guarded != 2 {
		t.Fatalf("expected guard on two routes, got %d", guarded)
	}
}

func TestCartHandlersCheckOrderExists(t *testing.T) {
	found := true
	orders := &stubOrderService{
		existsFunc: func(_ context.Context, cmd services.CheckOrderExistsCommand) (services.ExistingOrder, error) {
			if !found {
				return services.ExistingOrder{}, services.ErrNoOrderFound
			}
			return services.ExistingOrder{OrderID: "1001"}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, orders))

	req := httptest.NewRequest(http.MethodPost, "/cart/check-order-exists", strings.NewReader(`{"session_key":"t","customer_email":"a@b.c"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	body := decodeBody(t, rr)
	if rr.Code != http.StatusOK || body["message"] != "Order exists." || body["order_id"] != "1001" {
		t.Fatalf("unexpected response %d %v", rr.Code, body)
	}

	found = false
	req = httptest.NewRequest(http.MethodPost, "/cart/check-order-exists", strings.NewReader(`{"session_key":"t","customer_email":"a@b.c"}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	body = decodeBody(t, rr)
	if rr.Code != http.StatusNotFound || body["message"] != "No order found." {
		t.Fatalf("unexpected response %d %v", rr.Code, body)
	}
}

func TestCartHandlersUpdateOrderStatus(t *testing.T) {
	orders := &stubOrderService{
		statusFunc: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.OrderStatusChange, error) {
			if cmd.MerchantOrderID != "1001" || cmd.OrderStatus != "cancelled" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.OrderStatusChange{OrderID: "1001", OldStatus: domain.OrderStatusPending, NewStatus: domain.OrderStatusCancelled}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, orders))

	req := httptest.NewRequest(http.MethodPost, "/cart/update-order-status", strings.NewReader(`{"merchant_order_id":1001,"order_status":"cancelled"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	body := decodeBody(t, rr)
	if body["old_status"] != "pending" || body["new_status"] != "cancelled" || body["order_id"] != "1001" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCartHandlersRejectMalformedJSON(t *testing.T) {
	router := newCartRouter(NewCartHandlers(&stubSessionService{}, nil))

	req := httptest.NewRequest(http.MethodPost, "/cart/set-payment-method", strings.NewReader(`{"session_key":`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	router := newCartRouter(NewCartHandlers(nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/cart/place-order", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
