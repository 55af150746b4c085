package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/services"
)

// CheckoutHandlers serves the storefront helpers of the hosted checkout client.
type CheckoutHandlers struct {
	script services.CheckoutScriptService
}

// NewCheckoutHandlers constructs the checkout helper handlers.
func NewCheckoutHandlers(script services.CheckoutScriptService) *CheckoutHandlers {
	return &CheckoutHandlers{script: script}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/config", h.scriptConfig)
	r.Get("/gateways", h.gateways)
	r.Post("/cart-status", h.cartStatus)
	r.Post("/clear-cart", h.clearCart)
}

type scriptConfigPayload struct {
	AjaxURL                 string   `json:"ajaxurl"`
	Environment             string   `json:"environment"`
	MerchantID              string   `json:"mid"`
	IsCheckoutPage          bool     `json:"is_checkout_page"`
	IsCartEmpty             bool     `json:"is_cart_empty"`
	CartURL                 string   `json:"cart_url"`
	CheckoutURL             string   `json:"checkout_url"`
	SessionID               string   `json:"session_id"`
	OverwriteNativeCheckout bool     `json:"overwrite_native_checkout"`
	BuyNowEnabled           bool     `json:"gokwik_buy_now_enabled"`
	IsInternationalUser     bool     `json:"is_international_user"`
	CheckoutFromSideCart    bool     `json:"enable_gokwik_checkout_on_side_cart"`
	CheckoutFromCartPage    bool     `json:"enable_gokwik_checkout_on_cart_page"`
	ScriptURL               string   `json:"script_url"`
	Events                  []string `json:"events"`
	CheckoutEnabled         bool     `json:"checkout_enabled"`
}

func (h *CheckoutHandlers) scriptConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.script == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	cfg, err := h.script.ScriptConfig(ctx, services.ScriptConfigCommand{
		SessionKey:     params.String("session_key"),
		ClientIP:       clientIP(r),
		IsCheckoutPage: params.Bool("is_checkout_page"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, scriptConfigPayload{
		AjaxURL:                 cfg.AjaxURL,
		Environment:             cfg.Environment,
		MerchantID:              cfg.MerchantID,
		IsCheckoutPage:          cfg.IsCheckoutPage,
		IsCartEmpty:             cfg.IsCartEmpty,
		CartURL:                 cfg.CartURL,
		CheckoutURL:             cfg.CheckoutURL,
		SessionID:               cfg.SessionID,
		OverwriteNativeCheckout: cfg.OverwriteNativeCheckout,
		BuyNowEnabled:           cfg.BuyNowEnabled,
		IsInternationalUser:     cfg.IsInternationalUser,
		CheckoutFromSideCart:    cfg.CheckoutFromSideCart,
		CheckoutFromCartPage:    cfg.CheckoutFromCartPage,
		ScriptURL:               cfg.ScriptURL,
		Events:                  cfg.Events,
		CheckoutEnabled:         cfg.CheckoutEnabled,
	})
}

type gatewayPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Prepaid     bool   `json:"prepaid"`
}

func (h *CheckoutHandlers) gateways(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.script == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	gateways, err := h.script.VisibleGateways(ctx, params.String("session_key"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]gatewayPayload, 0, len(gateways))
	for _, gateway := range gateways {
		items = append(items, gatewayPayload{
			ID:          gateway.ID,
			Title:       gateway.Title,
			Description: gateway.Description,
			Prepaid:     gateway.Prepaid,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"gateways": items})
}

type cartStatusPayload struct {
	IsEmpty   bool `json:"is_empty"`
	ItemCount int  `json:"item_count"`
}

func (h *CheckoutHandlers) cartStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.script == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	status, err := h.script.CartStatus(ctx, params.String("session_key"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartStatusPayload{IsEmpty: status.IsEmpty, ItemCount: status.ItemCount})
}

type clearCartPayload struct {
	Success     bool         `json:"success"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	OrderNumber string       `json:"order_number,omitempty"`
	PPCOD       *ppcodObject `json:"ppcod,omitempty"`
}

type ppcodObject struct {
	AdvancePaid string `json:"advance_paid"`
	DueAmount   string `json:"due_amount"`
	Currency    string `json:"currency"`
}

func (h *CheckoutHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.script == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	params, err := readParams(r)
	if err != nil {
		writeParamsError(w, r, err)
		return
	}

	result, err := h.script.ClearCart(ctx, services.ClearCartCommand{
		SessionKey: params.String("session_key"),
		OrderID:    params.String("order_id"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := clearCartPayload{
		Success:     result.Cleared,
		RedirectURL: result.RedirectURL,
		OrderNumber: result.OrderNumber,
	}
	if result.PPCOD.IsPPCOD {
		payload.PPCOD = &ppcodObject{
			AdvancePaid: domain.FormatAmount(result.PPCOD.AdvancePaid),
			DueAmount:   domain.FormatAmount(result.PPCOD.DueAmount),
			Currency:    result.PPCOD.Currency,
		}
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// clientIP returns the caller address after chi's RealIP middleware has rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
