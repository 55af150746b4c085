package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the order lifecycle states known to the store.
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusProcessing    OrderStatus = "processing"
	OrderStatusOnHold        OrderStatus = "on-hold"
	OrderStatusCompleted     OrderStatus = "completed"
	OrderStatusCancelled     OrderStatus = "cancelled"
	OrderStatusRefunded      OrderStatus = "refunded"
	OrderStatusFailed        OrderStatus = "failed"
	OrderStatusCheckoutDraft OrderStatus = "checkout-draft"
)

// Valid reports whether the status is part of the known status set.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusOnHold, OrderStatusCompleted,
		OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed, OrderStatusCheckoutDraft:
		return true
	default:
		return false
	}
}

// ParseOrderStatus normalises raw input, accepting an optional "wc-" prefix.
func ParseOrderStatus(raw string) OrderStatus {
	status := strings.ToLower(strings.TrimSpace(raw))
	status = strings.TrimPrefix(status, "wc-")
	return OrderStatus(status)
}

// Order meta keys written by checkout placement.
const (
	OrderMetaSessionKey         = "_gk_session_key"
	OrderMetaIsGokwikOrder      = "is_gokwik_order"
	OrderMetaUserAgent          = "_wc_order_attribution_user_agent"
	OrderMetaAdvanceTransaction = "advance_payment_transaction_id"
	OrderMetaGSTNumber          = "billing_gst_no"
	OrderMetaFieldEditorBlock   = "_awcfe_order_meta_key"
	OrderMetaIsVatExempt        = "is_vat_exempt"
	OrderMetaIsPPCOD            = "is_ppcod"
	OrderMetaAdvancePaid        = "advance_paid"
	OrderMetaDueAmount          = "due_amount"
)

// OrderAddress holds billing or shipping contact details.
type OrderAddress struct {
	FirstName string
	LastName  string
	Company   string
	Address1  string
	Address2  string
	City      string
	State     string
	Postcode  string
	Country   string
	Email     string
	Phone     string
}

// OrderLineItem is a product line copied from the cart at placement time.
type OrderLineItem struct {
	ID          string
	ProductID   string
	VariationID string
	Name        string
	SKU         string
	Quantity    int
	Subtotal    decimal.Decimal
	SubtotalTax decimal.Decimal
	Total       decimal.Decimal
	TotalTax    decimal.Decimal
	Meta        map[string]any
}

// FeeTaxStatus controls whether a fee participates in tax calculation.
type FeeTaxStatus string

const (
	FeeTaxable FeeTaxStatus = "taxable"
	FeeTaxNone FeeTaxStatus = "none"
)

// OrderFeeLine is a named positive fee or negative discount attached to an order.
type OrderFeeLine struct {
	ID             string
	Name           string
	Total          decimal.Decimal
	TotalTax       decimal.Decimal
	TaxStatus      FeeTaxStatus
	DiscountSource string
}

// OrderShippingLine records the shipping rate selected for the order.
type OrderShippingLine struct {
	ID         string
	MethodID   string
	InstanceID int
	Title      string
	Total      decimal.Decimal
	TotalTax   decimal.Decimal
}

// OrderCouponLine records a coupon redeemed on the order.
type OrderCouponLine struct {
	Code     string
	Discount decimal.Decimal
}

// OrderTotals holds the aggregated monetary totals of an order.
type OrderTotals struct {
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	ShippingTotal decimal.Decimal
	FeeTotal      decimal.Decimal
	TaxTotal      decimal.Decimal
	Total         decimal.Decimal
}

// Order is the durable record created from a checkout session.
type Order struct {
	ID                 string
	Number             string
	Status             OrderStatus
	Currency           string
	PricesIncludeTax   bool
	CustomerID         string
	CreatedVia         string
	PaymentMethod      string
	PaymentMethodTitle string
	TransactionID      string
	Billing            OrderAddress
	Shipping           OrderAddress
	LineItems          []OrderLineItem
	FeeLines           []OrderFeeLine
	ShippingLines      []OrderShippingLine
	CouponLines        []OrderCouponLine
	Meta               map[string]any
	CustomerIP         string
	CustomerUserAgent  string
	Totals             OrderTotals
	DatePaid           *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	// Draft marks the pending order mirrored from a live cart. Placed orders are never drafts,
	// even while they stay pending.
	Draft bool
}

// MetaString returns the string form of the meta value stored under key.
func (o Order) MetaString(key string) string {
	if o.Meta == nil {
		return ""
	}
	switch v := o.Meta[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return stringify(v)
	}
}

// SetMeta writes a meta value, allocating the map when required.
func (o *Order) SetMeta(key string, value any) {
	if o.Meta == nil {
		o.Meta = make(map[string]any)
	}
	o.Meta[key] = value
}

// IsCheckoutOrder reports whether the order was created by the hosted checkout API.
func (o Order) IsCheckoutOrder() bool {
	return o.MetaString(OrderMetaIsGokwikOrder) == "true"
}

// PPCODAmounts reports the advance and due amounts of a partially prepaid COD order.
type PPCODAmounts struct {
	IsPPCOD     bool
	AdvancePaid decimal.Decimal
	DueAmount   decimal.Decimal
	Currency    string
}

// PPCODAmounts extracts the partially prepaid COD amounts from order meta.
func (o Order) PPCODAmounts() PPCODAmounts {
	flag := strings.ToLower(o.MetaString(OrderMetaIsPPCOD))
	if flag == "" || flag == "0" || flag == "false" || flag == "no" {
		return PPCODAmounts{}
	}
	advance, err := ParseAmount(o.MetaString(OrderMetaAdvancePaid))
	if err != nil {
		advance = decimal.Zero
	}
	due, err := ParseAmount(o.MetaString(OrderMetaDueAmount))
	if err != nil {
		due = decimal.Zero
	}
	return PPCODAmounts{IsPPCOD: true, AdvancePaid: advance, DueAmount: due, Currency: o.Currency}
}

// DisplayNumber returns the customer-facing order number, tagging PPCOD orders.
func (o Order) DisplayNumber() string {
	number := o.Number
	if number == "" {
		number = o.ID
	}
	if o.PPCODAmounts().IsPPCOD {
		return number + " (Prepaid COD Order)"
	}
	return number
}

// RecalculateTotals recomputes order totals from its lines. Taxes are summed as recorded, never re-derived.
func (o *Order) RecalculateTotals() {
	subtotal := decimal.Zero
	lineTotal := decimal.Zero
	tax := decimal.Zero
	for _, item := range o.LineItems {
		subtotal = subtotal.Add(item.Subtotal)
		lineTotal = lineTotal.Add(item.Total)
		tax = tax.Add(item.TotalTax)
	}
	shipping := decimal.Zero
	for _, line := range o.ShippingLines {
		shipping = shipping.Add(line.Total)
		tax = tax.Add(line.TotalTax)
	}
	fees := decimal.Zero
	for _, fee := range o.FeeLines {
		fees = fees.Add(fee.Total)
		tax = tax.Add(fee.TotalTax)
	}
	o.Totals = OrderTotals{
		Subtotal:      RoundMoney(subtotal),
		DiscountTotal: RoundMoney(subtotal.Sub(lineTotal)),
		ShippingTotal: RoundMoney(shipping),
		FeeTotal:      RoundMoney(fees),
		TaxTotal:      RoundMoney(tax),
		Total:         RoundMoney(lineTotal.Add(shipping).Add(fees).Add(tax)),
	}
}

// RemoveFeeLines drops fee lines whose name matches any of names.
func (o *Order) RemoveFeeLines(names ...string) {
	if len(o.FeeLines) == 0 || len(names) == 0 {
		return
	}
	kept := o.FeeLines[:0]
	for _, fee := range o.FeeLines {
		drop := false
		for _, name := range names {
			if fee.Name == name {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, fee)
		}
	}
	o.FeeLines = kept
}
