package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Product is a purchasable catalog entry. Variations carry their parent's id in ParentID.
type Product struct {
	ID           string
	ParentID     string
	Name         string
	Slug         string
	SKU          string
	Price        decimal.Decimal
	RegularPrice decimal.Decimal
	SalePrice    decimal.NullDecimal
	CategoryIDs  []string
	VariationIDs []string
	Image        *ProductImage
	Gallery      []ProductImage
	Taxable      bool
	TaxRate      decimal.Decimal
	Published    bool
}

// IsVariation reports whether the product is a variation of a parent product.
func (p Product) IsVariation() bool {
	parent := strings.TrimSpace(p.ParentID)
	return parent != "" && parent != "0"
}

// ProductImage describes an attachment rendered alongside a cart line.
type ProductImage struct {
	ID   int64
	Src  string
	Name string
	Alt  string
}

// PlaceholderImage returns the descriptor used when a product has no images.
func PlaceholderImage(src string) ProductImage {
	return ProductImage{ID: 0, Src: src, Name: "Placeholder Image", Alt: "Placeholder Image"}
}

// Category is a node in the product category tree.
type Category struct {
	ID       string
	ParentID string
	Name     string
	Slug     string
}

// ShippingRate is one priced option returned for a shipping package. ID is the composite rate id
// such as "flat_rate:3".
type ShippingRate struct {
	ID         string
	MethodID   string
	InstanceID int
	Label      string
	Cost       decimal.Decimal
	Taxes      map[string]decimal.Decimal
}

// TaxTotal sums the per-rate tax entries.
func (r ShippingRate) TaxTotal() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range r.Taxes {
		total = total.Add(amount)
	}
	return total
}

// ShippingDestination is the address portion used to match shipping zones.
type ShippingDestination struct {
	Country  string
	State    string
	Postcode string
}

// ShippingPackage is the descriptor sent to the rate calculator.
type ShippingPackage struct {
	ID                 string
	Contents           []SessionCartLine
	Destination        ShippingDestination
	CartSubtotal       decimal.Decimal
	FreeShippingCoupon bool
}

// ShippingZone groups destinations with a set of shipping methods.
type ShippingZone struct {
	ID        string
	Name      string
	Order     int
	Countries []string
	States    []string
	Postcodes []string
	Methods   []ShippingMethod
}

// ShippingMethodKind enumerates the supported rate calculators.
type ShippingMethodKind string

const (
	ShippingMethodFlatRate     ShippingMethodKind = "flat_rate"
	ShippingMethodFreeShipping ShippingMethodKind = "free_shipping"
	ShippingMethodLocalPickup  ShippingMethodKind = "local_pickup"
)

// ShippingMethod is one configured method inside a zone. MinAmount gates free shipping on the
// package subtotal when set; RequiresCoupon limits free shipping to carts holding a free-shipping coupon.
type ShippingMethod struct {
	InstanceID     int
	Kind           ShippingMethodKind
	Title          string
	Enabled        bool
	Cost           decimal.Decimal
	Taxable        bool
	MinAmount      decimal.NullDecimal
	RequiresCoupon bool
}

// RateID returns the composite "<kind>:<instance>" rate identifier.
func (m ShippingMethod) RateID() string {
	return string(m.Kind) + ":" + strconv.Itoa(m.InstanceID)
}
