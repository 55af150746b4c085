package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CouponDiscountType enumerates supported coupon discount calculations.
type CouponDiscountType string

const (
	CouponPercent      CouponDiscountType = "percent"
	CouponFixedCart    CouponDiscountType = "fixed_cart"
	CouponFixedProduct CouponDiscountType = "fixed_product"
)

// Valid reports whether the discount type is recognised.
func (t CouponDiscountType) Valid() bool {
	switch t {
	case CouponPercent, CouponFixedCart, CouponFixedProduct:
		return true
	default:
		return false
	}
}

// CouponStatus tracks the publication state of a coupon.
type CouponStatus string

const (
	CouponStatusPublished CouponStatus = "publish"
	CouponStatusDraft     CouponStatus = "draft"
	CouponStatusTrash     CouponStatus = "trash"
)

// Coupon is the store-owned discount definition referenced by code.
type Coupon struct {
	ID                  string
	Code                string
	Description         string
	DiscountType        CouponDiscountType
	Amount              decimal.Decimal
	Status              CouponStatus
	ExpiresAt           *time.Time
	UsageCount          int
	UsageLimit          int
	UsageLimitPerUser   int
	IndividualUse       bool
	FreeShipping        bool
	ProductIDs          []string
	ExcludedProductIDs  []string
	CategoryIDs         []string
	ExcludedCategoryIDs []string
	MinimumAmount       decimal.NullDecimal
	MaximumAmount       decimal.NullDecimal
	EmailRestrictions   []string
	UsedBy              []string
	ExcludeSaleItems    bool
	LimitUsageToXItems  int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UsageByEmail counts recorded redemptions attributed to email (case-insensitive).
func (c Coupon) UsageByEmail(email string) int {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return 0
	}
	count := 0
	for _, used := range c.UsedBy {
		if strings.ToLower(strings.TrimSpace(used)) == email {
			count++
		}
	}
	return count
}

// Expired reports whether the coupon expiry lies before now.
func (c Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.IsZero() && now.After(*c.ExpiresAt)
}

// HasProductRestrictions reports whether include lists narrow the eligible lines.
func (c Coupon) HasProductRestrictions() bool {
	return len(c.ProductIDs) > 0 || len(c.CategoryIDs) > 0
}
