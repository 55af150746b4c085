package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository reads coupon definitions maintained by the store admin.
type CouponRepository struct {
	base *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		base: pfirestore.NewBaseRepository[couponDocument](provider, couponCollection),
	}, nil
}

// FindByCode looks up a coupon by its case-insensitive code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("codeLower", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, notFound("coupons.find_by_code", "coupon not found")
	}
	return decodeCoupon(docs[0]), nil
}

// ListByIDs loads the coupons with the given ids in input order. Unknown ids are skipped.
func (r *CouponRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Coupon, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("coupon repository not initialised")
	}
	out := make([]domain.Coupon, 0, len(ids))
	for _, id := range trimmedList(ids) {
		doc, err := r.base.Get(ctx, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		out = append(out, decodeCoupon(doc))
	}
	return out, nil
}

// ListRestrictedToEmail returns coupons whose email allow-list names email, ordered by code.
func (r *CouponRepository) ListRestrictedToEmail(ctx context.Context, email string) ([]domain.Coupon, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("coupon repository not initialised")
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, nil
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("emailRestrictions", "array-contains", normalized)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeCoupon(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type couponDocument struct {
	Code                string     `firestore:"code"`
	CodeLower           string     `firestore:"codeLower"`
	Description         string     `firestore:"description"`
	DiscountType        string     `firestore:"discountType"`
	Amount              string     `firestore:"amount"`
	Status              string     `firestore:"status"`
	ExpiresAt           *time.Time `firestore:"expiresAt,omitempty"`
	UsageCount          int        `firestore:"usageCount"`
	UsageLimit          int        `firestore:"usageLimit"`
	UsageLimitPerUser   int        `firestore:"usageLimitPerUser"`
	IndividualUse       bool       `firestore:"individualUse"`
	FreeShipping        bool       `firestore:"freeShipping"`
	ProductIDs          []string   `firestore:"productIds"`
	ExcludedProductIDs  []string   `firestore:"excludedProductIds"`
	CategoryIDs         []string   `firestore:"categoryIds"`
	ExcludedCategoryIDs []string   `firestore:"excludedCategoryIds"`
	MinimumAmount       *string    `firestore:"minimumAmount,omitempty"`
	MaximumAmount       *string    `firestore:"maximumAmount,omitempty"`
	EmailRestrictions   []string   `firestore:"emailRestrictions"`
	UsedBy              []string   `firestore:"usedBy"`
	ExcludeSaleItems    bool       `firestore:"excludeSaleItems"`
	LimitUsageToXItems  int        `firestore:"limitUsageToXItems"`
	CreatedAt           time.Time  `firestore:"createdAt"`
	UpdatedAt           time.Time  `firestore:"updatedAt"`
}

func decodeCoupon(doc pfirestore.Document[couponDocument]) domain.Coupon {
	data := doc.Data
	code := strings.TrimSpace(data.Code)
	if code == "" {
		code = data.CodeLower
	}
	coupon := domain.Coupon{
		ID:                  doc.ID,
		Code:                domain.NormalizeCouponCode(code),
		Description:         data.Description,
		DiscountType:        domain.CouponDiscountType(strings.TrimSpace(data.DiscountType)),
		Amount:              decodeAmount(data.Amount),
		Status:              domain.CouponStatus(strings.TrimSpace(data.Status)),
		UsageCount:          data.UsageCount,
		UsageLimit:          data.UsageLimit,
		UsageLimitPerUser:   data.UsageLimitPerUser,
		IndividualUse:       data.IndividualUse,
		FreeShipping:        data.FreeShipping,
		ProductIDs:          trimmedList(data.ProductIDs),
		ExcludedProductIDs:  trimmedList(data.ExcludedProductIDs),
		CategoryIDs:         trimmedList(data.CategoryIDs),
		ExcludedCategoryIDs: trimmedList(data.ExcludedCategoryIDs),
		MinimumAmount:       decodeNullAmount(data.MinimumAmount),
		MaximumAmount:       decodeNullAmount(data.MaximumAmount),
		EmailRestrictions:   trimmedList(data.EmailRestrictions),
		UsedBy:              trimmedList(data.UsedBy),
		ExcludeSaleItems:    data.ExcludeSaleItems,
		LimitUsageToXItems:  data.LimitUsageToXItems,
		CreatedAt:           data.CreatedAt,
		UpdatedAt:           data.UpdatedAt,
	}
	if data.ExpiresAt != nil && !data.ExpiresAt.IsZero() {
		expires := data.ExpiresAt.UTC()
		coupon.ExpiresAt = &expires
	}
	if coupon.UpdatedAt.IsZero() {
		coupon.UpdatedAt = doc.UpdateTime
	}
	return coupon
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
