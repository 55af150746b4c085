package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists checkout orders.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
		provider: provider,
	}, nil
}

// Insert creates the order document. An existing id is reported as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.insert", err)
	}
	order.ID = id
	return order, nil
}

// Update replaces an existing order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now().UTC()
	}
	doc := encodeOrder(order)
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// Delete removes the order document. A missing order is reported as not found.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

// FindByID loads an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc), nil
}

// FindPendingBySession returns the newest pending draft order linked to the session key. Placed
// orders awaiting payment are not drafts and are never returned.
func (r *OrderRepository) FindPendingBySession(ctx context.Context, sessionKey string) (domain.Order, error) {
	return r.FindLatest(ctx, repositories.OrderLookupFilter{
		SessionKey: sessionKey,
		Status:     domain.OrderStatusPending,
		DraftOnly:  true,
	})
}

// FindLatest returns the most recently created order matching every populated filter field.
func (r *OrderRepository) FindLatest(ctx context.Context, filter repositories.OrderLookupFilter) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if key := strings.TrimSpace(filter.SessionKey); key != "" {
			q = q.Where("sessionKey", "==", key)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		if method := strings.TrimSpace(filter.PaymentMethod); method != "" {
			q = q.Where("paymentMethod", "==", method)
		}
		if email := strings.ToLower(strings.TrimSpace(filter.BillingEmail)); email != "" {
			q = q.Where("billingEmailLower", "==", email)
		}
		if !filter.CreatedAfter.IsZero() {
			q = q.Where("createdAt", ">=", filter.CreatedAfter.UTC())
		}
		if filter.DraftOnly {
			q = q.Where("draft", "==", true)
		}
		return q.OrderBy("createdAt", firestore.Desc).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFound("orders.find_latest", "order not found")
	}
	return decodeOrder(docs[0]), nil
}

type orderDocument struct {
	Number             string                      `firestore:"number"`
	Status             string                      `firestore:"status"`
	Currency           string                      `firestore:"currency"`
	PricesIncludeTax   bool                        `firestore:"pricesIncludeTax"`
	CustomerID         string                      `firestore:"customerId,omitempty"`
	CreatedVia         string                      `firestore:"createdVia"`
	PaymentMethod      string                      `firestore:"paymentMethod"`
	PaymentMethodTitle string                      `firestore:"paymentMethodTitle"`
	TransactionID      string                      `firestore:"transactionId,omitempty"`
	SessionKey         string                      `firestore:"sessionKey,omitempty"`
	BillingEmailLower  string                      `firestore:"billingEmailLower,omitempty"`
	Billing            addressDocument             `firestore:"billing"`
	Shipping           addressDocument             `firestore:"shipping"`
	LineItems          []orderLineItemDocument     `firestore:"lineItems"`
	FeeLines           []orderFeeLineDocument      `firestore:"feeLines"`
	ShippingLines      []orderShippingLineDocument `firestore:"shippingLines"`
	CouponLines        []orderCouponLineDocument   `firestore:"couponLines"`
	Meta               map[string]any              `firestore:"meta,omitempty"`
	CustomerIP         string                      `firestore:"customerIp,omitempty"`
	CustomerUserAgent  string                      `firestore:"customerUserAgent,omitempty"`
	Totals             orderTotalsDocument         `firestore:"totals"`
	DatePaid           *time.Time                  `firestore:"datePaid,omitempty"`
	CreatedAt          time.Time                   `firestore:"createdAt"`
	UpdatedAt          time.Time                   `firestore:"updatedAt"`
	Draft              bool                        `firestore:"draft"`
}

type orderLineItemDocument struct {
	ID          string         `firestore:"id"`
	ProductID   string         `firestore:"productId"`
	VariationID string         `firestore:"variationId,omitempty"`
	Name        string         `firestore:"name"`
	SKU         string         `firestore:"sku,omitempty"`
	Quantity    int            `firestore:"quantity"`
	Subtotal    string         `firestore:"subtotal"`
	SubtotalTax string         `firestore:"subtotalTax"`
	Total       string         `firestore:"total"`
	TotalTax    string         `firestore:"totalTax"`
	Meta        map[string]any `firestore:"meta,omitempty"`
}

type orderFeeLineDocument struct {
	ID             string `firestore:"id"`
	Name           string `firestore:"name"`
	Total          string `firestore:"total"`
	TotalTax       string `firestore:"totalTax"`
	TaxStatus      string `firestore:"taxStatus"`
	DiscountSource string `firestore:"discountSource,omitempty"`
}

type orderShippingLineDocument struct {
	ID         string `firestore:"id"`
	MethodID   string `firestore:"methodId"`
	InstanceID int    `firestore:"instanceId"`
	Title      string `firestore:"title"`
	Total      string `firestore:"total"`
	TotalTax   string `firestore:"totalTax"`
}

type orderCouponLineDocument struct {
	Code     string `firestore:"code"`
	Discount string `firestore:"discount"`
}

type orderTotalsDocument struct {
	Subtotal      string `firestore:"subtotal"`
	DiscountTotal string `firestore:"discountTotal"`
	ShippingTotal string `firestore:"shippingTotal"`
	FeeTotal      string `firestore:"feeTotal"`
	TaxTotal      string `firestore:"taxTotal"`
	Total         string `firestore:"total"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:             order.Number,
		Status:             string(order.Status),
		Currency:           strings.ToUpper(strings.TrimSpace(order.Currency)),
		PricesIncludeTax:   order.PricesIncludeTax,
		CustomerID:         order.CustomerID,
		CreatedVia:         order.CreatedVia,
		PaymentMethod:      order.PaymentMethod,
		PaymentMethodTitle: order.PaymentMethodTitle,
		TransactionID:      order.TransactionID,
		SessionKey:         order.MetaString(domain.OrderMetaSessionKey),
		Draft:              order.Draft,
		BillingEmailLower:  strings.ToLower(strings.TrimSpace(order.Billing.Email)),
		Billing:            encodeAddress(order.Billing),
		Shipping:           encodeAddress(order.Shipping),
		LineItems:          make([]orderLineItemDocument, 0, len(order.LineItems)),
		FeeLines:           make([]orderFeeLineDocument, 0, len(order.FeeLines)),
		ShippingLines:      make([]orderShippingLineDocument, 0, len(order.ShippingLines)),
		CouponLines:        make([]orderCouponLineDocument, 0, len(order.CouponLines)),
		Meta:               cloneAnyMap(order.Meta),
		CustomerIP:         order.CustomerIP,
		CustomerUserAgent:  order.CustomerUserAgent,
		Totals: orderTotalsDocument{
			Subtotal:      encodeAmount(order.Totals.Subtotal),
			DiscountTotal: encodeAmount(order.Totals.DiscountTotal),
			ShippingTotal: encodeAmount(order.Totals.ShippingTotal),
			FeeTotal:      encodeAmount(order.Totals.FeeTotal),
			TaxTotal:      encodeAmount(order.Totals.TaxTotal),
			Total:         encodeAmount(order.Totals.Total),
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	if order.DatePaid != nil {
		paid := order.DatePaid.UTC()
		doc.DatePaid = &paid
	}
	for _, item := range order.LineItems {
		doc.LineItems = append(doc.LineItems, orderLineItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Name:        item.Name,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			Subtotal:    encodeAmount(item.Subtotal),
			SubtotalTax: encodeAmount(item.SubtotalTax),
			Total:       encodeAmount(item.Total),
			TotalTax:    encodeAmount(item.TotalTax),
			Meta:        cloneAnyMap(item.Meta),
		})
	}
	for _, fee := range order.FeeLines {
		doc.FeeLines = append(doc.FeeLines, orderFeeLineDocument{
			ID:             fee.ID,
			Name:           fee.Name,
			Total:          encodeAmount(fee.Total),
			TotalTax:       encodeAmount(fee.TotalTax),
			TaxStatus:      string(fee.TaxStatus),
			DiscountSource: fee.DiscountSource,
		})
	}
	for _, line := range order.ShippingLines {
		doc.ShippingLines = append(doc.ShippingLines, orderShippingLineDocument{
			ID:         line.ID,
			MethodID:   line.MethodID,
			InstanceID: line.InstanceID,
			Title:      line.Title,
			Total:      encodeAmount(line.Total),
			TotalTax:   encodeAmount(line.TotalTax),
		})
	}
	for _, coupon := range order.CouponLines {
		doc.CouponLines = append(doc.CouponLines, orderCouponLineDocument{
			Code:     coupon.Code,
			Discount: encodeAmount(coupon.Discount),
		})
	}
	return doc
}

func decodeOrder(doc pfirestore.Document[orderDocument]) domain.Order {
	data := doc.Data
	order := domain.Order{
		ID:                 doc.ID,
		Number:             data.Number,
		Status:             domain.ParseOrderStatus(data.Status),
		Currency:           data.Currency,
		PricesIncludeTax:   data.PricesIncludeTax,
		CustomerID:         data.CustomerID,
		CreatedVia:         data.CreatedVia,
		PaymentMethod:      data.PaymentMethod,
		PaymentMethodTitle: data.PaymentMethodTitle,
		TransactionID:      data.TransactionID,
		Draft:              data.Draft,
		Billing:            decodeAddress(data.Billing),
		Shipping:           decodeAddress(data.Shipping),
		Meta:               cloneAnyMap(data.Meta),
		CustomerIP:         data.CustomerIP,
		CustomerUserAgent:  data.CustomerUserAgent,
		Totals: domain.OrderTotals{
			Subtotal:      decodeAmount(data.Totals.Subtotal),
			DiscountTotal: decodeAmount(data.Totals.DiscountTotal),
			ShippingTotal: decodeAmount(data.Totals.ShippingTotal),
			FeeTotal:      decodeAmount(data.Totals.FeeTotal),
			TaxTotal:      decodeAmount(data.Totals.TaxTotal),
			Total:         decodeAmount(data.Totals.Total),
		},
		DatePaid:  data.DatePaid,
		CreatedAt: data.CreatedAt,
		UpdatedAt: data.UpdatedAt,
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = doc.CreateTime
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = doc.UpdateTime
	}
	for _, item := range data.LineItems {
		order.LineItems = append(order.LineItems, domain.OrderLineItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Name:        item.Name,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			Subtotal:    decodeAmount(item.Subtotal),
			SubtotalTax: decodeAmount(item.SubtotalTax),
			Total:       decodeAmount(item.Total),
			TotalTax:    decodeAmount(item.TotalTax),
			Meta:        cloneAnyMap(item.Meta),
		})
	}
	for _, fee := range data.FeeLines {
		order.FeeLines = append(order.FeeLines, domain.OrderFeeLine{
			ID:             fee.ID,
			Name:           fee.Name,
			Total:          decodeAmount(fee.Total),
			TotalTax:       decodeAmount(fee.TotalTax),
			TaxStatus:      domain.FeeTaxStatus(fee.TaxStatus),
			DiscountSource: fee.DiscountSource,
		})
	}
	for _, line := range data.ShippingLines {
		order.ShippingLines = append(order.ShippingLines, domain.OrderShippingLine{
			ID:         line.ID,
			MethodID:   line.MethodID,
			InstanceID: line.InstanceID,
			Title:      line.Title,
			Total:      decodeAmount(line.Total),
			TotalTax:   decodeAmount(line.TotalTax),
		})
	}
	for _, coupon := range data.CouponLines {
		order.CouponLines = append(order.CouponLines, domain.OrderCouponLine{
			Code:     coupon.Code,
			Discount: decodeAmount(coupon.Discount),
		})
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
