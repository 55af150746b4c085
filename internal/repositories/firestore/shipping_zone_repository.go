package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const shippingZoneCollection = "shipping_zones"

// ShippingZoneRepository lists configured shipping zones.
type ShippingZoneRepository struct {
	base *pfirestore.BaseRepository[shippingZoneDocument]
}

// NewShippingZoneRepository constructs a Firestore-backed shipping zone repository.
func NewShippingZoneRepository(provider *pfirestore.Provider) (*ShippingZoneRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping zone repository requires firestore provider")
	}
	return &ShippingZoneRepository{
		base: pfirestore.NewBaseRepository[shippingZoneDocument](provider, shippingZoneCollection),
	}, nil
}

// ListZones returns every zone ordered by ascending priority, ties broken by id.
func (r *ShippingZoneRepository) ListZones(ctx context.Context) ([]domain.ShippingZone, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("shipping zone repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("order", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	zones := make([]domain.ShippingZone, 0, len(docs))
	for _, doc := range docs {
		zones = append(zones, decodeShippingZone(doc))
	}
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Order != zones[j].Order {
			return zones[i].Order < zones[j].Order
		}
		return zones[i].ID < zones[j].ID
	})
	return zones, nil
}

type shippingZoneDocument struct {
	Name      string                   `firestore:"name"`
	Order     int                      `firestore:"order"`
	Countries []string                 `firestore:"countries"`
	States    []string                 `firestore:"states"`
	Postcodes []string                 `firestore:"postcodes"`
	Methods   []shippingMethodDocument `firestore:"methods"`
}

type shippingMethodDocument struct {
	InstanceID     int     `firestore:"instanceId"`
	Kind           string  `firestore:"kind"`
	Title          string  `firestore:"title"`
	Enabled        bool    `firestore:"enabled"`
	Cost           string  `firestore:"cost"`
	Taxable        bool    `firestore:"taxable"`
	MinAmount      *string `firestore:"minAmount,omitempty"`
	RequiresCoupon bool    `firestore:"requiresCoupon"`
}

func decodeShippingZone(doc pfirestore.Document[shippingZoneDocument]) domain.ShippingZone {
	zone := domain.ShippingZone{
		ID:        doc.ID,
		Name:      doc.Data.Name,
		Order:     doc.Data.Order,
		Countries: upperList(doc.Data.Countries),
		States:    upperList(doc.Data.States),
		Postcodes: trimmedList(doc.Data.Postcodes),
	}
	for _, method := range doc.Data.Methods {
		zone.Methods = append(zone.Methods, domain.ShippingMethod{
			InstanceID:     method.InstanceID,
			Kind:           domain.ShippingMethodKind(strings.TrimSpace(method.Kind)),
			Title:          method.Title,
			Enabled:        method.Enabled,
			Cost:           decodeAmount(method.Cost),
			Taxable:        method.Taxable,
			MinAmount:      decodeNullAmount(method.MinAmount),
			RequiresCoupon: method.RequiresCoupon,
		})
	}
	return zone
}

func upperList(values []string) []string {
	out := trimmedList(values)
	for i, value := range out {
		out[i] = strings.ToUpper(value)
	}
	return out
}

var _ repositories.ShippingZoneRepository = (*ShippingZoneRepository)(nil)
