package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	productCollection  = "products"
	categoryCollection = "product_categories"
	// firestoreInLimit is the maximum number of values accepted by an "in" filter.
	firestoreInLimit = 30
)

// CatalogRepository resolves products and walks the category tree.
type CatalogRepository struct {
	products   *pfirestore.BaseRepository[productDocument]
	categories *pfirestore.BaseRepository[categoryDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products:   pfirestore.NewBaseRepository[productDocument](provider, productCollection),
		categories: pfirestore.NewBaseRepository[categoryDocument](provider, categoryCollection),
	}, nil
}

// GetProduct loads one product or variation.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc), nil
}

// GetProducts loads the products that exist among productIDs, keyed by id.
func (r *CatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range trimmedList(productIDs) {
		if _, ok := out[id]; ok {
			continue
		}
		doc, err := r.products.Get(ctx, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		out[id] = decodeProduct(doc)
	}
	return out, nil
}

// CategoryDescendants expands categoryIDs with every descendant category, breadth first.
func (r *CatalogRepository) CategoryDescendants(ctx context.Context, categoryIDs []string) ([]string, error) {
	if r == nil || r.categories == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	seen := make(map[string]struct{})
	var out []string
	frontier := make([]string, 0, len(categoryIDs))
	for _, id := range trimmedList(categoryIDs) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		frontier = append(frontier, id)
	}

	for len(frontier) > 0 {
		var next []string
		for _, chunk := range chunkIDs(frontier) {
			docs, err := r.categories.Query(ctx, func(q firestore.Query) firestore.Query {
				return q.Where("parentId", "in", chunk)
			})
			if err != nil {
				return nil, err
			}
			for _, doc := range docs {
				if _, ok := seen[doc.ID]; ok {
					continue
				}
				seen[doc.ID] = struct{}{}
				out = append(out, doc.ID)
				next = append(next, doc.ID)
			}
		}
		frontier = next
	}
	return out, nil
}

// ProductVariations returns the ids of the variations whose parent is in productIDs.
func (r *CatalogRepository) ProductVariations(ctx context.Context, productIDs []string) ([]string, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	var out []string
	for _, chunk := range chunkIDs(trimmedList(productIDs)) {
		docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("parentId", "in", chunk)
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			out = append(out, doc.ID)
		}
	}
	return out, nil
}

func chunkIDs(ids []string) [][]any {
	var chunks [][]any
	for start := 0; start < len(ids); start += firestoreInLimit {
		end := start + firestoreInLimit
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			chunk = append(chunk, id)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

type productDocument struct {
	ParentID     string                 `firestore:"parentId,omitempty"`
	Name         string                 `firestore:"name"`
	Slug         string                 `firestore:"slug"`
	SKU          string                 `firestore:"sku,omitempty"`
	Price        string                 `firestore:"price"`
	RegularPrice string                 `firestore:"regularPrice"`
	SalePrice    *string                `firestore:"salePrice,omitempty"`
	CategoryIDs  []string               `firestore:"categoryIds"`
	VariationIDs []string               `firestore:"variationIds,omitempty"`
	Image        *productImageDocument  `firestore:"image,omitempty"`
	Gallery      []productImageDocument `firestore:"gallery,omitempty"`
	Taxable      bool                   `firestore:"taxable"`
	TaxRate      string                 `firestore:"taxRate,omitempty"`
	Status       string                 `firestore:"status"`
}

type productImageDocument struct {
	ID   int64  `firestore:"id"`
	Src  string `firestore:"src"`
	Name string `firestore:"name"`
	Alt  string `firestore:"alt"`
}

type categoryDocument struct {
	ParentID string `firestore:"parentId,omitempty"`
	Name     string `firestore:"name"`
	Slug     string `firestore:"slug"`
}

func decodeProduct(doc pfirestore.Document[productDocument]) domain.Product {
	data := doc.Data
	product := domain.Product{
		ID:           doc.ID,
		ParentID:     strings.TrimSpace(data.ParentID),
		Name:         data.Name,
		Slug:         data.Slug,
		SKU:          data.SKU,
		Price:        decodeAmount(data.Price),
		RegularPrice: decodeAmount(data.RegularPrice),
		SalePrice:    decodeNullAmount(data.SalePrice),
		CategoryIDs:  trimmedList(data.CategoryIDs),
		VariationIDs: trimmedList(data.VariationIDs),
		Taxable:      data.Taxable,
		TaxRate:      decodeAmount(data.TaxRate),
		Published:    strings.EqualFold(strings.TrimSpace(data.Status), "publish"),
	}
	if data.Image != nil {
		image := domain.ProductImage(*data.Image)
		product.Image = &image
	}
	for _, image := range data.Gallery {
		product.Gallery = append(product.Gallery, domain.ProductImage(image))
	}
	return product
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
