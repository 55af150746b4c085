package firestore

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
)

// notFound builds a repository error for lookups that matched no document.
func notFound(op, message string) error {
	return pfirestore.NotFound(op, errors.New(message))
}

// Money is stored as fixed-point strings so Firestore never rounds through float64.

func encodeAmount(value decimal.Decimal) string {
	return value.String()
}

func decodeAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}

func decodeNullAmount(raw *string) decimal.NullDecimal {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return decimal.NullDecimal{}
	}
	value, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(value)
}

type cartLineDocument struct {
	Key             string            `firestore:"key"`
	ProductID       string            `firestore:"product_id"`
	VariationID     string            `firestore:"variation_id,omitempty"`
	Quantity        int               `firestore:"quantity"`
	Variation       map[string]string `firestore:"variation,omitempty"`
	LineSubtotal    string            `firestore:"line_subtotal"`
	LineSubtotalTax string            `firestore:"line_subtotal_tax"`
	LineTotal       string            `firestore:"line_total"`
	LineTax         string            `firestore:"line_tax"`
	DataHash        string            `firestore:"data_hash,omitempty"`
	Extra           map[string]any    `firestore:"extra,omitempty"`
}

func encodeCartLines(lines []domain.SessionCartLine) []cartLineDocument {
	out := make([]cartLineDocument, 0, len(lines))
	for _, line := range lines {
		out = append(out, cartLineDocument{
			Key:             line.Key,
			ProductID:       line.ProductID,
			VariationID:     line.VariationID,
			Quantity:        line.Quantity,
			Variation:       cloneStringMap(line.Variation),
			LineSubtotal:    encodeAmount(line.LineSubtotal),
			LineSubtotalTax: encodeAmount(line.LineSubtotalTax),
			LineTotal:       encodeAmount(line.LineTotal),
			LineTax:         encodeAmount(line.LineTax),
			DataHash:        line.DataHash,
			Extra:           cloneAnyMap(line.Extra),
		})
	}
	return out
}

func decodeCartLines(docs []cartLineDocument) []domain.SessionCartLine {
	out := make([]domain.SessionCartLine, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.SessionCartLine{
			Key:             doc.Key,
			ProductID:       doc.ProductID,
			VariationID:     doc.VariationID,
			Quantity:        doc.Quantity,
			Variation:       cloneStringMap(doc.Variation),
			LineSubtotal:    decodeAmount(doc.LineSubtotal),
			LineSubtotalTax: decodeAmount(doc.LineSubtotalTax),
			LineTotal:       decodeAmount(doc.LineTotal),
			LineTax:         decodeAmount(doc.LineTax),
			DataHash:        doc.DataHash,
			Extra:           cloneAnyMap(doc.Extra),
		})
	}
	return out
}

type addressDocument struct {
	FirstName string `firestore:"first_name"`
	LastName  string `firestore:"last_name"`
	Company   string `firestore:"company,omitempty"`
	Address1  string `firestore:"address_1"`
	Address2  string `firestore:"address_2,omitempty"`
	City      string `firestore:"city"`
	State     string `firestore:"state"`
	Postcode  string `firestore:"postcode"`
	Country   string `firestore:"country"`
	Email     string `firestore:"email,omitempty"`
	Phone     string `firestore:"phone,omitempty"`
}

func encodeAddress(addr domain.OrderAddress) addressDocument {
	return addressDocument(addr)
}

func decodeAddress(doc addressDocument) domain.OrderAddress {
	return domain.OrderAddress(doc)
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func trimmedList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
