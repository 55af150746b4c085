package firestore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	settingsCollection    = "settings"
	merchantSettingsDocID = "merchant"
)

// MerchantSettingsRepository reads runtime store setting overrides from a single document.
type MerchantSettingsRepository struct {
	base *pfirestore.BaseRepository[map[string]any]
}

// NewMerchantSettingsRepository constructs a Firestore-backed settings repository.
func NewMerchantSettingsRepository(provider *pfirestore.Provider) (*MerchantSettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("merchant settings repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[map[string]any](provider, settingsCollection)
	return &MerchantSettingsRepository{base: base}, nil
}

// Load returns the stored settings as strings. A missing document yields no overrides.
func (r *MerchantSettingsRepository) Load(ctx context.Context) (map[string]string, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("merchant settings repository not initialised")
	}
	doc, err := r.base.Get(ctx, merchantSettingsDocID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return map[string]string{}, nil
		}
		return nil, err
	}
	out := make(map[string]string, len(doc.Data))
	for key, raw := range doc.Data {
		value, ok := settingString(raw)
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}

// settingString flattens scalar and list values the admin UI may store.
func settingString(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	case bool:
		if v {
			return "yes", true
		}
		return "no", true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := settingString(item); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ","), true
	default:
		return "", false
	}
}

var _ repositories.MerchantSettingsRepository = (*MerchantSettingsRepository)(nil)
