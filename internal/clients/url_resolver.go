package clients

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// URLResolver maps a business id to its business-service base URL. The
// mapping file is YAML or JSON in one of these layouts:
//
//	{"shop.example.com": {"businessId": "b1", "brandId": null}}
//	{"https://shop.example.com": "b1"}
//	[["https://shop.example.com", "b1"]]
//	[{"url": "https://shop.example.com", "id": "b1"}]
//	[{"key": "https://shop.example.com", "value": "b1"}]
//
// Bare hosts get the configured scheme.
type URLResolver struct {
	scheme string
	byID   map[string]string
}

// NewURLResolver parses mapping data
func NewURLResolver(data []byte, scheme string) (*URLResolver, error) {
	if scheme == "" {
		scheme = "https"
	}
	r := &URLResolver{scheme: scheme, byID: map[string]string{}}
	if len(strings.TrimSpace(string(data))) == 0 {
		return r, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse business service map: %w", err)
	}

	switch v := doc.(type) {
	case map[string]any:
		for key, value := range v {
			switch entry := value.(type) {
			case map[string]any:
				if id, ok := entry["businessId"].(string); ok && id != "" {
					r.add(id, key)
				}
			case string:
				r.add(entry, key)
			}
		}
	case []any:
		for _, item := range v {
			switch entry := item.(type) {
			case []any:
				if len(entry) >= 2 {
					r.add(fmt.Sprint(entry[1]), fmt.Sprint(entry[0]))
				}
			case map[string]any:
				if url, ok := entry["url"].(string); ok {
					r.add(fmt.Sprint(entry["id"]), url)
				} else if key, ok := entry["key"].(string); ok {
					r.add(fmt.Sprint(entry["value"]), key)
				}
			}
		}
	case nil:
	default:
		return nil, fmt.Errorf("unsupported business service map layout %T", doc)
	}
	return r, nil
}

// LoadURLResolver reads a mapping file. An empty path yields an empty resolver.
func LoadURLResolver(path, scheme string) (*URLResolver, error) {
	if path == "" {
		return NewURLResolver(nil, scheme)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read business service map %s: %w", path, err)
	}
	return NewURLResolver(data, scheme)
}

func (r *URLResolver) add(businessID, key string) {
	if businessID == "" || key == "" {
		return
	}
	if _, exists := r.byID[businessID]; exists {
		return
	}
	r.byID[businessID] = r.toURL(key)
}

func (r *URLResolver) toURL(key string) string {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return trimBase(key)
	}
	return trimBase(r.scheme + "://" + key)
}

// Resolve returns the base URL for a business, or "" when unmapped
func (r *URLResolver) Resolve(businessID string) string {
	if r == nil {
		return ""
	}
	return r.byID[businessID]
}

// Len reports how many businesses are mapped
func (r *URLResolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byID)
}
