package cache

import "strings"

// Category partitions cache keys so that a whole domain can be invalidated
// without enumerating its keys.
type Category string

const (
	CategoryUserData      Category = "user_data"
	CategorySettings      Category = "settings"
	CategoryAudioRequests Category = "audio_requests"
	CategoryAudioMetadata Category = "audio_metadata"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryUserData,
	CategorySettings,
	CategoryAudioRequests,
	CategoryAudioMetadata,
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

type categoryRule struct {
	all      []string
	any      []string
	category Category
}

// Rules are checked in order and the first match wins, so an endpoint
// mentioning both audio requests and settings is an audio request.
var categoryRules = []categoryRule{
	{all: []string{"audio", "request"}, category: CategoryAudioRequests},
	{any: []string{"settings", "config"}, category: CategorySettings},
	{all: []string{"audio"}, category: CategoryAudioMetadata},
}

// CategoryFor maps an endpoint path to its category. Matching is
// case-insensitive; unmatched endpoints are user data.
func CategoryFor(endpoint string) Category {
	p := strings.ToLower(endpoint)
	for _, r := range categoryRules {
		if r.matches(p) {
			return r.category
		}
	}
	return CategoryUserData
}

func (r categoryRule) matches(p string) bool {
	for _, s := range r.all {
		if !strings.Contains(p, s) {
			return false
		}
	}
	if len(r.any) == 0 {
		return true
	}
	for _, s := range r.any {
		if strings.Contains(p, s) {
			return true
		}
	}
	return false
}
