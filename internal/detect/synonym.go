package detect

import (
	"strings"

	"github.com/timmy/assetingest/internal/domain"
)

// DefaultSynonyms lists, per role, header names tried in priority order.
var DefaultSynonyms = map[string][]string{
	domain.RoleLatitude:  {"latitude", "lat", "y"},
	domain.RoleLongitude: {"longitude", "lon", "lng", "x"},
	domain.RoleAssetID:   {"asset_id", "assetid", "id", "location_id", "site_id"},
	domain.RoleLabel:     {"label", "name", "asset_name", "site_name"},
	domain.RoleYear:      {"year"},
	domain.RoleScenario:  {"scenario", "ssp", "rcp"},
	domain.RoleTheme:     {"theme"},
	domain.RoleIndicator: {"indicator", "metric", "variable"},
	domain.RoleValue:     {"score", "value"},
	domain.RoleUnits:     {"units", "unit"},
}

// SynonymDetector matches header names case-insensitively against a synonym
// table. The first synonym present wins.
type SynonymDetector struct {
	synonyms map[string][]string
}

// NewSynonymDetector creates a detector. A nil table uses DefaultSynonyms.
func NewSynonymDetector(synonyms map[string][]string) *SynonymDetector {
	if synonyms == nil {
		synonyms = DefaultSynonyms
	}
	return &SynonymDetector{synonyms: synonyms}
}

// Guess implements Detector.
func (d *SynonymDetector) Guess(columns []string) domain.Mapping {
	byLower := make(map[string]string, len(columns))
	for _, col := range columns {
		key := strings.ToLower(strings.TrimSpace(col))
		if _, dup := byLower[key]; !dup {
			byLower[key] = col
		}
	}

	guess := make(domain.Mapping, len(domain.Roles))
	for _, role := range domain.Roles {
		guess[role] = ""
		for _, syn := range d.synonyms[role] {
			if col, ok := byLower[syn]; ok {
				guess[role] = col
				break
			}
		}
	}
	return guess
}
