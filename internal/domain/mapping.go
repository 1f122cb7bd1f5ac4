package domain

import (
	"sort"
	"strings"
)

// Role keys a Mapping assigns to source columns.
const (
	RoleLatitude  = "lat_col"
	RoleLongitude = "lon_col"
	RoleAssetID   = "asset_id_col"
	RoleLabel     = "label_col"
	RoleYear      = "year_col"
	RoleScenario  = "scenario_col"
	RoleTheme     = "theme_col"
	RoleIndicator = "indicator_col"
	RoleValue     = "value_col"
	RoleUnits     = "units_col"
)

// Roles lists every role key in display order.
var Roles = []string{
	RoleLatitude,
	RoleLongitude,
	RoleAssetID,
	RoleLabel,
	RoleYear,
	RoleScenario,
	RoleTheme,
	RoleIndicator,
	RoleValue,
	RoleUnits,
}

// RequiredRoles must be mapped before ingestion can start.
var RequiredRoles = []string{RoleAssetID, RoleValue}

// Mapping assigns role keys to column names. An empty value means unmapped.
type Mapping map[string]string

// Column returns the column mapped to role, or "".
func (m Mapping) Column(role string) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[role])
}

// Normalize returns a copy holding every known role, trimmed.
func (m Mapping) Normalize() Mapping {
	out := make(Mapping, len(Roles))
	for _, role := range Roles {
		out[role] = m.Column(role)
	}
	return out
}

// Validate checks required roles and unknown keys. When header is non-nil
// every mapped column must also appear in it.
func (m Mapping) Validate(header []string) error {
	merr := &MappingError{}

	known := make(map[string]bool, len(Roles))
	for _, role := range Roles {
		known[role] = true
	}
	for key := range m {
		if !known[key] {
			merr.UnknownRoles = append(merr.UnknownRoles, key)
		}
	}
	sort.Strings(merr.UnknownRoles)

	for _, role := range RequiredRoles {
		if m.Column(role) == "" {
			merr.MissingRoles = append(merr.MissingRoles, role)
		}
	}

	if header != nil {
		present := make(map[string]bool, len(header))
		for _, col := range header {
			present[col] = true
		}
		for _, role := range Roles {
			col := m.Column(role)
			if col != "" && !present[col] {
				merr.UnknownColumns = append(merr.UnknownColumns, col)
			}
		}
	}

	if len(merr.MissingRoles) == 0 && len(merr.UnknownRoles) == 0 && len(merr.UnknownColumns) == 0 {
		return nil
	}
	return merr
}

// MappingGuess is the advisory output of column detection.
type MappingGuess struct {
	Columns []string `json:"columns"`
	Guess   Mapping  `json:"guess"`
}

// DetectView is a guess prepared for display. Columns may be capped;
// TotalColumns always counts the whole header.
type DetectView struct {
	Columns      []string `json:"columns"`
	Guess        Mapping  `json:"guess"`
	TotalColumns int      `json:"total_columns"`
	Truncated    bool     `json:"truncated"`
}
