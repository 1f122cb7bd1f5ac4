package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/timmy/assetingest/internal/domain"
)

// rowMapper turns CSV records into facts and assets using a mapping
// resolved against the header once per step.
type rowMapper struct {
	datasetID string
	index     map[string]int
}

func newRowMapper(datasetID string, header []string, mapping domain.Mapping) *rowMapper {
	pos := make(map[string]int, len(header))
	for i, col := range header {
		if _, dup := pos[col]; !dup {
			pos[col] = i
		}
	}
	index := make(map[string]int, len(domain.Roles))
	for _, role := range domain.Roles {
		index[role] = -1
		if col := mapping.Column(role); col != "" {
			if i, ok := pos[col]; ok {
				index[role] = i
			}
		}
	}
	return &rowMapper{datasetID: datasetID, index: index}
}

func (m *rowMapper) field(record []string, role string) string {
	i := m.index[role]
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// row maps one record. It returns false when the asset id is blank.
func (m *rowMapper) row(rowNumber int64, record []string) (domain.Fact, domain.Asset, bool) {
	assetID := m.field(record, domain.RoleAssetID)
	if assetID == "" {
		return domain.Fact{}, domain.Asset{}, false
	}

	lat := parseFloat(m.field(record, domain.RoleLatitude))
	lon := parseFloat(m.field(record, domain.RoleLongitude))
	label := m.field(record, domain.RoleLabel)
	if label == "" {
		label = assetID
	}

	fact := domain.Fact{
		DatasetID: m.datasetID,
		RowNumber: rowNumber,
		AssetID:   assetID,
		Latitude:  lat,
		Longitude: lon,
		Year:      parseYear(m.field(record, domain.RoleYear)),
		Scenario:  optString(m.field(record, domain.RoleScenario)),
		Theme:     optString(m.field(record, domain.RoleTheme)),
		Indicator: optString(m.field(record, domain.RoleIndicator)),
		Value:     parseFloat(m.field(record, domain.RoleValue)),
		Units:     optString(m.field(record, domain.RoleUnits)),
	}
	asset := domain.Asset{
		DatasetID: m.datasetID,
		AssetID:   assetID,
		Label:     label,
		Latitude:  lat,
		Longitude: lon,
	}
	return fact, asset, true
}

// parseFloat returns nil for blank, malformed or non-finite input.
func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// parseYear accepts "2030" and "2030.0".
func parseYear(s string) *int {
	f := parseFloat(s)
	if f == nil {
		return nil
	}
	t := math.Trunc(*f)
	if t > math.MaxInt32 || t < math.MinInt32 {
		return nil
	}
	y := int(t)
	return &y
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
