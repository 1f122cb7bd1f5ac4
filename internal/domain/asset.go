package domain

// Asset is one distinct asset id within a dataset.
type Asset struct {
	ID        uint     `gorm:"primaryKey" json:"-"`
	DatasetID string   `gorm:"type:text;not null;uniqueIndex:idx_assets_dataset_asset" json:"dataset_id"`
	AssetID   string   `gorm:"type:text;not null;uniqueIndex:idx_assets_dataset_asset" json:"asset_id"`
	Label     string   `gorm:"type:text" json:"label"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// TableName returns the database table name for Asset.
func (Asset) TableName() string {
	return "assets"
}

// Fact is one materialized data row. RowNumber is the 1-based data row of the
// source file and is unique per dataset.
type Fact struct {
	ID        uint     `gorm:"primaryKey" json:"-"`
	DatasetID string   `gorm:"type:text;not null;uniqueIndex:idx_facts_dataset_row" json:"dataset_id"`
	RowNumber int64    `gorm:"not null;uniqueIndex:idx_facts_dataset_row" json:"row_number"`
	AssetID   string   `gorm:"type:text;not null;index" json:"asset_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Year      *int     `json:"year"`
	Scenario  *string  `gorm:"type:text" json:"scenario"`
	Theme     *string  `gorm:"type:text" json:"theme"`
	Indicator *string  `gorm:"type:text" json:"indicator"`
	Value     *float64 `json:"value"`
	Units     *string  `gorm:"type:text" json:"units"`
}

// TableName returns the database table name for Fact.
func (Fact) TableName() string {
	return "facts"
}
