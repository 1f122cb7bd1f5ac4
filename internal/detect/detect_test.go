package detect

import (
	"strings"
	"testing"

	"github.com/timmy/assetingest/internal/domain"
)

func TestSynonymDetector_Guess(t *testing.T) {
	d := NewSynonymDetector(nil)

	tests := []struct {
		name    string
		columns []string
		want    map[string]string
	}{
		{
			name:    "short names",
			columns: []string{"ID", "Lat", "Lon", "Score"},
			want: map[string]string{
				domain.RoleAssetID:   "ID",
				domain.RoleLatitude:  "Lat",
				domain.RoleLongitude: "Lon",
				domain.RoleValue:     "Score",
				domain.RoleLabel:     "",
			},
		},
		{
			name:    "priority order",
			columns: []string{"y", "latitude", "value", "score"},
			want: map[string]string{
				domain.RoleLatitude: "latitude",
				domain.RoleValue:    "score",
			},
		},
		{
			name:    "no matches",
			columns: []string{"foo", "bar"},
			want: map[string]string{
				domain.RoleAssetID: "",
				domain.RoleValue:   "",
			},
		},
		{
			name:    "empty header",
			columns: nil,
			want:    map[string]string{domain.RoleLatitude: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Guess(tt.columns)
			if len(got) != len(domain.Roles) {
				t.Errorf("Guess() has %d roles, want %d", len(got), len(domain.Roles))
			}
			for role, want := range tt.want {
				if got[role] != want {
					t.Errorf("Guess()[%s] = %q, want %q", role, got[role], want)
				}
			}
		})
	}
}

func TestReadHeader(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantCols   []string
		wantOffset int64
	}{
		{"plain", "a,b\n1,2\n", []string{"a", "b"}, 4},
		{"bom", "\ufeffa,b\r\n1,2\r\n", []string{"a", "b"}, 8},
		{"quoted", "\"x,y\",z\n", []string{"x,y", "z"}, 8},
		{"empty", "", []string{}, 0},
		{"header only", "a,b", []string{"a", "b"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr, err := ReadHeader(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadHeader() error = %v", err)
			}
			if strings.Join(hdr.Columns, "|") != strings.Join(tt.wantCols, "|") {
				t.Errorf("Columns = %v, want %v", hdr.Columns, tt.wantCols)
			}
			if hdr.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", hdr.Offset, tt.wantOffset)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	d := NewSynonymDetector(nil)

	guess, err := Detect(strings.NewReader("site_id,latitude,longitude,value\nA,1,2,3\n"), "sites.CSV", d)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(guess.Columns) != 4 {
		t.Errorf("Columns = %v", guess.Columns)
	}
	if guess.Guess[domain.RoleAssetID] != "site_id" || guess.Guess[domain.RoleLatitude] != "latitude" {
		t.Errorf("Guess = %v", guess.Guess)
	}

	guess, err = Detect(strings.NewReader("not,a,csv\n"), "sites.xlsx", d)
	if err != nil {
		t.Fatalf("Detect(xlsx) error = %v", err)
	}
	if len(guess.Columns) != 0 || guess.Guess[domain.RoleAssetID] != "" {
		t.Errorf("Detect(xlsx) = %+v, want no columns", guess)
	}
}
