package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestMappingValidate(t *testing.T) {
	header := []string{"site_id", "lat", "lon", "score"}

	testCases := []struct {
		name        string
		mapping     Mapping
		header      []string
		wantErr     bool
		wantMissing []string
		wantUnknown []string
		wantColumns []string
	}{
		{
			name:    "required roles present",
			mapping: Mapping{RoleAssetID: "site_id", RoleValue: "score", RoleLatitude: "lat"},
			header:  header,
		},
		{
			name:        "missing value role",
			mapping:     Mapping{RoleAssetID: "site_id"},
			header:      header,
			wantErr:     true,
			wantMissing: []string{RoleValue},
		},
		{
			name:        "blank counts as missing",
			mapping:     Mapping{RoleAssetID: "  ", RoleValue: "score"},
			header:      header,
			wantErr:     true,
			wantMissing: []string{RoleAssetID},
		},
		{
			name:        "unknown role key",
			mapping:     Mapping{RoleAssetID: "site_id", RoleValue: "score", "colour_col": "lat"},
			header:      header,
			wantErr:     true,
			wantUnknown: []string{"colour_col"},
		},
		{
			name:        "column not in header",
			mapping:     Mapping{RoleAssetID: "site_id", RoleValue: "hazard"},
			header:      header,
			wantErr:     true,
			wantColumns: []string{"hazard"},
		},
		{
			name:    "nil header skips column check",
			mapping: Mapping{RoleAssetID: "anything", RoleValue: "else"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.mapping.Validate(tc.header)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidMapping) {
				t.Fatalf("expected ErrInvalidMapping, got %v", err)
			}
			var merr *MappingError
			if !errors.As(err, &merr) {
				t.Fatalf("expected *MappingError, got %T", err)
			}
			if !reflect.DeepEqual(merr.MissingRoles, tc.wantMissing) {
				t.Errorf("missing roles = %v, want %v", merr.MissingRoles, tc.wantMissing)
			}
			if !reflect.DeepEqual(merr.UnknownRoles, tc.wantUnknown) {
				t.Errorf("unknown roles = %v, want %v", merr.UnknownRoles, tc.wantUnknown)
			}
			if !reflect.DeepEqual(merr.UnknownColumns, tc.wantColumns) {
				t.Errorf("unknown columns = %v, want %v", merr.UnknownColumns, tc.wantColumns)
			}
		})
	}
}

func TestMappingNormalize(t *testing.T) {
	m := Mapping{RoleAssetID: " site_id "}.Normalize()
	if len(m) != len(Roles) {
		t.Fatalf("expected %d roles, got %d", len(Roles), len(m))
	}
	if m[RoleAssetID] != "site_id" {
		t.Errorf("expected trimmed column, got %q", m[RoleAssetID])
	}
	if v, ok := m[RoleUnits]; !ok || v != "" {
		t.Errorf("expected empty units role, got %q (present=%v)", v, ok)
	}
}

func TestMissingParts(t *testing.T) {
	testCases := []struct {
		name  string
		parts []int
		want  []int
	}{
		{name: "none uploaded", parts: nil, want: []int{0}},
		{name: "single part", parts: []int{0}, want: nil},
		{name: "contiguous", parts: []int{0, 1, 2, 3}, want: nil},
		{name: "leading gap", parts: []int{1, 2}, want: []int{0}},
		{name: "middle gaps", parts: []int{0, 3, 5}, want: []int{1, 2, 4}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := MissingParts(tc.parts)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("MissingParts(%v) = %v, want %v", tc.parts, got, tc.want)
			}
		})
	}
}

func TestIncompleteUploadError(t *testing.T) {
	err := error(&IncompleteUploadError{Missing: []int{1, 4}})
	if !errors.Is(err, ErrIncompleteUpload) {
		t.Fatal("expected errors.Is to match ErrIncompleteUpload")
	}
	if got := err.Error(); got != "incomplete upload: missing parts [1,4]" {
		t.Errorf("unexpected message %q", got)
	}
	if !IsStructural(err) {
		t.Error("incomplete upload should be structural")
	}
	if IsStructural(ErrTransientStep) {
		t.Error("transient step failure should not be structural")
	}
}

func TestDatasetStatusTerminal(t *testing.T) {
	terminal := map[DatasetStatus]bool{
		DatasetStatusUploading:      false,
		DatasetStatusUploaded:       false,
		DatasetStatusDetecting:      false,
		DatasetStatusMappingPending: false,
		DatasetStatusProcessing:     false,
		DatasetStatusReady:          true,
		DatasetStatusFailed:         true,
		DatasetStatusCancelled:      true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}
