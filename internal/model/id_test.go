package model

import (
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	types := []IDType{IDTypeJob, IDTypeUpdate, IDTypeDocument}
	prefixes := []string{"job", "upd", "doc"}

	for i, idType := range types {
		t.Run(string(idType), func(t *testing.T) {
			id, err := GenerateID(idType)
			if err != nil {
				t.Fatalf("GenerateID(%s) returned error: %v", idType, err)
			}
			if !ValidateID(id) {
				t.Errorf("generated ID %q does not match regex", id)
			}
			if id[:len(prefixes[i])] != prefixes[i] {
				t.Errorf("expected prefix %q, got %q", prefixes[i], id[:len(prefixes[i])])
			}
		})
	}
}

func TestGenerateID_InvalidType(t *testing.T) {
	_, err := GenerateID("invalid")
	if err == nil {
		t.Error("expected error for invalid ID type")
	}
}

func TestGenerateID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateID(IDTypeJob)
		if err != nil {
			t.Fatalf("GenerateID returned error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"valid job", "job_1771722000_a3f2b7c1", true},
		{"valid update", "upd_1771722060_b7c1d4e9", true},
		{"valid document", "doc_1771722300_e5f0c3d8", true},
		{"invalid prefix", "xxx_1771722000_a3f2b7c1", false},
		{"short timestamp", "job_177172200_a3f2b7c1", false},
		{"uppercase hex", "job_1771722000_A3F2B7C1", false},
		{"missing suffix", "job_1771722000", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateID(tt.id); got != tt.valid {
				t.Errorf("ValidateID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestParseIDType(t *testing.T) {
	idType, err := ParseIDType("job_1771722000_a3f2b7c1")
	if err != nil {
		t.Fatalf("ParseIDType returned error: %v", err)
	}
	if idType != IDTypeJob {
		t.Errorf("expected IDTypeJob, got %s", idType)
	}

	if _, err := ParseIDType("not-an-id"); err == nil {
		t.Error("expected error for malformed ID")
	}
}

func TestParseIDTimestamp(t *testing.T) {
	ts, err := ParseIDTimestamp("job_1771722000_a3f2b7c1")
	if err != nil {
		t.Fatalf("ParseIDTimestamp returned error: %v", err)
	}
	if !ts.Equal(time.Unix(1771722000, 0)) {
		t.Errorf("expected %v, got %v", time.Unix(1771722000, 0), ts)
	}
}
