package store

import (
	"encoding/json"
	"testing"
)

func TestNormalizeCategoryKey(t *testing.T) {
	tests := []struct {
		raw  string
		want CategoryKey
		ok   bool
	}{
		{"social_requirement", CategorySocial, true},
		{"social", CategorySocial, true},
		{" Volunteer ", CategoryVolunteerWork, true},
		{"work_week", CategoryWorkThisWeek, true},
		{"work_signup", CategorySignedUpWork, true},
		{"volunteer_signup", CategorySignedUpVolunteer, true},
		{"points", CategoryAttendance, true},
		{"admin", CategoryAdmin, true},
		{"dues", FallbackCategory, false},
		{"", FallbackCategory, false},
	}
	for _, tt := range tests {
		got, ok := NormalizeCategoryKey(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeCategoryKey(%q) = %s,%v want %s,%v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseStatusAndConfidence(t *testing.T) {
	if s, ok := ParseStatus("Accepted"); !ok || s != StatusAccepted {
		t.Errorf("ParseStatus(Accepted) = %s,%v", s, ok)
	}
	if _, ok := ParseStatus("archived"); ok {
		t.Error("archived is not a status")
	}
	if c, ok := ParseConfidence(" HIGH "); !ok || c != ConfidenceHigh {
		t.Errorf("ParseConfidence = %s,%v", c, ok)
	}
	if ConfidenceHigh.Rank() <= ConfidenceMedium.Rank() || ConfidenceMedium.Rank() <= ConfidenceLow.Rank() {
		t.Error("confidence ranks out of order")
	}
}

func TestStructured_UnmarshalNested(t *testing.T) {
	raw := `{"metric_type":"attendance","requirement":{"quantity":6,"out_of":8,"unit":"general_meetings","cadence":"semester"},"unit":"gms","time_scope":"  "}`
	var s Structured
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.Quantity == nil || *s.Quantity != 6 || s.OutOf == nil || *s.OutOf != 8 {
		t.Errorf("nested quantity/out_of not lifted: %+v", s)
	}
	if *s.Unit != "gms" {
		t.Errorf("flat unit should win, got %q", *s.Unit)
	}
	if s.TimeScope != nil {
		t.Errorf("blank time_scope should be dropped")
	}
}

func TestStructured_Combine(t *testing.T) {
	q1, q2 := 3.0, 5.0
	unit := "hours"
	a := &Structured{Quantity: &q1, Unit: &unit, Exceptions: []string{"finals week"}}
	b := &Structured{Quantity: &q2, Conditions: []string{"in person"}}

	got := a.Combine(b)
	if *got.Quantity != 5 {
		t.Errorf("later quantity should win, got %v", *got.Quantity)
	}
	if *got.Unit != "hours" {
		t.Errorf("earlier-only key should survive")
	}
	if len(got.Exceptions) != 1 || len(got.Conditions) != 1 {
		t.Errorf("lists not combined per key: %+v", got)
	}

	*got.Quantity = 99
	if *a.Quantity != 3 || *b.Quantity != 5 {
		t.Error("Combine must not alias its inputs")
	}

	var nilS *Structured
	if !nilS.Combine(nil).IsEmpty() {
		t.Error("nil combine nil should be empty")
	}
}

func TestStructured_EncodeEmpty(t *testing.T) {
	raw, err := encodeStructured(nil)
	if err != nil || raw != "{}" {
		t.Fatalf("encodeStructured(nil) = %q, %v", raw, err)
	}
	s, err := decodeStructured("{}")
	if err != nil || s != nil {
		t.Fatalf("decodeStructured({}) = %+v, %v", s, err)
	}
}

func TestHashChunkContent(t *testing.T) {
	a := HashChunkContent(ChunkSheetRange, "x", map[string]string{"sheet": "S", "range": "A1"})
	b := HashChunkContent(ChunkSheetRange, "x", map[string]string{"range": "A1", "sheet": "S"})
	if a != b {
		t.Error("hash must not depend on map order")
	}
	if a == HashChunkContent(ChunkSheetRange, "x", map[string]string{"sheet": "S", "range": "A2"}) {
		t.Error("different locator should hash differently")
	}
	if a == HashChunkContent(ChunkPastedChunk, "x", map[string]string{"sheet": "S", "range": "A1"}) {
		t.Error("different kind should hash differently")
	}
}
