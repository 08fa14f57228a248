package store

import (
	"encoding/json"
	"strings"
)

// Structured is the optional machine-readable form of a requirement. Every
// field is optional; a nil pointer or nil slice means the key is absent.
// The recognized keys are metric_type, quantity, out_of, unit, cadence,
// exceptions, conditions and time_scope.
type Structured struct {
	MetricType *string  `json:"metric_type,omitempty"`
	Quantity   *float64 `json:"quantity,omitempty"`
	OutOf      *float64 `json:"out_of,omitempty"`
	Unit       *string  `json:"unit,omitempty"`
	Cadence    *string  `json:"cadence,omitempty"`
	Exceptions []string `json:"exceptions,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
	TimeScope  *string  `json:"time_scope,omitempty"`
}

// IsEmpty reports whether no key is present.
func (s *Structured) IsEmpty() bool {
	if s == nil {
		return true
	}
	return s.MetricType == nil && s.Quantity == nil && s.OutOf == nil && s.Unit == nil &&
		s.Cadence == nil && s.Exceptions == nil && s.Conditions == nil && s.TimeScope == nil
}

// Clone returns a deep copy of s.
func (s *Structured) Clone() *Structured {
	if s == nil {
		return nil
	}
	out := &Structured{
		MetricType: cloneString(s.MetricType),
		Quantity:   cloneFloat(s.Quantity),
		OutOf:      cloneFloat(s.OutOf),
		Unit:       cloneString(s.Unit),
		Cadence:    cloneString(s.Cadence),
		TimeScope:  cloneString(s.TimeScope),
	}
	if s.Exceptions != nil {
		out.Exceptions = append([]string{}, s.Exceptions...)
	}
	if s.Conditions != nil {
		out.Conditions = append([]string{}, s.Conditions...)
	}
	return out
}

// Combine returns a copy of s with every key present in later overriding the
// same key of s. Keys are replaced whole; lists are not concatenated.
func (s *Structured) Combine(later *Structured) *Structured {
	out := s.Clone()
	if out == nil {
		out = &Structured{}
	}
	if later == nil {
		return out
	}
	if later.MetricType != nil {
		out.MetricType = cloneString(later.MetricType)
	}
	if later.Quantity != nil {
		out.Quantity = cloneFloat(later.Quantity)
	}
	if later.OutOf != nil {
		out.OutOf = cloneFloat(later.OutOf)
	}
	if later.Unit != nil {
		out.Unit = cloneString(later.Unit)
	}
	if later.Cadence != nil {
		out.Cadence = cloneString(later.Cadence)
	}
	if later.Exceptions != nil {
		out.Exceptions = append([]string{}, later.Exceptions...)
	}
	if later.Conditions != nil {
		out.Conditions = append([]string{}, later.Conditions...)
	}
	if later.TimeScope != nil {
		out.TimeScope = cloneString(later.TimeScope)
	}
	return out
}

// UnmarshalJSON accepts the flat key set as well as the extraction output's
// nested form, where quantity, out_of, unit and cadence sit under
// "requirement". Flat keys win when both are present. Unknown keys are ignored.
func (s *Structured) UnmarshalJSON(data []byte) error {
	type flat Structured
	var wire struct {
		flat
		Requirement *struct {
			Quantity *float64 `json:"quantity"`
			OutOf    *float64 `json:"out_of"`
			Unit     *string  `json:"unit"`
			Cadence  *string  `json:"cadence"`
		} `json:"requirement"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = Structured(wire.flat)
	if r := wire.Requirement; r != nil {
		if s.Quantity == nil {
			s.Quantity = r.Quantity
		}
		if s.OutOf == nil {
			s.OutOf = r.OutOf
		}
		if s.Unit == nil {
			s.Unit = r.Unit
		}
		if s.Cadence == nil {
			s.Cadence = r.Cadence
		}
	}
	s.trim()
	return nil
}

// trim drops blank string keys so that "" never counts as present.
func (s *Structured) trim() {
	for _, p := range []**string{&s.MetricType, &s.Unit, &s.Cadence, &s.TimeScope} {
		if *p != nil && strings.TrimSpace(**p) == "" {
			*p = nil
		}
	}
}

func encodeStructured(s *Structured) (string, error) {
	if s.IsEmpty() {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStructured(raw string) (*Structured, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	var s Structured
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	if s.IsEmpty() {
		return nil, nil
	}
	return &s, nil
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
