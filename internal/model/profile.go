package model

import (
	"strconv"
	"strings"
)

const UserProfilesCollection = "user_profiles"

// UserProfile lists the optional facts that personalise the system prompt.
// A nil pointer or empty list means the field is absent.
type UserProfile struct {
	UserID            string   `json:"user_id"`
	FirstName         *string  `json:"first_name,omitempty"`
	LastName          *string  `json:"last_name,omitempty"`
	Age               *int     `json:"age,omitempty"`
	Gender            *string  `json:"gender,omitempty"`
	Conditions        []string `json:"conditions,omitempty"`
	Medications       []string `json:"medications,omitempty"`
	Allergies         []string `json:"allergies,omitempty"`
	PriorProcedures   []string `json:"prior_procedures,omitempty"`
	HeightCentimeters *float64 `json:"height_cm,omitempty"`
	WeightKilograms   *float64 `json:"weight_kg,omitempty"`
}

func (p *UserProfile) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.FirstName == nil && p.LastName == nil && p.Age == nil && p.Gender == nil &&
		len(p.Conditions) == 0 && len(p.Medications) == 0 && len(p.Allergies) == 0 &&
		len(p.PriorProcedures) == 0 && p.HeightCentimeters == nil && p.WeightKilograms == nil
}

func (p *UserProfile) Fields() map[string]any {
	fields := map[string]any{"user_id": p.UserID}
	if p.FirstName != nil {
		fields["first_name"] = *p.FirstName
	}
	if p.LastName != nil {
		fields["last_name"] = *p.LastName
	}
	if p.Age != nil {
		fields["age"] = *p.Age
	}
	if p.Gender != nil {
		fields["gender"] = *p.Gender
	}
	if len(p.Conditions) > 0 {
		fields["conditions"] = p.Conditions
	}
	if len(p.Medications) > 0 {
		fields["medications"] = p.Medications
	}
	if len(p.Allergies) > 0 {
		fields["allergies"] = p.Allergies
	}
	if len(p.PriorProcedures) > 0 {
		fields["prior_procedures"] = p.PriorProcedures
	}
	if p.HeightCentimeters != nil {
		fields["height_cm"] = *p.HeightCentimeters
	}
	if p.WeightKilograms != nil {
		fields["weight_kg"] = *p.WeightKilograms
	}
	return fields
}

// UserProfileFromFields decodes a stored profile. Values that do not have
// the expected shape are treated as absent.
func UserProfileFromFields(fields map[string]any) *UserProfile {
	p := &UserProfile{}
	p.UserID, _ = fields["user_id"].(string)
	p.FirstName = stringField(fields, "first_name")
	p.LastName = stringField(fields, "last_name")
	p.Gender = stringField(fields, "gender")
	if v, ok := numberField(fields, "age"); ok {
		age := int(v)
		p.Age = &age
	}
	if v, ok := numberField(fields, "height_cm"); ok {
		p.HeightCentimeters = &v
	}
	if v, ok := numberField(fields, "weight_kg"); ok {
		p.WeightKilograms = &v
	}
	p.Conditions = listField(fields, "conditions")
	p.Medications = listField(fields, "medications")
	p.Allergies = listField(fields, "allergies")
	p.PriorProcedures = listField(fields, "prior_procedures")
	return p
}

func stringField(fields map[string]any, key string) *string {
	s, ok := fields[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func numberField(fields map[string]any, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func listField(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
