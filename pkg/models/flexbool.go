package models

import (
	"encoding/json"
	"strings"
)

// FlexBool is an optional boolean that also accepts string and numeric forms.
type FlexBool struct {
	Set   bool
	Value bool
}

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*f = FlexBool{}
	case bool:
		*f = FlexBool{Set: true, Value: v}
	case float64:
		*f = FlexBool{Set: true, Value: v == 1}
	case string:
		*f = FlexBool{Set: true, Value: ParseTruthy(v)}
	default:
		*f = FlexBool{Set: true, Value: false}
	}
	return nil
}

func (f FlexBool) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Ptr returns nil when the flag was not supplied.
func (f FlexBool) Ptr() *bool {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

// ParseTruthy accepts "true", "1" and "yes" in any case.
func ParseTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
