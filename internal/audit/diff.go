package audit

import (
	"encoding/json"
	"reflect"
	"sort"
)

// ChangedFields returns the sorted keys that differ between old and new.
// A key present on one side only counts as changed. Either side nil yields nil.
func ChangedFields(oldValues, newValues map[string]any) []string {
	if oldValues == nil || newValues == nil {
		return nil
	}
	var out []string
	for k, ov := range oldValues {
		nv, ok := newValues[k]
		if !ok || !reflect.DeepEqual(ov, nv) {
			out = append(out, k)
		}
	}
	for k := range newValues {
		if _, ok := oldValues[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// toMap normalises a snapshot through JSON so structs and maps compare alike.
func toMap(v any) (map[string]any, json.RawMessage, error) {
	if v == nil {
		return nil, nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	if string(raw) == "null" {
		return nil, nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, err
	}
	return m, raw, nil
}
