package mysql

import "encoding/json"

// jsonOrNull marshals v for a nullable JSON column; a nil pointer or nil
// slice stores SQL NULL instead of the string "null".
func jsonOrNull(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

// unmarshalInto decodes a nullable JSON column into dst; NULL is a no-op.
func unmarshalInto(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
