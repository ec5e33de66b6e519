package object

// Helpers for Field.Set closures converting the generic interface{} values
// produced by Kind.Deserialize (encoding/json's float64/string/bool/...)
// into the concrete Go types api descriptors store. Deserialize already
// type-checked the value, so these assume the assertion succeeds.

func Int64(v interface{}) int64 {
	if v == nil {
		return 0
	}
	return int64(v.(float64))
}

func Float64(v interface{}) float64 {
	if v == nil {
		return 0
	}
	return v.(float64)
}

func BoolVal(v interface{}) bool {
	if v == nil {
		return false
	}
	return v.(bool)
}

func Str(v interface{}) string {
	if v == nil {
		return ""
	}
	return v.(string)
}

// NullableInt64 returns a *int64, or nil when v is nil (JSON null or an
// absent optional field).
func NullableInt64(v interface{}) *int64 {
	if v == nil {
		return nil
	}
	n := int64(v.(float64))
	return &n
}

// NullableStr returns a *string, or nil when v is nil.
func NullableStr(v interface{}) *string {
	if v == nil {
		return nil
	}
	s := v.(string)
	return &s
}

// FromNullableInt64 converts a *int64 back into the interface{} shape Kind
// Serialize/Set expect: nil stays nil, otherwise the float64 JSON will
// natively encode.
func FromNullableInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return float64(*p)
}

func FromNullableStr(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
