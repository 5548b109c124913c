// Package convert maps transport payloads (structpb.Struct) to service inputs and domain entities to payloads.
package convert

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/tenantauth/internal/errs"
)

// Fields reads typed values from a request payload. Missing keys read as zero values.
type Fields struct {
	m map[string]*structpb.Value
}

// Read wraps s. A nil struct reads as empty.
func Read(s *structpb.Struct) Fields {
	if s == nil {
		return Fields{}
	}
	return Fields{m: s.GetFields()}
}

// Has reports whether key is present and not null.
func (f Fields) Has(key string) bool {
	v, ok := f.m[key]
	if !ok {
		return false
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return !null
}

// Str returns the string at key, or "".
func (f Fields) Str(key string) string {
	return f.m[key].GetStringValue()
}

// OptStr returns a pointer to the string at key, or nil when absent.
func (f Fields) OptStr(key string) *string {
	if !f.Has(key) {
		return nil
	}
	s := f.Str(key)
	return &s
}

// Bool returns the bool at key and whether it was present.
func (f Fields) Bool(key string) (bool, bool) {
	if !f.Has(key) {
		return false, false
	}
	v, ok := f.m[key].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false
	}
	return v.BoolValue, true
}

// Int returns the integer at key and whether it was present.
// Non-integral or out-of-range numbers fail with a Validation error.
func (f Fields) Int(key string) (int, bool, error) {
	if !f.Has(key) {
		return 0, false, nil
	}
	v, ok := f.m[key].GetKind().(*structpb.Value_NumberValue)
	if !ok || v.NumberValue != math.Trunc(v.NumberValue) || math.Abs(v.NumberValue) > math.MaxInt32 {
		return 0, false, errs.Newf(errs.KindValidation, "%s must be an integer", key)
	}
	return int(v.NumberValue), true, nil
}

// Duration parses a Go duration string ("15m", "720h") at key.
func (f Fields) Duration(key string) (time.Duration, bool, error) {
	if !f.Has(key) {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(f.Str(key)))
	if err != nil {
		return 0, false, errs.Newf(errs.KindValidation, "%s must be a duration such as 15m", key)
	}
	return d, true, nil
}

// UUID parses the id at key.
func (f Fields) UUID(key string) (uuid.UUID, error) {
	id, err := uuid.FromString(f.Str(key))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errs.Newf(errs.KindValidation, "%s must be a valid id", key)
	}
	return id, nil
}

// Sub returns the nested object at key.
func (f Fields) Sub(key string) Fields {
	return Read(f.m[key].GetStructValue())
}

// List returns the objects in the list at key. Non-object elements are skipped.
func (f Fields) List(key string) []Fields {
	var out []Fields
	for _, v := range f.m[key].GetListValue().GetValues() {
		if s := v.GetStructValue(); s != nil {
			out = append(out, Read(s))
		}
	}
	return out
}

// Struct builds a response payload. Values must be structpb-compatible:
// nested objects as map[string]any and lists as []any.
func Struct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errs.Internal(fmt.Errorf("encode payload: %w", err))
	}
	return s, nil
}
