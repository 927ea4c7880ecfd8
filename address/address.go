// Package address defines the records exchanged between the row source,
// the row processors and the verification pass.
package address

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// FieldName identifies one logical address field.
type FieldName string

// Logical address fields. The first five are request fields.
const (
	StreetName     FieldName = "StreetName"
	StreetPrefix   FieldName = "StreetPrefix"
	BuildingNumber FieldName = "BuildingNumber"
	City           FieldName = "City"
	PostalCode     FieldName = "PostalCode"
	Commune        FieldName = "Commune"
	District       FieldName = "District"
	Province       FieldName = "Province"
)

// RequestFields are the fields sent to the normalization service and bound
// as named query parameters.
var RequestFields = []FieldName{
	StreetName, StreetPrefix, BuildingNumber, City, PostalCode,
}

// OutputFields are the fields every result source is expected to return,
// in output column order.
var OutputFields = []FieldName{
	StreetPrefix, StreetName, BuildingNumber, City,
	PostalCode, Commune, District, Province,
}

// ParseFieldName resolves a field name case-insensitively.
func ParseFieldName(s string) (FieldName, error) {
	for _, f := range OutputFields {
		if strings.EqualFold(string(f), strings.TrimSpace(s)) {
			return f, nil
		}
	}

	return "", fmt.Errorf("unknown address field %q", s)
}

// Field is either a string value or the Absent marker. The zero value is
// Absent, which is never equal to a present empty string.
type Field struct {
	value   string
	present bool
}

// Absent marks a value whose column does not exist in the result source.
var Absent = Field{}

// Value returns a present field holding s.
func Value(s string) Field {
	return Field{value: s, present: true}
}

// IsAbsent reports whether f carries the Absent marker.
func (f Field) IsAbsent() bool {
	return !f.present
}

// String returns the value, or "" for Absent. Use IsAbsent to tell the two
// apart.
func (f Field) String() string {
	return f.value
}

// MarshalJSON encodes Absent as null.
func (f Field) MarshalJSON() ([]byte, error) {
	if !f.present {
		return []byte("null"), nil
	}

	return json.Marshal(f.value)
}

// UnmarshalJSON decodes a present value. JSON null becomes a present empty
// string; a key missing from the object leaves the field Absent. Non-string
// scalars (building numbers sent as numbers) keep their literal text.
func (f *Field) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*f = Value("")
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*f = Value(s)
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return fmt.Errorf("address field must be a scalar, got %s", data)
	default:
		*f = Value(string(data))
	}

	return nil
}

// Record is one address as returned by a result source.
type Record struct {
	StreetPrefix   Field `json:"StreetPrefix"`
	StreetName     Field `json:"StreetName"`
	BuildingNumber Field `json:"BuildingNumber"`
	City           Field `json:"City"`
	PostalCode     Field `json:"PostalCode"`
	Commune        Field `json:"Commune"`
	District       Field `json:"District"`
	Province       Field `json:"Province"`
}

// Get returns the named field.
func (r *Record) Get(name FieldName) Field {
	if p := r.ptr(name); p != nil {
		return *p
	}

	return Absent
}

// Set assigns the named field. Unknown names are ignored.
func (r *Record) Set(name FieldName, f Field) {
	if p := r.ptr(name); p != nil {
		*p = f
	}
}

func (r *Record) ptr(name FieldName) *Field {
	switch name {
	case StreetPrefix:
		return &r.StreetPrefix
	case StreetName:
		return &r.StreetName
	case BuildingNumber:
		return &r.BuildingNumber
	case City:
		return &r.City
	case PostalCode:
		return &r.PostalCode
	case Commune:
		return &r.Commune
	case District:
		return &r.District
	case Province:
		return &r.Province
	default:
		return nil
	}
}

// Row is an immutable snapshot of one test row taken before dispatch.
type Row struct {
	// Index is the row's position in the source; unique and stable.
	Index int

	StreetName     string
	StreetPrefix   string
	BuildingNumber string
	City           string
	PostalCode     string

	// Columns holds every source cell by header name. Read-only.
	Columns map[string]string

	// Header lists the source header names in column order. Shared between
	// rows and read-only.
	Header []string
}

// Request returns the native value of a request field.
func (r Row) Request(name FieldName) string {
	switch name {
	case StreetName:
		return r.StreetName
	case StreetPrefix:
		return r.StreetPrefix
	case BuildingNumber:
		return r.BuildingNumber
	case City:
		return r.City
	case PostalCode:
		return r.PostalCode
	default:
		return ""
	}
}

// Column looks up a source cell by header name. An exact match wins;
// otherwise the first header equal under case folding is used.
func (r Row) Column(name string) (string, bool) {
	if v, ok := r.Columns[name]; ok {
		return v, true
	}

	header := r.Header
	if header == nil {
		header = slices.Sorted(maps.Keys(r.Columns))
	}

	for _, h := range header {
		if v, ok := r.Columns[h]; ok && strings.EqualFold(h, name) {
			return v, true
		}
	}

	return "", false
}
