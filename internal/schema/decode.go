package schema

import (
	"bytes"
	"reflect"
	"strings"

	"github.com/goccy/go-json"

	"aqi-platform/internal/models"
)

// IsEmptyPayload reports whether a request body carries no data: missing,
// null, or an empty object, array or string
func IsEmptyPayload(raw []byte) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "{}", "[]", `""`, "false", "0":
		return true
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) >= 2 && (trimmed[0] == '{' || trimmed[0] == '[') {
		inner := bytes.TrimSpace(trimmed[1 : len(trimmed)-1])
		return len(inner) == 0
	}
	return false
}

// decodeStrict unmarshals raw into dest rejecting unknown fields
func decodeStrict(raw []byte, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return &models.ValidationError{Message: "malformed payload: " + err.Error()}
	}
	return nil
}

// decodeArray unmarshals a JSON array of objects into dest
func decodeArray(raw []byte, dest interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return &models.ValidationError{Message: "payload must be a JSON array"}
	}
	return decodeStrict(trimmed, dest)
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

// trimRootNamespace drops the Go type name validator puts in front of the
// field path ("MeasurementRecord.Location.Lat" -> "Location.Lat")
func trimRootNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
