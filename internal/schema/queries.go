package schema

import (
	"net/url"
	"strconv"
	"strings"

	"aqi-platform/internal/models"
)

// QueryParams is the GET shape shared by /current and /forecasts
type QueryParams struct {
	Token string   `validate:"required"`
	BLat  *float64 `validate:"required,gte=-90,lte=90"`
	TLat  *float64 `validate:"required,gte=-90,lte=90"`
	LLong *float64 `validate:"required,gte=-180,lte=180"`
	RLong *float64 `validate:"required,gte=-180,lte=180"`
	Limit bool
}

// ParseQueryParams reads the range query from URL parameters. Unparseable
// numbers or limit flags are reported as validation errors.
func ParseQueryParams(values url.Values) (*QueryParams, error) {
	q := &QueryParams{Token: values.Get("token")}

	var err error
	if q.BLat, err = parseFloatParam(values, "bLat"); err != nil {
		return nil, err
	}
	if q.TLat, err = parseFloatParam(values, "tLat"); err != nil {
		return nil, err
	}
	if q.LLong, err = parseFloatParam(values, "lLong"); err != nil {
		return nil, err
	}
	if q.RLong, err = parseFloatParam(values, "rLong"); err != nil {
		return nil, err
	}
	if raw, ok := values["limit"]; ok && len(raw) > 0 {
		limit, ok := parseTruthy(raw[0])
		if !ok {
			return nil, &models.ValidationError{Field: "limit", Value: raw[0], Message: "must be a boolean"}
		}
		q.Limit = limit
	}
	return q, nil
}

// Validate checks field ranges and that the box is not inverted
func (q *QueryParams) Validate() error {
	if err := validateStruct(q); err != nil {
		return err
	}
	return q.checkBox()
}

func (q *QueryParams) checkBox() error {
	if *q.BLat > *q.TLat {
		return &models.ValidationError{Field: "bLat", Message: "top latitude must be greater than bottom latitude"}
	}
	if *q.LLong > *q.RLong {
		return &models.ValidationError{Field: "lLong", Message: "right longitude must be greater than left longitude"}
	}
	return nil
}

// Box returns the validated bounding box
func (q *QueryParams) Box() models.BoundingBox {
	return models.BoundingBox{BottomLat: *q.BLat, TopLat: *q.TLat, LeftLong: *q.LLong, RightLong: *q.RLong}
}

// HasBox reports whether any bounding box parameter was supplied
func HasBox(values url.Values) bool {
	for _, k := range []string{"bLat", "tLat", "lLong", "rLong"} {
		if _, ok := values[k]; ok {
			return true
		}
	}
	return false
}

// HistoricQueryParams adds the required date range to QueryParams
type HistoricQueryParams struct {
	QueryParams
	Start *string `validate:"required"`
	End   *string `validate:"required"`
}

// ParseHistoricQueryParams reads the historic range query from URL parameters
func ParseHistoricQueryParams(values url.Values) (*HistoricQueryParams, error) {
	base, err := ParseQueryParams(values)
	if err != nil {
		return nil, err
	}
	q := &HistoricQueryParams{QueryParams: *base}
	if v, ok := values["start"]; ok && len(v) > 0 {
		q.Start = &v[0]
	}
	if v, ok := values["end"]; ok && len(v) > 0 {
		q.End = &v[0]
	}
	return q, nil
}

// Validate checks the box and that start..end lies within [earliest, today]
// and is not inverted
func (q *HistoricQueryParams) Validate(earliest, today string) error {
	if err := validateStruct(q); err != nil {
		return err
	}
	if err := q.checkBox(); err != nil {
		return err
	}
	return validateDateWindow("start", *q.Start, *q.End, earliest, today)
}

// Range returns the validated date range
func (q *HistoricQueryParams) Range() models.DateRange {
	return models.DateRange{Start: *q.Start, End: *q.End}
}

// ModelDataQuery is one element of the POST /model-data body
type ModelDataQuery struct {
	Start    *string        `json:"Start" validate:"required"`
	End      *string        `json:"End" validate:"required"`
	Location *LocationInput `json:"Location" validate:"required"`
}

// Validate checks the shape and the date window
func (m *ModelDataQuery) Validate(earliest, today string) error {
	if err := validateStruct(m); err != nil {
		return err
	}
	return validateDateWindow("Start", *m.Start, *m.End, earliest, today)
}

// DecodeModelDataQueries decodes and validates a model-data array
func DecodeModelDataQueries(raw []byte, earliest, today string) ([]ModelDataQuery, error) {
	var queries []ModelDataQuery
	if err := decodeArray(raw, &queries); err != nil {
		return nil, err
	}
	for i := range queries {
		if err := queries[i].Validate(earliest, today); err != nil {
			return nil, indexed(i, err)
		}
	}
	return queries, nil
}

// validateDateWindow compares dates as strings, matching how the stored
// dates are filtered
func validateDateWindow(field, start, end, earliest, today string) error {
	for _, d := range []struct{ name, value string }{{"start", start}, {"end", end}} {
		if d.value < earliest || d.value > today {
			return &models.ValidationError{
				Field:   d.name,
				Value:   d.value,
				Message: "must be between " + earliest + " and " + today,
			}
		}
	}
	if start > end {
		return &models.ValidationError{Field: field, Value: start, Message: "start must not be after end"}
	}
	return nil
}

func parseFloatParam(values url.Values, key string) (*float64, error) {
	raw, ok := values[key]
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw[0], 64)
	if err != nil {
		return nil, &models.ValidationError{Field: key, Value: raw[0], Message: "must be a number"}
	}
	return &v, nil
}

var (
	truthy = map[string]bool{"t": true, "true": true, "on": true, "y": true, "yes": true, "1": true}
	falsy  = map[string]bool{"f": true, "false": true, "off": true, "n": true, "no": true, "0": true}
)

// parseTruthy accepts the usual spellings of a boolean flag
func parseTruthy(raw string) (value bool, ok bool) {
	key := strings.ToLower(raw)
	if truthy[key] {
		return true, true
	}
	if falsy[key] {
		return false, true
	}
	return false, false
}
