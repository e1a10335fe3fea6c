package schema

import (
	"fmt"

	"github.com/goccy/go-json"

	"aqi-platform/internal/models"
)

// LocationInput is the Location sub-document of every record payload
type LocationInput struct {
	Lat        *float64 `json:"Lat" validate:"required,gte=-90,lte=90"`
	Long       *float64 `json:"Long" validate:"required,gte=-180,lte=180"`
	SiteName   *string  `json:"Site_Name"`
	FullAQSID  *string  `json:"Full_AQSID"`
	CBSACode   *int     `json:"CBSA_Code"`
	City       *string  `json:"City"`
	State      *string  `json:"State"`
	Population *float64 `json:"Population"`
	Density    *float64 `json:"Density"`
	Timezone   *string  `json:"Timezone"`
}

// ToLocation converts a validated input into the domain value
func (l *LocationInput) ToLocation() models.Location {
	return models.Location{
		Lat:        *l.Lat,
		Long:       *l.Long,
		SiteName:   l.SiteName,
		FullAQSID:  l.FullAQSID,
		CBSACode:   l.CBSACode,
		City:       l.City,
		State:      l.State,
		Population: l.Population,
		Density:    l.Density,
		Timezone:   l.Timezone,
	}
}

// MeasurementRecord is one element of a current or historic insert, and of
// the Actual list of a forecast patch
type MeasurementRecord struct {
	// Dates are stored as text and range-compared lexicographically, so
	// they must be zero padded
	Date                   *string        `json:"Date" validate:"required,datetime=2006-01-02"`
	AQI                    *int           `json:"AQI" validate:"required"`
	Category               *string        `json:"Category" validate:"omitempty,aqi_category"`
	DefiningParameter      *string        `json:"Defining_Parameter" validate:"required,oneof=PM10 PM2.5 OZONE CO SO2 NO2"`
	NumberOfSitesReporting *int           `json:"Number_of_Sites_Reporting"`
	Location               *LocationInput `json:"Location" validate:"required"`
}

// Validate checks the record shape
func (m *MeasurementRecord) Validate() error {
	return validateStruct(m)
}

// ToMeasurement converts a validated record. The supplied Category is
// ignored and derived from AQI.
func (m *MeasurementRecord) ToMeasurement() models.Measurement {
	return models.Measurement{
		Date:                   *m.Date,
		AQI:                    *m.AQI,
		Category:               models.Category(*m.AQI),
		DefiningParameter:      m.DefiningParameter,
		NumberOfSitesReporting: m.NumberOfSitesReporting,
		Location:               m.Location.ToLocation(),
	}
}

// PredictionInput is the single prediction carried by a forecast payload
type PredictionInput struct {
	DaysInAdvance *int    `json:"Days_in_Advance" validate:"required,gte=1,lte=7"`
	PredAQI       *int    `json:"Pred_AQI" validate:"required"`
	PredCategory  *string `json:"Pred_Category" validate:"omitempty,aqi_category"`
}

// ToPrediction converts a validated input, deriving the category
func (p *PredictionInput) ToPrediction() models.Prediction {
	return models.NewPrediction(*p.DaysInAdvance, *p.PredAQI)
}

// ForecastRecord is one element of a forecast insert and of the Predictions
// list of a forecast patch
type ForecastRecord struct {
	Date         *string          `json:"Date" validate:"required,datetime=2006-01-02"`
	RealAQI      *int             `json:"Real_AQI"`
	RealCategory *string          `json:"Real_Category" validate:"omitempty,aqi_category_or_na"`
	Predictions  *PredictionInput `json:"Predictions" validate:"required"`
	Location     *LocationInput   `json:"Location" validate:"required"`
}

// Validate checks the record shape
func (f *ForecastRecord) Validate() error {
	return validateStruct(f)
}

// Key returns the (date, lat, long) triple addressing the forecast
func (f *ForecastRecord) Key() models.ForecastKey {
	return models.ForecastKey{Date: *f.Date, Lat: *f.Location.Lat, Long: *f.Location.Long}
}

// ToForecast builds a new forecast holding exactly one prediction. Realized
// values start unknown regardless of the payload.
func (f *ForecastRecord) ToForecast() models.Forecast {
	return models.Forecast{
		Date:         *f.Date,
		RealAQI:      models.RealAQIUnknown,
		RealCategory: models.CategoryNotAvailable,
		Predictions:  []models.Prediction{f.Predictions.ToPrediction()},
		Location:     f.Location.ToLocation(),
	}
}

// DecodeMeasurements decodes and validates a measurement array. Any invalid
// element rejects the whole batch.
func DecodeMeasurements(raw []byte) ([]MeasurementRecord, error) {
	var records []MeasurementRecord
	if err := decodeArray(raw, &records); err != nil {
		return nil, err
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, indexed(i, err)
		}
	}
	return records, nil
}

// DecodeForecasts decodes and validates a forecast array. Any invalid element
// rejects the whole batch.
func DecodeForecasts(raw []byte) ([]ForecastRecord, error) {
	var records []ForecastRecord
	if err := decodeArray(raw, &records); err != nil {
		return nil, err
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, indexed(i, err)
		}
	}
	return records, nil
}

// ForecastPatch is the PATCH /forecasts body. Each key is optional and
// decoded separately so one bad list does not block the other.
type ForecastPatch struct {
	Predictions json.RawMessage `json:"Predictions"`
	Actual      json.RawMessage `json:"Actual"`
}

// HasPredictions reports whether the Predictions key was supplied
func (p *ForecastPatch) HasPredictions() bool { return len(p.Predictions) > 0 }

// HasActual reports whether the Actual key was supplied
func (p *ForecastPatch) HasActual() bool { return len(p.Actual) > 0 }

// DecodeForecastPatch reads the patch envelope. Unknown top-level keys are ignored.
func DecodeForecastPatch(raw []byte) (*ForecastPatch, error) {
	var patch ForecastPatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, &models.ValidationError{Message: "malformed payload: " + err.Error()}
	}
	return &patch, nil
}

func indexed(i int, err error) error {
	if ve, ok := err.(*models.ValidationError); ok {
		return &models.ValidationError{
			Field:   fmt.Sprintf("[%d].%s", i, ve.Field),
			Value:   ve.Value,
			Message: ve.Message,
		}
	}
	return err
}
