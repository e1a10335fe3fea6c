package repository

import (
	"fmt"

	"github.com/goccy/go-json"

	"aqi-platform/internal/models"
)

// locationRow is the flattened Location shared by every AQI table
type locationRow struct {
	Latitude   float64  `db:"latitude"`
	Longitude  float64  `db:"longitude"`
	SiteName   *string  `db:"site_name"`
	FullAQSID  *string  `db:"full_aqsid"`
	CBSACode   *int     `db:"cbsa_code"`
	City       *string  `db:"city"`
	State      *string  `db:"state"`
	Population *float64 `db:"population"`
	Density    *float64 `db:"density"`
	Timezone   *string  `db:"timezone"`
}

const locationColumns = `latitude, longitude, site_name, full_aqsid, cbsa_code, city, state, population, density, timezone`

const locationParams = `:latitude, :longitude, :site_name, :full_aqsid, :cbsa_code, :city, :state, :population, :density, :timezone`

func newLocationRow(l models.Location) locationRow {
	return locationRow{
		Latitude:   l.Lat,
		Longitude:  l.Long,
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

func (r locationRow) toModel() models.Location {
	return models.Location{
		Lat:        r.Latitude,
		Long:       r.Longitude,
		SiteName:   r.SiteName,
		FullAQSID:  r.FullAQSID,
		CBSACode:   r.CBSACode,
		City:       r.City,
		State:      r.State,
		Population: r.Population,
		Density:    r.Density,
		Timezone:   r.Timezone,
	}
}

type measurementRow struct {
	Date                   string  `db:"date"`
	AQI                    int     `db:"aqi"`
	Category               string  `db:"category"`
	DefiningParameter      *string `db:"defining_parameter"`
	NumberOfSitesReporting *int    `db:"number_of_sites_reporting"`
	locationRow
}

const measurementColumns = `date, aqi, category, defining_parameter, number_of_sites_reporting, ` + locationColumns

func newMeasurementRow(m models.Measurement) measurementRow {
	return measurementRow{
		Date:                   m.Date,
		AQI:                    m.AQI,
		Category:               m.Category,
		DefiningParameter:      m.DefiningParameter,
		NumberOfSitesReporting: m.NumberOfSitesReporting,
		locationRow:            newLocationRow(m.Location),
	}
}

func (r measurementRow) toModel() models.Measurement {
	return models.Measurement{
		Date:                   r.Date,
		AQI:                    r.AQI,
		Category:               r.Category,
		DefiningParameter:      r.DefiningParameter,
		NumberOfSitesReporting: r.NumberOfSitesReporting,
		Location:               r.locationRow.toModel(),
	}
}

type forecastRow struct {
	Date         string `db:"date"`
	RealAQI      int    `db:"real_aqi"`
	RealCategory string `db:"real_category"`
	Predictions  []byte `db:"predictions"`
	locationRow
}

const forecastColumns = `date, real_aqi, real_category, predictions, ` + locationColumns

func newForecastRow(f models.Forecast) (forecastRow, error) {
	predictions := f.Predictions
	if predictions == nil {
		predictions = []models.Prediction{}
	}
	raw, err := json.Marshal(predictions)
	if err != nil {
		return forecastRow{}, fmt.Errorf("failed to encode predictions: %w", err)
	}
	return forecastRow{
		Date:         f.Date,
		RealAQI:      f.RealAQI,
		RealCategory: f.RealCategory,
		Predictions:  raw,
		locationRow:  newLocationRow(f.Location),
	}, nil
}

func (r forecastRow) toModel() (models.Forecast, error) {
	predictions := []models.Prediction{}
	if len(r.Predictions) > 0 {
		if err := json.Unmarshal(r.Predictions, &predictions); err != nil {
			return models.Forecast{}, fmt.Errorf("failed to decode predictions: %w", err)
		}
	}
	return models.Forecast{
		Date:         r.Date,
		RealAQI:      r.RealAQI,
		RealCategory: r.RealCategory,
		Predictions:  predictions,
		Location:     r.locationRow.toModel(),
	}, nil
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IsTransient returns false as a missing record will not appear on retry
func (e *NotFoundError) IsTransient() bool {
	return false
}
