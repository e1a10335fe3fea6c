package models

import (
	"errors"
	"time"
)

// AQI categories, ordered by severity
const (
	CategoryGood                  = "Good"
	CategoryModerate              = "Moderate"
	CategoryUnhealthyForSensitive = "Unhealthy for Sensitive Groups"
	CategoryUnhealthy             = "Unhealthy"
	CategoryVeryUnhealthy         = "Very Unhealthy"
	CategoryHazardous             = "Hazardous"
	CategoryNotAvailable          = "N/A"
)

const (
	// RealAQIUnknown marks a forecast whose realized AQI has not been reported
	RealAQIUnknown = -1

	PermissionRead      = 0
	PermissionReadWrite = 1

	// DateLayout is the only accepted date form; range filters compare it as a string
	DateLayout = "2006-01-02"
)

// Categories lists the six bands from least to most severe
var Categories = []string{
	CategoryGood,
	CategoryModerate,
	CategoryUnhealthyForSensitive,
	CategoryUnhealthy,
	CategoryVeryUnhealthy,
	CategoryHazardous,
}

// DefiningParameters is the set of pollutants a measurement may be driven by
var DefiningParameters = []string{"PM10", "PM2.5", "OZONE", "CO", "SO2", "NO2"}

// Category maps an AQI value to its severity band. Upper bounds are inclusive.
func Category(aqi int) string {
	switch {
	case aqi <= 50:
		return CategoryGood
	case aqi <= 100:
		return CategoryModerate
	case aqi <= 150:
		return CategoryUnhealthyForSensitive
	case aqi <= 200:
		return CategoryUnhealthy
	case aqi <= 300:
		return CategoryVeryUnhealthy
	default:
		return CategoryHazardous
	}
}

// Location is the site a record belongs to. Lat/Long is the identity used for matching.
type Location struct {
	Lat        float64  `json:"Lat"`
	Long       float64  `json:"Long"`
	SiteName   *string  `json:"Site_Name,omitempty"`
	FullAQSID  *string  `json:"Full_AQSID,omitempty"`
	CBSACode   *int     `json:"CBSA_Code,omitempty"`
	City       *string  `json:"City,omitempty"`
	State      *string  `json:"State,omitempty"`
	Population *float64 `json:"Population,omitempty"`
	Density    *float64 `json:"Density,omitempty"`
	Timezone   *string  `json:"Timezone,omitempty"`
}

// Measurement is a daily AQI reading. Current and historic records share this shape.
type Measurement struct {
	Date                   string   `json:"Date"`
	AQI                    int      `json:"AQI"`
	Category               string   `json:"Category"`
	DefiningParameter      *string  `json:"Defining_Parameter,omitempty"`
	NumberOfSitesReporting *int     `json:"Number_of_Sites_Reporting,omitempty"`
	Location               Location `json:"Location"`
}

// Collection identifies which measurement table a query or insert targets
type Collection string

const (
	CollectionCurrent  Collection = "current"
	CollectionHistoric Collection = "historic"
)

// Prediction is one day-ahead forecast value
type Prediction struct {
	DaysInAdvance int    `json:"Days_in_Advance"`
	PredAQI       int    `json:"Pred_AQI"`
	PredCategory  string `json:"Pred_Category"`
}

// NewPrediction builds a prediction with its category derived from predAQI
func NewPrediction(daysInAdvance, predAQI int) Prediction {
	return Prediction{
		DaysInAdvance: daysInAdvance,
		PredAQI:       predAQI,
		PredCategory:  Category(predAQI),
	}
}

// Forecast holds the predictions made for one location and date, plus the
// realized AQI once it is known
type Forecast struct {
	Date         string       `json:"Date"`
	RealAQI      int          `json:"Real_AQI"`
	RealCategory string       `json:"Real_Category"`
	Predictions  []Prediction `json:"Predictions"`
	Location     Location     `json:"Location"`
}

// ForecastKey addresses a forecast for mutation
type ForecastKey struct {
	Date string
	Lat  float64
	Long float64
}

// BoundingBox is an inclusive lat/long rectangle
type BoundingBox struct {
	BottomLat float64
	TopLat    float64
	LeftLong  float64
	RightLong float64
}

// DateRange is an inclusive range of YYYY-MM-DD strings, compared lexicographically
type DateRange struct {
	Start string
	End   string
}

// User is an API consumer
type User struct {
	ID         int64     `json:"-" db:"id"`
	Email      string    `json:"Email" db:"email"`
	Token      string    `json:"Token" db:"token"`
	DateJoined time.Time `json:"Date_Joined" db:"date_joined"`
	Permission int       `json:"Permission" db:"permission"`
	LastEmail  time.Time `json:"Last_Email" db:"last_email"`
}

// CanWrite reports whether the user holds the read-write permission level
func (u *User) CanWrite() bool {
	return u.Permission == PermissionReadWrite
}

// Request is one accounted API call
type Request struct {
	UserToken string    `json:"User_Token" db:"user_token"`
	Resource  string    `json:"Resource" db:"resource"`
	TimeUsed  time.Time `json:"Time_Used" db:"time_used"`
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

var (
	// ErrCooldownActive is returned when a token email was sent too recently
	ErrCooldownActive = errors.New("notification cooldown active")
	// ErrDuplicateEmail is returned when more than one user shares an email
	ErrDuplicateEmail = errors.New("multiple users registered with the same email")
	// ErrEmailTaken is returned when inserting a user whose email already exists
	ErrEmailTaken = errors.New("email already registered")
)
