// Package schema decodes and validates inbound API payloads. Every payload
// variant has its own request type with a Validate method; field rules are
// expressed as go-playground/validator tags and cross-field rules in code.
package schema

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"aqi-platform/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the shared validator with the AQI tags registered
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)

		// Registration only fails on an empty tag or nil func.
		_ = validate.RegisterValidation("aqi_category", func(fl validator.FieldLevel) bool {
			return isCategory(fl.Field().String(), false)
		})
		_ = validate.RegisterValidation("aqi_category_or_na", func(fl validator.FieldLevel) bool {
			return isCategory(fl.Field().String(), true)
		})
	})
	return validate
}

func isCategory(value string, allowNA bool) bool {
	if allowNA && value == models.CategoryNotAvailable {
		return true
	}
	for _, c := range models.Categories {
		if c == value {
			return true
		}
	}
	return false
}

// validateStruct runs the tag rules on s and returns the first failure as a
// *models.ValidationError
func validateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &models.ValidationError{Message: err.Error()}
	}

	fe := fieldErrs[0]
	return &models.ValidationError{
		Field:   trimRootNamespace(fe.Namespace()),
		Value:   fmt.Sprintf("%v", fe.Value()),
		Message: translateError(fe),
	}
}

var errorMessageTemplates = map[string]string{
	"required":           "is required",
	"email":              "must be a valid email address",
	"aqi_category":       "must be a valid AQI category",
	"aqi_category_or_na": "must be a valid AQI category or N/A",
	"datetime":           "must be a date in YYYY-MM-DD form",
}

var errorMessageWithParam = map[string]string{
	"oneof": "must be one of: %s",
	"gte":   "must be greater than or equal to %s",
	"lte":   "must be less than or equal to %s",
	"len":   "must contain exactly %s items",
}

func translateError(fe validator.FieldError) string {
	if msg, ok := errorMessageTemplates[fe.Tag()]; ok {
		return msg
	}
	if template, ok := errorMessageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(template, fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
