package schema

import (
	"strings"
)

// WindowLength is the number of daily AQI values the model consumes per window
const WindowLength = 30

// PredictionRequest is the POST /predict body
type PredictionRequest struct {
	Data [][]int `json:"data" validate:"required,dive,len=30"`
}

// Validate checks that every window holds exactly WindowLength values
func (p *PredictionRequest) Validate() error {
	return validateStruct(p)
}

// DecodePredictionRequest decodes and validates a prediction body
func DecodePredictionRequest(raw []byte) (*PredictionRequest, error) {
	var req PredictionRequest
	if err := decodeStrict(raw, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// NewUserRequest is the POST /new-user body
type NewUserRequest struct {
	Email *string `json:"email" validate:"required,email"`
}

// Validate checks the email address format
func (n *NewUserRequest) Validate() error {
	return validateStruct(n)
}

// DecodeNewUserRequest decodes and validates a new-user body. The email is
// trimmed before validation.
func DecodeNewUserRequest(raw []byte) (*NewUserRequest, error) {
	var req NewUserRequest
	if err := decodeStrict(raw, &req); err != nil {
		return nil, err
	}
	if req.Email != nil {
		trimmed := strings.TrimSpace(*req.Email)
		req.Email = &trimmed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
