package utils

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type CustomErrorResponse struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func ValidationErr(err validator.ValidationErrors) []CustomErrorResponse {
	out := make([]CustomErrorResponse, 0, len(err))
	for _, fe := range err {
		out = append(out, CustomErrorResponse{
			Field:   fe.Field(),
			Tag:     fe.ActualTag(),
			Message: GetErrorMessage(fe),
		})
	}
	return out
}

// BindError shapes a binding failure: field errors from validator, the raw
// message otherwise.
func BindError(err error) any {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return ValidationErr(ve)
	}
	return err.Error()
}

func GetErrorMessage(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "required":
		return "This field is required."
	case "required_without":
		return fmt.Sprintf("Either %s or %s is required.", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters.", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s.", fe.Param())
	default:
		return "Unknown validation error."
	}
}
