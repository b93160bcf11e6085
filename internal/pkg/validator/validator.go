package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

// SupportedAspectRatios lists the output ratios the video providers accept.
var SupportedAspectRatios = []string{"16:9", "9:16"}

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Empty means "let the provider decide"
	validate.RegisterValidation("aspect_ratio", func(fl validator.FieldLevel) bool {
		ratio := fl.Field().String()
		return ratio == "" || contains(SupportedAspectRatios, ratio)
	})

	validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range validationErrors {
		field := err.Field()
		switch err.Tag() {
		case "required", "notblank":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "base64":
			errors[field] = "Invalid base64 data"
		case "aspect_ratio":
			errors[field] = "Invalid aspect ratio. Must be: " + strings.Join(SupportedAspectRatios, " or ")
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}
