package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

// newValidator reports fields by their json names and knows the domain's
// enumerations.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("webhook_event", func(fl validator.FieldLevel) bool {
		return domain.WebhookEventType(fl.Field().String()).IsValid()
	})
	return v
}

var tagMessages = map[string]string{
	"required":            "required",
	"uuid":                "must be a valid UUID",
	"numeric":             "must be a decimal string",
	"uppercase":           "must be uppercase",
	"datetime":            "must be an RFC3339 timestamp",
	"webhook_event":       "unknown event type",
	"required_for_payout": "required for payout events",
}

func validationFields(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "body", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := tagMessages[fe.Tag()]
		switch {
		case ok:
		case fe.Tag() == "max":
			msg = "must be at most " + fe.Param() + " characters"
		case fe.Tag() == "len":
			msg = "must be exactly " + fe.Param() + " characters"
		default:
			msg = "failed " + fe.Tag()
		}
		out = append(out, FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}
