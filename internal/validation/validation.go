// Package validation turns `binding` struct tags into apperr validation
// errors. The same tags are checked by gin when a request is bound and by
// Struct for payloads that arrive some other way, such as Kafka commands.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"rewards-service/internal/apperr"

	"github.com/go-playground/validator/v10"
)

var std = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	Configure(v)
	return v
}

// Configure makes v report fields by their JSON names
func Configure(v *validator.Validate) {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" {
			return f.Name
		}
		return name
	})
}

// Struct checks the binding tags of s
func Struct(s interface{}) error {
	return Translate(std.Struct(s))
}

// Translate converts a bind or validation error into an apperr validation
// error. Only the first failing field is reported.
func Translate(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperr.Validation(fieldPath(fe), message(fe))
	}
	return apperr.Validation("body", "Invalid request body: "+err.Error())
}

// fieldPath drops the root struct name: SubmittedRequest.items[0].quantity
// becomes items[0].quantity
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return "Must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("At least %s required", fe.Param())
		}
		return "Must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("At most %s characters", fe.Param())
		}
		return "Must be at most " + fe.Param()
	case "datetime":
		return "Must match the format " + fe.Param()
	case "required_without", "excluded_with":
		return fmt.Sprintf("Exactly one of %s or %s is required", fe.Field(), lowerFirst(fe.Param()))
	}
	return fmt.Sprintf("Failed the %s check", fe.Tag())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
