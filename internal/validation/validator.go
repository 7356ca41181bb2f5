// Package validation provides struct validation for service inputs using
// go-playground/validator v10.
//
// A single validator instance is shared process-wide (it caches struct
// metadata). Failures are translated into *Error, which lists every failing
// field with a human-readable message and unwraps to ErrInvalid so callers
// can classify it with errors.Is.
//
// Field names in messages come from the `json` tag, so they match the
// request payloads clients send.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is the kind every validation failure unwraps to.
var ErrInvalid = errors.New("validation failed")

var (
	validate     *validator.Validate
	validateOnce sync.Once

	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// FieldError is one failing field/rule pair.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Error is a collection of field failures.
type Error struct {
	Fields []FieldError
}

// Error joins all field messages.
func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalid.Error()
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Unwrap makes errors.Is(err, ErrInvalid) hold.
func (e *Error) Unwrap() error { return ErrInvalid }

// Has reports whether field failed any rule.
func (e *Error) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Field builds a single-field failure for checks that do not fit a struct
// tag.
func Field(field, rule, message string) *Error {
	return &Error{Fields: []FieldError{{Field: field, Rule: rule, Message: message}}}
}

// Get returns the shared validator, initializing it on first use.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernameRe.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		validate = v
	})
	return validate
}

// Struct validates s. It returns nil or an *Error.
func Struct(s any) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Field("unknown", "unknown", err.Error())
	}
	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: translate(fe),
		})
	}
	return out
}

var messages = map[string]string{
	"required": "%s is required",
	"notblank": "%s must not be blank",
	"email":    "%s must be a valid email address",
	"url":      "%s must be a valid URL",
	"username": "%s may only contain letters, numbers, and underscores",
}

var messagesWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
}

func translate(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()
	if tmpl, ok := messages[tag]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := messagesWithParam[tag]; ok {
		return fmt.Sprintf(tmpl, field, param)
	}

	unit := ""
	switch fe.Kind() {
	case reflect.String:
		unit = " characters"
	case reflect.Slice, reflect.Array, reflect.Map:
		unit = " items"
	}
	switch tag {
	case "min":
		return fmt.Sprintf("%s must be at least %s%s", field, param, unit)
	case "max":
		return fmt.Sprintf("%s must be at most %s%s", field, param, unit)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
