package utils

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Fields are reported under their JSON names (question_type, not QuestionType).
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// FieldErrors maps a request field to the reason it was rejected.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	slices.Sort(names)
	return "invalid " + strings.Join(names, ", ")
}

// AsFieldErrors unwraps err to FieldErrors.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	ok := errors.As(err, &fe)
	return fe, ok
}

// Validate checks the validate tags on s. Tag failures come back as
// FieldErrors; anything else (a non-struct argument) is returned as is.
func Validate(s interface{}) error {
	err := validate.Struct(s)
	var failures validator.ValidationErrors
	if !errors.As(err, &failures) {
		return err
	}

	fe := make(FieldErrors, len(failures))
	for _, failure := range failures {
		fe[failure.Field()] = reason(failure)
	}
	return fe
}

func reason(f validator.FieldError) string {
	switch f.Tag() {
	case "required", "notblank":
		return f.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", f.Field(), f.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", f.Field(), f.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", f.Field(), f.Param())
	}
	return fmt.Sprintf("%s failed %q", f.Field(), f.Tag())
}

// QueryInt parses an integer query parameter within [lo, hi]. A missing
// parameter yields def.
func QueryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, FieldErrors{name: name + " must be an integer"}
	}
	if n < lo || n > hi {
		return 0, FieldErrors{name: fmt.Sprintf("%s must be between %d and %d", name, lo, hi)}
	}
	return n, nil
}
