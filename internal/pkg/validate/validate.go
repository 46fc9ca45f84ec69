package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-account-tokens/internal/domain"
	"github.com/go-playground/validator/v10"
)

var (
	personName    = regexp.MustCompile(`^[a-zA-Z ]*$`)
	passwordChars = regexp.MustCompile(`^[a-zA-Z0-9!@#$%^&*]{8,30}$`)
)

// v is the package-level singleton validator. Custom tags are registered in
// init() before the first call to Struct.
var v = validator.New()

func init() {
	_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return personName.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		return StrongPassword(fl.Field().String())
	})
}

// StrongPassword requires 8-30 characters from [a-zA-Z0-9!@#$%^&*] with at
// least one lowercase, uppercase, digit and special character.
func StrongPassword(s string) bool {
	if !passwordChars.MatchString(s) {
		return false
	}
	return strings.ContainsAny(s, "abcdefghijklmnopqrstuvwxyz") &&
		strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") &&
		strings.ContainsAny(s, "0123456789") &&
		strings.ContainsAny(s, "!@#$%^&*")
}

// Failure is one field that failed one tag.
type Failure struct {
	Field string
	Tag   string
}

// Error lists every failed field in declaration order and wraps
// domain.ErrValidation.
type Error struct {
	Failures []Failure
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", f.Field, f.Tag))
	}
	return strings.Join(msgs, "; ")
}

func (e *Error) Unwrap() error { return domain.ErrValidation }

// Failed reports whether any field failed tag.
func (e *Error) Failed(tag string) bool {
	for _, f := range e.Failures {
		if f.Tag == tag {
			return true
		}
	}
	return false
}

// Struct validates the given struct using its validate tags.
// Tag failures are returned as *Error.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		out := &Error{Failures: make([]Failure, 0, len(ve))}
		for _, fe := range ve {
			out.Failures = append(out.Failures, Failure{Field: fe.Field(), Tag: fe.Tag()})
		}
		return out
	}
	return nil
}
