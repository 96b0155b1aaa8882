// Package validate checks inbound data — tenant configuration loaded
// from disk, normalized inbound messages, follow-up configs — against
// struct-tag rules before it reaches the store or the engine. No
// retrieved teacher or pack file exercises go-playground/validator
// (jordigilh-kubernaut and codeready-toolchain-tarsy both list it in
// go.mod with no source usage), so this package wires it the standard
// way the library's own docs describe: one shared *validator.Validate,
// struct tags, Struct().
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var v = validator.New()

// Error wraps validator.ValidationErrors into a flat, readable message
// so callers don't need to import the validator package themselves.
type Error struct {
	Fields []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Fields, "; "))
}

// Struct validates s against its `validate:"..."` tags.
func Struct(s any) error {
	if err := v.Struct(s); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return &Error{Fields: fields}
	}
	return nil
}
