package main

import (
	"fmt"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/maabara/core"
)

// formatError renders an error for the terminal, expanding field-level
// validation failures into one line per field.
func formatError(err error, translator ut.Translator) string {
	switch origErr := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		lines := make([]string, 0, len(origErr))
		for _, vErr := range origErr {
			lines = append(lines, fmt.Sprintf("%s: %s", vErr.Field(), vErr.Translate(translator)))
		}
		return strings.Join(lines, "\n")
	case *core.ValidationError:
		if origErr.Fields != nil {
			lines := make([]string, 0, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				lines = append(lines, fmt.Sprintf("%s: %s", fErr.Field, fErr.Error))
			}
			return strings.Join(lines, "\n")
		}
		return origErr.Error()
	}
	return err.Error()
}
