// Package sqlident quotes and validates SQL identifiers (collection names,
// index table names, JSON path segments rendered as column aliases) so that
// arbitrary collection/index names — including ones containing '-', '%',
// or '.' — are safe to embed in emitted SQL text.
package sqlident

import (
	"strings"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// Quote double-quotes name for use as a SQL identifier. Callers must
// Validate name first; Quote itself does not re-check for embedded quotes.
func Quote(name string) string {
	return `"` + name + `"`
}

// Validate rejects names containing a literal double-quote, per §9's
// requirement that the compilers reject names that cannot be safely quoted.
func Validate(name string) error {
	if strings.Contains(name, `"`) {
		return docerrors.Configuration(docerrors.CodeInvalidIdentifier,
			"identifier must not contain a literal double-quote").WithDetails(name)
	}
	if name == "" {
		return docerrors.Configuration(docerrors.CodeInvalidIdentifier,
			"identifier must not be empty")
	}
	return nil
}

// QuoteValidated validates then quotes name, returning the Configuration
// error from Validate unchanged on failure.
func QuoteValidated(name string) (string, error) {
	if err := Validate(name); err != nil {
		return "", err
	}
	return Quote(name), nil
}

// JSONPath renders a dot-path field name ("a.b.c") as a SQLite JSON path
// expression ("$.a.b.c") for use inside json_extract/json_set/json_remove.
func JSONPath(field string) string {
	return "$." + field
}
