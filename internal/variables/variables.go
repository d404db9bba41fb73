// Package variables expands ${NAME} tokens in transformation rule text.
package variables

import (
	"fmt"
	"sort"
	"strings"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
)

// Names of the entries every destination context carries.
const (
	DestRegion     = "DEST_REGION"
	SourceRegion   = "SOURCE_REGION"
	SecretName     = "SECRET_NAME"
	DestSecretName = "DEST_SECRET_NAME"
	DestAccount    = "DEST_ACCOUNT"
	SourceAccount  = "SOURCE_ACCOUNT"
)

// Context maps variable names to their values for one destination.
type Context map[string]string

// Core holds the built-in entries of a destination context.
type Core struct {
	DestRegion     string
	SourceRegion   string
	SecretName     string
	DestSecretName string
	DestAccount    string
	SourceAccount  string
}

// NewContext builds a context from the core entries and destination-specific
// custom entries. Core entries win on name clashes.
func NewContext(core Core, custom map[string]string) Context {
	ctx := make(Context, len(custom)+6)
	for name, value := range custom {
		ctx[name] = value
	}
	ctx[DestRegion] = core.DestRegion
	ctx[SourceRegion] = core.SourceRegion
	ctx[SecretName] = core.SecretName
	ctx[DestSecretName] = core.DestSecretName
	ctx[DestAccount] = core.DestAccount
	ctx[SourceAccount] = core.SourceAccount
	return ctx
}

// Names returns the variable names in sorted order
func (c Context) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UndefinedVariableError reports a token with no value in the context
type UndefinedVariableError struct {
	Name      string
	Available []string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable ${%s} (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// Kind implements errors.Classified
func (e *UndefinedVariableError) Kind() dserrors.Kind {
	return dserrors.KindMalformed
}

// Expand replaces every ${NAME} token in text with its value from ctx.
// NAME starts with an uppercase letter or underscore followed by uppercase
// letters, digits or underscores. Replacement text is not scanned again, and
// sequences that are not valid tokens are copied through unchanged.
func Expand(text string, ctx Context) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))

	i := 0
	for i < len(text) {
		start := strings.Index(text[i:], "${")
		if start < 0 {
			b.WriteString(text[i:])
			break
		}
		start += i
		b.WriteString(text[i:start])

		name, end, ok := scanToken(text, start+2)
		if !ok {
			b.WriteString("${")
			i = start + 2
			continue
		}

		value, defined := ctx[name]
		if !defined {
			return "", &UndefinedVariableError{Name: name, Available: ctx.Names()}
		}
		b.WriteString(value)
		i = end
	}

	return b.String(), nil
}

// scanToken reads a variable name starting at pos and expects a closing
// brace. It returns the name and the index just past the brace.
func scanToken(text string, pos int) (string, int, bool) {
	j := pos
	for j < len(text) {
		c := text[j]
		if c == '}' {
			break
		}
		if !isNameChar(c, j == pos) {
			return "", 0, false
		}
		j++
	}
	if j == pos || j >= len(text) {
		return "", 0, false
	}
	return text[pos:j], j + 1, true
}

func isNameChar(c byte, first bool) bool {
	switch {
	case c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}
