package destinations

import (
	"fmt"

	"github.com/tidwall/gjson"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/internal/pattern"
)

// ParseFilters parses a filter ruleset: a JSON object mapping identifier
// patterns to transform chain references. Empty strings and nulls mean
// pass-through. Declaration order is preserved.
func ParseFilters(text string) (pattern.Mapping, error) {
	return parseMapping("filters", text, true)
}

// ParseNameMapping parses a name mapping: a JSON object mapping identifier
// patterns to destination name patterns.
func ParseNameMapping(text string) (pattern.Mapping, error) {
	return parseMapping("name mapping", text, false)
}

func parseMapping(what, text string, allowEmpty bool) (pattern.Mapping, error) {
	if !gjson.Valid(text) {
		return nil, dserrors.Malformed("parse "+what, "not valid JSON", nil)
	}
	doc := gjson.Parse(text)
	if !doc.IsObject() {
		return nil, dserrors.Malformed("parse "+what, "must be a JSON object of pattern to value", nil)
	}

	var mapping pattern.Mapping
	var parseErr error
	doc.ForEach(func(key, value gjson.Result) bool {
		if key.Str == "" {
			parseErr = dserrors.Malformed("parse "+what, "empty pattern", nil)
			return false
		}
		switch value.Type {
		case gjson.String:
		case gjson.Null:
		default:
			parseErr = dserrors.Malformed("parse "+what, fmt.Sprintf("value for %q must be a string", key.Str), nil)
			return false
		}
		if value.Str == "" && !allowEmpty {
			parseErr = dserrors.Malformed("parse "+what, fmt.Sprintf("value for %q is empty", key.Str), nil)
			return false
		}
		mapping = append(mapping, pattern.Entry{Pattern: key.Str, Value: value.Str})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return mapping, nil
}
