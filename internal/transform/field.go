package transform

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FieldRule replaces the value at Path when it textually equals Find.
type FieldRule struct {
	Path    string
	Find    string
	Replace string

	path        string
	replaceRaw  string
	replaceText bool
}

// FieldRules applies field rules in declaration order to a JSON value.
type FieldRules struct {
	rules []FieldRule
}

// Format implements RuleSet
func (f *FieldRules) Format() Format {
	return FormatField
}

// Len implements RuleSet
func (f *FieldRules) Len() int {
	return len(f.rules)
}

// Rules returns a copy of the parsed rules
func (f *FieldRules) Rules() []FieldRule {
	out := make([]FieldRule, len(f.rules))
	copy(out, f.rules)
	return out
}

// Apply rewrites matching fields. Paths that do not exist and values that do
// not equal the rule's find literal are left alone.
func (f *FieldRules) Apply(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') || !gjson.Valid(trimmed) {
		return "", &TransformationError{Reason: "field rules require a JSON object or array value"}
	}

	result := value
	for i, rule := range f.rules {
		current := gjson.Get(result, rule.path)
		if !current.Exists() {
			continue
		}
		if textOf(current) != rule.Find {
			continue
		}

		var err error
		if rule.replaceText {
			result, err = sjson.Set(result, rule.path, rule.Replace)
		} else {
			result, err = sjson.SetRaw(result, rule.path, rule.replaceRaw)
		}
		if err != nil {
			return "", &TransformationError{Line: i + 1, Reason: fmt.Sprintf("failed to set %s", rule.Path), Err: err}
		}
	}
	return result, nil
}

// textOf returns the textual form used for find comparisons: strings compare
// unquoted, everything else by its raw JSON text.
func textOf(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Raw
}

// parseFields accepts either a top-level array of rules or an object with a
// "transformations" array. Each rule needs "path", "find" and "replace".
func parseFields(text string) (*FieldRules, error) {
	trimmed := strings.TrimSpace(text)
	if !gjson.Valid(trimmed) {
		return nil, &TransformationError{Reason: "field rules are not valid JSON"}
	}

	doc := gjson.Parse(trimmed)
	var list gjson.Result
	switch {
	case doc.IsArray():
		list = doc
	case doc.IsObject():
		list = doc.Get("transformations")
		if !list.IsArray() {
			return nil, &TransformationError{Reason: `field rules object must contain a "transformations" array`}
		}
	default:
		return nil, &TransformationError{Reason: "field rules must be a JSON array or object"}
	}

	set := &FieldRules{}
	var parseErr error
	index := 0
	list.ForEach(func(_, item gjson.Result) bool {
		index++
		rule, err := parseFieldRule(item)
		if err != nil {
			err.Line = index
			parseErr = err
			return false
		}
		set.rules = append(set.rules, rule)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return set, nil
}

func parseFieldRule(item gjson.Result) (FieldRule, *TransformationError) {
	if !item.IsObject() {
		return FieldRule{}, &TransformationError{Reason: "field rule must be an object"}
	}

	path := item.Get("path")
	find := item.Get("find")
	replace := item.Get("replace")
	if path.Type != gjson.String {
		return FieldRule{}, &TransformationError{Reason: `field rule requires a string "path"`}
	}
	if !find.Exists() || !replace.Exists() {
		return FieldRule{}, &TransformationError{Reason: `field rule requires "find" and "replace"`}
	}
	if !isScalar(find) || !isScalar(replace) {
		return FieldRule{}, &TransformationError{Reason: `"find" and "replace" must be literal values`}
	}

	normalized, err := NormalizePath(path.Str)
	if err != nil {
		return FieldRule{}, &TransformationError{Reason: err.Error()}
	}

	return FieldRule{
		Path:        path.Str,
		Find:        textOf(find),
		Replace:     textOf(replace),
		path:        normalized,
		replaceRaw:  replace.Raw,
		replaceText: replace.Type == gjson.String,
	}, nil
}

func isScalar(r gjson.Result) bool {
	switch r.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False, gjson.Null:
		return true
	}
	return false
}

// NormalizePath converts "$.a.b", ".a.b", "a.b" and "a[0].b" into the dotted
// form understood by gjson and sjson. Query and modifier syntax is rejected.
func NormalizePath(expr string) (string, error) {
	p := strings.TrimSpace(expr)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return "", fmt.Errorf("invalid path %q: empty", expr)
	}

	var b strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch c {
		case '\\':
			if i+1 >= len(p) {
				return "", fmt.Errorf("invalid path %q: trailing escape", expr)
			}
			b.WriteByte(c)
			b.WriteByte(p[i+1])
			i++
		case '[':
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return "", fmt.Errorf("invalid path %q: unclosed '['", expr)
			}
			index := p[i+1 : i+end]
			if index == "" || strings.Trim(index, "0123456789") != "" {
				return "", fmt.Errorf("invalid path %q: array index must be a number", expr)
			}
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(index)
			i += end
		case '*', '?', '#', '@', '|', '!', '=', '<', '>', '%', ']':
			return "", fmt.Errorf("invalid path %q: unsupported character %q", expr, c)
		default:
			b.WriteByte(c)
		}
	}

	normalized := b.String()
	for _, segment := range strings.Split(normalized, ".") {
		if segment == "" {
			return "", fmt.Errorf("invalid path %q: empty segment", expr)
		}
	}
	return normalized, nil
}
