package transform

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// SubstitutionRule is one s/pattern/replacement/flags line.
type SubstitutionRule struct {
	Pattern     string
	Replacement string
	Global      bool
	IgnoreCase  bool
	Line        int

	re          *regexp2.Regexp
	replacement string
}

// SubstitutionRules applies substitution rules in declaration order.
type SubstitutionRules struct {
	rules []SubstitutionRule
}

// Format implements RuleSet
func (s *SubstitutionRules) Format() Format {
	return FormatSubstitution
}

// Len implements RuleSet
func (s *SubstitutionRules) Len() int {
	return len(s.rules)
}

// Rules returns a copy of the parsed rules
func (s *SubstitutionRules) Rules() []SubstitutionRule {
	out := make([]SubstitutionRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Apply runs every rule over value. A rule whose match exceeds the regex time
// budget fails the whole set.
func (s *SubstitutionRules) Apply(value string) (string, error) {
	result := value
	for _, rule := range s.rules {
		count := 1
		if rule.Global {
			count = -1
		}
		replaced, err := rule.re.Replace(result, rule.replacement, -1, count)
		if err != nil {
			// regexp2 errors quote the input, which is the secret value.
			reason := "regex evaluation failed"
			if strings.Contains(err.Error(), "timeout") {
				reason = fmt.Sprintf("regex exceeded %s match budget", rule.re.MatchTimeout)
			}
			return "", &TransformationError{Line: rule.Line, Reason: reason}
		}
		result = replaced
	}
	return result, nil
}

func parseSubstitutions(text string, options Options) (*SubstitutionRules, error) {
	set := &SubstitutionRules{}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := parseSubstitutionLine(line, options.RegexTimeout)
		if err != nil {
			if te, ok := err.(*TransformationError); ok {
				te.Line = lineNo
				return nil, te
			}
			return nil, &TransformationError{Line: lineNo, Reason: "invalid rule", Err: err}
		}
		rule.Line = lineNo
		set.rules = append(set.rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, &TransformationError{Reason: "failed to read rules", Err: err}
	}

	return set, nil
}

func parseSubstitutionLine(line string, timeout time.Duration) (SubstitutionRule, error) {
	if len(line) < 2 || line[0] != 's' {
		return SubstitutionRule{}, &TransformationError{Reason: fmt.Sprintf("rule must start with 's<delim>': %q", line)}
	}
	delim := line[1]
	if delim == '\\' || delim == '\n' || delim == ' ' {
		return SubstitutionRule{}, &TransformationError{Reason: fmt.Sprintf("invalid delimiter %q", delim)}
	}

	parts, rest, err := splitOnDelimiter(line[2:], delim, 2)
	if err != nil {
		return SubstitutionRule{}, err
	}

	rule := SubstitutionRule{Pattern: parts[0], Replacement: parts[1]}
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			rule.Global = true
		case 'i', 'I':
			rule.IgnoreCase = true
		default:
			return SubstitutionRule{}, &TransformationError{Reason: fmt.Sprintf("unsupported flag %q", flag)}
		}
	}

	if rule.Pattern == "" {
		return SubstitutionRule{}, &TransformationError{Reason: "empty pattern"}
	}

	regexOpts := regexp2.None
	if rule.IgnoreCase {
		regexOpts |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(rule.Pattern, regexOpts)
	if err != nil {
		return SubstitutionRule{}, &TransformationError{Reason: fmt.Sprintf("invalid pattern %q", rule.Pattern), Err: err}
	}
	re.MatchTimeout = timeout

	rule.re = re
	rule.replacement = convertReplacement(rule.Replacement)
	return rule, nil
}

// splitOnDelimiter splits s on n unescaped delimiters and returns the parts
// and whatever follows the last delimiter. An escaped delimiter becomes part
// of the field; it keeps its backslash when the delimiter is a regex
// metacharacter so it stays literal.
func splitOnDelimiter(s string, delim byte, n int) ([]string, string, error) {
	parts := make([]string, 0, n)
	var current strings.Builder

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			next := s[i+1]
			if next == delim {
				if strings.IndexByte(`.^$*+?()[]{}|`, delim) >= 0 {
					current.WriteByte('\\')
				}
				current.WriteByte(delim)
			} else {
				current.WriteByte(c)
				current.WriteByte(next)
			}
			i++
			continue
		}
		if c == delim {
			parts = append(parts, current.String())
			current.Reset()
			if len(parts) == n {
				return parts, s[i+1:], nil
			}
			continue
		}
		current.WriteByte(c)
	}

	return nil, "", &TransformationError{Reason: fmt.Sprintf("unterminated rule, expected %d '%c' delimiters", n+1, delim)}
}

// convertReplacement rewrites sed replacement syntax into regexp2's:
// \1..\9 become group references, & is the whole match, \& and \\ are
// literals, \n and \t are newline and tab, and '$' is escaped.
func convertReplacement(repl string) string {
	var b strings.Builder
	b.Grow(len(repl) + 8)

	for i := 0; i < len(repl); i++ {
		c := repl[i]
		switch {
		case c == '\\' && i+1 < len(repl):
			next := repl[i+1]
			i++
			switch {
			case next >= '0' && next <= '9':
				b.WriteString("${")
				b.WriteByte(next)
				b.WriteString("}")
			case next == 'n':
				b.WriteByte('\n')
			case next == 't':
				b.WriteByte('\t')
			case next == '$':
				b.WriteString("$$")
			default:
				b.WriteByte(next)
			}
		case c == '&':
			b.WriteString("${0}")
		case c == '$':
			b.WriteString("$$")
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}
