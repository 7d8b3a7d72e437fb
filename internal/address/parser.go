package address

import (
	"regexp"
	"strings"
)

// Parsed is the result of splitting a free-text address line into street,
// house number and addition. Number and NumberAddition are empty when the
// line contains no usable house number.
type Parsed struct {
	Street         string
	Number         string
	NumberAddition string
}

// Filter post-processes a parse result. It receives the parsed value and the
// raw input line and returns the value to use instead. Filters run in
// registration order as the final step of Parse.
type Filter func(parsed Parsed, line string) Parsed

// Parser splits single-line addresses with an ordered chain of heuristics.
// The chain order is load-bearing: carrier-side validation depends on which
// pattern wins for ambiguous inputs, so patterns must not be reordered.
type Parser struct {
	filters []Filter
}

// Option configures a Parser.
type Option func(*Parser)

// WithFilter registers a post-parse filter.
func WithFilter(f Filter) Option {
	return func(p *Parser) {
		p.filters = append(p.filters, f)
	}
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// The heuristics, first match wins. Grouped the way ambiguity is resolved:
// street-then-number forms, a number-first form, then looser embedded-number
// forms, and finally the whole line as street.
var (
	// "Kerkstraat 12 a 3" — addition itself carries a secondary number.
	reNumberWithNumericAddition = regexp.MustCompile(`^\s*(.+)\s+(\d+)\s*(\S*\s+\d+\s*\S*)$`)
	// "Kerkstraat 12, tweede verdieping" — comma-prefixed trailing text.
	reNumberCommaAddition = regexp.MustCompile(`^\s*(.+)\s+(\d+)\s*(,\s*.*)$`)
	// "Kerkstraat 12A" — the general number-in-the-middle/end case.
	reNumberAnyAddition = regexp.MustCompile(`^\s*(.+)\s+(\d+)\s*(.*)$`)
	// "12B Hoofdweg" — number-first addresses.
	reNumberFirst = regexp.MustCompile(`^\s*(\d+)(\S*)\s+(.*)$`)
	// Number embedded before trailing descriptors, strict then loose.
	reEmbeddedStrict = regexp.MustCompile(`^\s*(.+\D)\s*(\d+)\s*(\D+\s*\d*\s*\S*)$`)
	reEmbeddedLoose  = regexp.MustCompile(`^\s*(.+\D)\s*(\d+)\s*(.*)$`)
)

// Parse splits an address line. Best-effort: ambiguous addresses may parse
// incorrectly, and a line without digits comes back entirely as street.
func (p *Parser) Parse(line string) Parsed {
	var result Parsed

	if parts := firstMatch(line, reNumberWithNumericAddition, reNumberCommaAddition, reNumberAnyAddition); parts != nil {
		result = Parsed{
			Street:         parts[1],
			Number:         parts[2],
			NumberAddition: strings.TrimSpace(parts[3]),
		}
	} else if parts := reNumberFirst.FindStringSubmatch(line); parts != nil {
		result = Parsed{
			Street:         parts[3],
			Number:         parts[1],
			NumberAddition: parts[2],
		}
	} else if parts := firstMatch(line, reEmbeddedStrict, reEmbeddedLoose); parts != nil {
		result = Parsed{
			Street:         parts[1],
			Number:         parts[2],
			NumberAddition: strings.TrimSpace(parts[3]),
		}
	} else {
		result = Parsed{Street: line}
	}

	result.NumberAddition = strings.Trim(result.NumberAddition, "-")

	for _, f := range p.filters {
		result = f(result, line)
	}

	return result
}

func firstMatch(line string, patterns ...*regexp.Regexp) []string {
	for _, re := range patterns {
		if parts := re.FindStringSubmatch(line); parts != nil {
			return parts
		}
	}
	return nil
}
