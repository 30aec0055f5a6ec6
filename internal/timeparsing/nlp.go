package timeparsing

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// nlpParser is built once at package init and only read afterwards.
var nlpParser *when.Parser

func init() {
	nlpParser = when.New(nil)
	nlpParser.Add(en.All...)
	nlpParser.Add(common.All...)
}

// ParseNaturalLanguage parses English time expressions relative to now:
// "yesterday", "3 days ago", "last monday at 9am", "in 2 weeks".
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	r, err := nlpParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time expression %q", s)
	}

	return r.Time, nil
}

// ParseRelativeTime resolves a time filter expression through the layers in
// order: compact duration, RFC3339, date-only, natural language.
//
// Absolute formats run before natural language so a timestamp is never
// misread as a partial English expression. Date-only values resolve to
// midnight in now's location.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}

	return ParseNaturalLanguage(s, now)
}
