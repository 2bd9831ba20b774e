package connector

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/erauner12/fieldsync/internal/remote"
	"github.com/jackc/pgx/v5/pgconn"
)

// FatalRule names a class of backend error codes that can never succeed on retry
type FatalRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// FatalRules is the ordered list of rules an upload error is matched against
type FatalRules []FatalRule

// DefaultFatalRules matches PostgreSQL integrity constraint violations,
// data exceptions and missing privileges.
func DefaultFatalRules() FatalRules {
	return FatalRules{
		{Name: "integrity_constraint_violation", Pattern: regexp.MustCompile(`^23...$`)},
		{Name: "data_exception", Pattern: regexp.MustCompile(`^22...$`)},
		{Name: "insufficient_privilege", Pattern: regexp.MustCompile(`^42501$`)},
	}
}

// ParseFatalRules builds rules from "name=pattern" or bare "pattern" entries
func ParseFatalRules(entries []string) (FatalRules, error) {
	rules := make(FatalRules, 0, len(entries))
	for _, entry := range entries {
		name, pattern, ok := strings.Cut(entry, "=")
		if !ok {
			name, pattern = entry, entry
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid fatal code pattern %q: %w", entry, err)
		}
		rules = append(rules, FatalRule{Name: name, Pattern: re})
	}
	return rules, nil
}

// Match returns the first rule matching code
func (r FatalRules) Match(code string) (FatalRule, bool) {
	if code == "" {
		return FatalRule{}, false
	}
	for _, rule := range r {
		if rule.Pattern.MatchString(code) {
			return rule, true
		}
	}
	return FatalRule{}, false
}

// Classify reports whether err carries a fatal backend code
func (r FatalRules) Classify(err error) (FatalRule, bool) {
	return r.Match(ErrorCode(err))
}

// ErrorCode extracts the backend error code from a REST or PostgreSQL error
func ErrorCode(err error) string {
	var apiErr *remote.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// errorDetails returns code, message and details for logging
func errorDetails(err error) (code, message, details string) {
	var apiErr *remote.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message, apiErr.Details
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.Message, pgErr.Detail
	}
	return "", err.Error(), ""
}
