// Package errors classifies and summarizes failing verification command output.
package errors

import (
	"fmt"
	"regexp"
	"strings"
)

// Unknown is assigned to failures whose non-empty output matches no rule.
const Unknown = "unknown"

// Category is a named failure class recognized by a regular expression.
type Category struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultCategories is the built-in ordered rule list. Order matters: the
// first matching rule names the failure.
var DefaultCategories = []Category{
	{"type_error", regexp.MustCompile(`TS\d+:`)},
	{"lint_unused", regexp.MustCompile(`no-unused-vars`)},
	{"lint_import", regexp.MustCompile(`import/order`)},
	{"lint_complexity", regexp.MustCompile(`complexity`)},
	{"test_assertion", regexp.MustCompile(`AssertionError`)},
	{"test_timeout", regexp.MustCompile(`Timeout`)},
	{"build_module", regexp.MustCompile(`Cannot find module`)},
	{"build_syntax", regexp.MustCompile(`SyntaxError`)},
}

// ParseCategory compiles a user-supplied category rule.
func ParseCategory(name, pattern string) (Category, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Category{}, fmt.Errorf("failure category %s: %w", name, err)
	}
	return Category{Name: name, Regex: re}, nil
}

// Categorizer assigns failure categories to command output.
type Categorizer struct {
	categories []Category
}

// NewCategorizer returns a categorizer using the built-in rules followed by extra.
func NewCategorizer(extra ...Category) *Categorizer {
	cats := make([]Category, 0, len(DefaultCategories)+len(extra))
	cats = append(cats, DefaultCategories...)
	cats = append(cats, extra...)
	return &Categorizer{categories: cats}
}

// Categorize returns the first matching category for output. Output that is
// empty after trimming has no category (ok is false); non-empty output that
// matches nothing is Unknown.
func (c *Categorizer) Categorize(output string) (name string, ok bool) {
	for _, cat := range c.categories {
		if cat.Regex.MatchString(output) {
			return cat.Name, true
		}
	}
	if strings.TrimSpace(output) == "" {
		return "", false
	}
	return Unknown, true
}

// Names lists the configured category names in match order.
func (c *Categorizer) Names() []string {
	names := make([]string, len(c.categories))
	for i, cat := range c.categories {
		names[i] = cat.Name
	}
	return names
}
