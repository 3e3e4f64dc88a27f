// Package radio maps free-text radio technology labels to a small set of
// canonical generations. One ordered rule table drives both the in-process
// classifier and the SQL CASE expression used to tag rows in the database.
package radio

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/connectivity-cli/internal/db"
)

// Canonical categories produced by the default rules.
const (
	Category5G    = "5G"
	CategoryLTE   = "LTE"
	Category3G    = "3G"
	Category2G    = "2G"
	CategoryOther = "OTHER"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule assigns Category to labels matching any of Patterns.
type Rule struct {
	Category string   `yaml:"category"`
	Patterns []string `yaml:"patterns"`
}

// RuleSet is the ordered rule table plus the fallback category.
type RuleSet struct {
	Fallback string `yaml:"fallback"`
	Rules    []Rule `yaml:"rules"`
}

type compiledRule struct {
	category string
	re       *regexp.Regexp
}

// Classifier applies a RuleSet.
type Classifier struct {
	set   RuleSet
	rules []compiledRule
}

// Default returns the classifier for the embedded rule table.
func Default() *Classifier {
	c, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("radio: embedded rules: %v", err))
	}
	return c
}

// Load reads a rule table from path, or returns Default when path is empty.
func Load(path string) (*Classifier, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "radio: read rules %s", path)
	}
	return Parse(data)
}

// Parse builds a classifier from a YAML rule table.
func Parse(data []byte) (*Classifier, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, eris.Wrap(err, "radio: parse rules")
	}
	return New(set)
}

// New validates and compiles set.
func New(set RuleSet) (*Classifier, error) {
	if strings.TrimSpace(set.Fallback) == "" {
		return nil, eris.New("radio: fallback category is required")
	}
	if len(set.Rules) == 0 {
		return nil, eris.New("radio: at least one rule is required")
	}

	c := &Classifier{set: set}
	for i, r := range set.Rules {
		if strings.TrimSpace(r.Category) == "" {
			return nil, eris.Errorf("radio: rule %d has no category", i)
		}
		if len(r.Patterns) == 0 {
			return nil, eris.Errorf("radio: rule %s has no patterns", r.Category)
		}
		// Patterns must stay within the syntax RE2 and PostgreSQL share.
		re, err := regexp.Compile(alternation(r.Patterns))
		if err != nil {
			return nil, eris.Wrapf(err, "radio: rule %s", r.Category)
		}
		c.rules = append(c.rules, compiledRule{category: r.Category, re: re})
	}
	return c, nil
}

// Classify returns the category for label. Matching is case-insensitive and
// ignores surrounding whitespace. Empty labels get the fallback.
func (c *Classifier) Classify(label string) string {
	s := strings.ToUpper(strings.TrimSpace(label))
	if s == "" {
		return c.set.Fallback
	}
	for _, r := range c.rules {
		if r.re.MatchString(s) {
			return r.category
		}
	}
	return c.set.Fallback
}

// Categories lists the rule categories in precedence order, then the fallback.
func (c *Classifier) Categories() []string {
	out := make([]string, 0, len(c.rules)+1)
	for _, r := range c.rules {
		out = append(out, r.category)
	}
	return append(out, c.set.Fallback)
}

// Canonical returns the classifier's spelling of category, matched
// case-insensitively. The second result is false for unknown categories.
func (c *Classifier) Canonical(category string) (string, bool) {
	want := strings.TrimSpace(category)
	for _, k := range c.Categories() {
		if strings.EqualFold(k, want) {
			return k, true
		}
	}
	return category, false
}

// Known reports whether category can be produced by this classifier.
func (c *Classifier) Known(category string) bool {
	_, ok := c.Canonical(category)
	return ok
}

// CaseSQL renders the rule table as a CASE expression over column, which must
// already be a quoted identifier or expression.
func (c *Classifier) CaseSQL(column string) string {
	var b strings.Builder
	subject := fmt.Sprintf("upper(btrim(coalesce(%s, '')))", column)
	b.WriteString("CASE")
	for _, r := range c.rules {
		fmt.Fprintf(&b, "\n  WHEN %s ~ %s THEN %s", subject, db.QuoteLiteral(r.re.String()), db.QuoteLiteral(r.category))
	}
	fmt.Fprintf(&b, "\n  ELSE %s\nEND", db.QuoteLiteral(c.set.Fallback))
	return b.String()
}

func alternation(patterns []string) string {
	if len(patterns) == 1 {
		return patterns[0]
	}
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = "(" + p + ")"
	}
	return strings.Join(parts, "|")
}
