package validation

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// defaultTerms names the framework values and the synonyms and inflections a
// narrative tends to leak them through.
var defaultTerms = []string{
	"autonomy", "autonomous", "self-determination", "self determination",
	"beneficence", "beneficent",
	"non-maleficence", "nonmaleficence", "non-maleficent", "maleficence", "do no harm",
	"justice", "unjust", "injustice", "fairness", "equity", "equitable", "just allocation",
	"principlism", "principlist",
}

// DefaultTerms returns a copy of the built-in forbidden lexicon.
func DefaultTerms() []string {
	return append([]string(nil), defaultTerms...)
}

// Lexicon is a forbidden-term list matched case-insensitively on whole words.
// Terms may be replaced at any time; readers always see a complete set.
type Lexicon struct {
	set atomic.Pointer[lexiconSet]
}

type lexiconSet struct {
	terms    []string
	patterns []*regexp.Regexp
}

// NewLexicon builds a lexicon from terms. Blank and duplicate terms are ignored.
func NewLexicon(terms ...string) *Lexicon {
	l := &Lexicon{}
	l.Replace(terms)
	return l
}

// DefaultLexicon returns a lexicon seeded with DefaultTerms.
func DefaultLexicon() *Lexicon {
	return NewLexicon(defaultTerms...)
}

// Replace swaps the term list atomically.
func (l *Lexicon) Replace(terms []string) {
	seen := make(map[string]bool, len(terms))
	set := &lexiconSet{}
	for _, t := range terms {
		norm := strings.ToLower(strings.TrimSpace(t))
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		set.terms = append(set.terms, norm)
		set.patterns = append(set.patterns, termPattern(norm))
	}
	l.set.Store(set)
}

// Terms returns the current terms in insertion order.
func (l *Lexicon) Terms() []string {
	s := l.set.Load()
	if s == nil {
		return nil
	}
	return append([]string(nil), s.terms...)
}

// Find returns every term that occurs in text, in lexicon order.
func (l *Lexicon) Find(text string) []string {
	s := l.set.Load()
	if s == nil || text == "" {
		return nil
	}
	var hits []string
	for i, re := range s.patterns {
		if re.MatchString(text) {
			hits = append(hits, s.terms[i])
		}
	}
	return hits
}

// termPattern turns "non-maleficence" into a whole-word pattern that also
// matches "nonmaleficence" and "non maleficence".
func termPattern(term string) *regexp.Regexp {
	parts := strings.FieldsFunc(term, func(r rune) bool { return r == ' ' || r == '-' })
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(quoted, `[\s-]?`) + `\b`)
}

// lexiconFile is the on-disk shape of an extra-terms file.
type lexiconFile struct {
	Terms []string `yaml:"terms"`
}

// LoadLexiconFile reads additional terms from a YAML file of the form
// "terms: [a, b]".
func LoadLexiconFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon file: %w", err)
	}
	var f lexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse lexicon file %s: %w", path, err)
	}
	return f.Terms, nil
}
