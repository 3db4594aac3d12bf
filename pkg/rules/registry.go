// Package rules implements the first analysis stage: fast, deterministic
// checks against known phishing indicators. A rule hit stops the pipeline
// immediately, so the lists here are tuned for precision over recall.
package rules

import (
	"fmt"
	"regexp"
	"sync"
)

// Category groups rules by the signal they detect and the email field
// they apply to.
type Category string

const (
	// CategoryFinancial matches requests for financial identifiers in
	// subject or body. Highest priority signal.
	CategoryFinancial Category = "financial_request"

	// CategorySSN matches phrase patterns soliciting social security
	// numbers.
	CategorySSN Category = "ssn_phrase"

	// CategoryPhrase matches fixed phrases lifted from observed
	// phishing campaigns.
	CategoryPhrase Category = "suspicious_phrase"

	// CategoryDomain matches blocklisted sender domains.
	CategoryDomain Category = "sender_domain"

	// CategorySubject and CategoryBody are looser regex patterns scoped
	// to one field.
	CategorySubject Category = "subject_pattern"
	CategoryBody    Category = "body_pattern"

	// CategoryShortener matches URL shortener hosts in extracted links.
	CategoryShortener Category = "url_shortener"

	// CategoryTLD matches sender domains under throwaway TLDs.
	CategoryTLD Category = "suspicious_tld"
)

// Confidence each category contributes when one of its rules fires.
// Fired checks combine by maximum, never by sum.
var categoryConfidence = map[Category]float64{
	CategoryFinancial: 0.95,
	CategorySSN:       0.95,
	CategoryPhrase:    0.9,
	CategoryDomain:    0.9,
	CategorySubject:   0.8,
	CategoryBody:      0.7,
	CategoryShortener: 0.8,
	CategoryTLD:       0.7,
}

// Rule is a single compiled check.
type Rule struct {
	Name       string
	Regex      *regexp.Regexp
	Category   Category
	Confidence float64
	// Label is the human-readable form reported in threat indicators.
	Label string
}

// Registry holds all compiled rules, indexed by category.
type Registry struct {
	mu                sync.RWMutex
	byCategory        map[Category][]*Rule
	total             int
	extraUrgencyTerms []string
}

// builtinUrgencyTerms feed the composite urgency checks in the engine.
var builtinUrgencyTerms = []string{
	"urgent", "immediately", "asap", "right away", "at earliest",
	"time sensitive", "expires soon", "act now",
}

// UrgencyTerms returns the urgency vocabulary, built-ins plus seeds.
func (r *Registry) UrgencyTerms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	terms := make([]string, 0, len(builtinUrgencyTerms)+len(r.extraUrgencyTerms))
	terms = append(terms, builtinUrgencyTerms...)
	terms = append(terms, r.extraUrgencyTerms...)
	return terms
}

var (
	defaultRegistry *Registry
	registryOnce    sync.Once
)

// Get returns the process-wide rule registry, building it on first use.
func Get() *Registry {
	registryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry builds a registry populated with the built-in rule set.
func NewRegistry() *Registry {
	r := &Registry{byCategory: make(map[Category][]*Rule)}
	r.registerBuiltins()
	return r
}

// registerPhrase adds a case-insensitive substring rule.
func (r *Registry) registerPhrase(category Category, phrase string) {
	r.register(&Rule{
		Name:       phrase,
		Regex:      regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase)),
		Category:   category,
		Confidence: categoryConfidence[category],
		Label:      phrase,
	})
}

// registerPattern adds a case-insensitive regex rule.
func (r *Registry) registerPattern(category Category, pattern string) {
	r.register(&Rule{
		Name:       pattern,
		Regex:      regexp.MustCompile(`(?i)` + pattern),
		Category:   category,
		Confidence: categoryConfidence[category],
		Label:      pattern,
	})
}

// registerPatternChecked is the seed-file variant of registerPattern:
// it reports compile errors instead of panicking.
func (r *Registry) registerPatternChecked(category Category, pattern string) error {
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return fmt.Errorf("invalid %s rule %q: %w", category, pattern, err)
	}
	r.register(&Rule{
		Name:       pattern,
		Regex:      re,
		Category:   category,
		Confidence: categoryConfidence[category],
		Label:      pattern,
	})
	return nil
}

func (r *Registry) register(rule *Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCategory[rule.Category] = append(r.byCategory[rule.Category], rule)
	r.total++
}

// ByCategory returns the rules registered under a category.
func (r *Registry) ByCategory(category Category) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byCategory[category]
}

// Match runs every rule in a category against the text and returns one
// Hit per fired rule.
func (r *Registry) Match(category Category, text string) []Hit {
	var hits []Hit
	for _, rule := range r.ByCategory(category) {
		if rule.Regex.MatchString(text) {
			hits = append(hits, Hit{Rule: rule})
		}
	}
	return hits
}

// TotalRules returns the number of registered rules.
func (r *Registry) TotalRules() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// CategoryCount returns the number of populated categories.
func (r *Registry) CategoryCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCategory)
}

// Hit records a fired rule.
type Hit struct {
	Rule *Rule
}

// Indicator renders the hit as a threat-indicator string.
func (h Hit) Indicator() string {
	switch h.Rule.Category {
	case CategoryFinancial:
		return fmt.Sprintf("Financial information request: %s", h.Rule.Label)
	case CategorySSN:
		return fmt.Sprintf("SSN solicitation pattern: %s", h.Rule.Label)
	case CategoryPhrase:
		return fmt.Sprintf("Suspicious phrase: %s", h.Rule.Label)
	case CategoryDomain:
		return fmt.Sprintf("Suspicious sender domain: %s", h.Rule.Label)
	case CategorySubject:
		return fmt.Sprintf("Suspicious subject pattern: %s", h.Rule.Label)
	case CategoryBody:
		return fmt.Sprintf("Suspicious body pattern: %s", h.Rule.Label)
	case CategoryShortener:
		return fmt.Sprintf("URL shortener detected: %s", h.Rule.Label)
	case CategoryTLD:
		return fmt.Sprintf("Suspicious TLD: %s", h.Rule.Label)
	default:
		return fmt.Sprintf("Rule match: %s", h.Rule.Label)
	}
}

func (r *Registry) registerBuiltins() {
	for _, term := range []string{
		"ssn", "social security", "bank account", "credit card",
		"routing number", "account number", "pin number",
	} {
		r.registerPhrase(CategoryFinancial, term)
	}

	for _, pattern := range []string{
		`\bssn\b.*\bnumber\b`,
		`social.*security.*number`,
		`last.*four.*digits.*(?:ssn|social)`,
		`verify.*(?:your\s+)?ssn`,
	} {
		r.registerPattern(CategorySSN, pattern)
	}

	for _, phrase := range []string{
		"share it urgently asap",
		"last four digits of your ssn",
		"missing crucial details",
		"personal information",
		"public health services",
		"urgently asap",
		"share it urgently",
	} {
		r.registerPhrase(CategoryPhrase, phrase)
	}

	for _, domain := range []string{
		"suspicious-bank.com",
		"phishing-test.com",
		"fake-amazon.net",
		"secure-paypal.org",
	} {
		r.registerPhrase(CategoryDomain, domain)
	}

	for _, pattern := range []string{
		`urgent.*verify.*account`,
		`click.*here.*immediately`,
		`suspended.*account`,
		`confirm.*identity.*now`,
		`limited.*time.*offer`,
		`ssn.*number.*needed`,
		`social.*security.*number`,
		`verify.*ssn`,
		`last.*four.*digits`,
		`personal.*information.*missing`,
		`crucial.*details.*missing`,
		`checkup.*scheduled`,
		`appointment.*reminder`,
	} {
		r.registerPattern(CategorySubject, pattern)
	}

	for _, pattern := range []string{
		`click.*link.*verify`,
		`account.*suspended.*verify`,
		`urgent.*action.*required`,
		`confirm.*payment.*information`,
		`ssn.*number`,
		`social.*security.*number`,
		`last.*four.*digits.*ssn`,
		`share.*it.*urgently`,
		`asap.*urgent`,
		`personal.*information.*missing`,
		`crucial.*details.*about.*your`,
		`we.*found.*that.*we.*are.*missing`,
		`public.*health.*services`,
		`checkup.*scheduled.*on.*monday`,
		`need.*last.*four.*digits`,
		`please.*share.*it.*urgently`,
	} {
		r.registerPattern(CategoryBody, pattern)
	}

	for _, host := range []string{"bit.ly", "tinyurl.com", "short.link"} {
		r.registerPhrase(CategoryShortener, host)
	}

	for _, tld := range []string{".tk", ".ml", ".ga", ".cf"} {
		r.register(&Rule{
			Name:       tld,
			Regex:      regexp.MustCompile(regexp.QuoteMeta(tld) + `$`),
			Category:   CategoryTLD,
			Confidence: categoryConfidence[CategoryTLD],
			Label:      tld,
		})
	}
}
