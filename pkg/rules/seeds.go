package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile extends the built-in rule lists with deployment-specific
// entries. Every list is additive; built-ins cannot be removed.
type SeedFile struct {
	FinancialTerms    []string `yaml:"financial_terms"`
	SuspiciousPhrases []string `yaml:"suspicious_phrases"`
	SenderDomains     []string `yaml:"sender_domains"`
	SubjectPatterns   []string `yaml:"subject_patterns"`
	BodyPatterns      []string `yaml:"body_patterns"`
	URLShorteners     []string `yaml:"url_shorteners"`
	SuspiciousTLDs    []string `yaml:"suspicious_tlds"`
	UrgencyTerms      []string `yaml:"urgency_terms"`
}

// LoadSeeds parses a YAML seed file and applies it to the registry.
// Invalid regex entries abort the load so a bad deploy fails fast.
func (r *Registry) LoadSeeds(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rule seeds: %w", err)
	}

	var seeds SeedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("failed to parse rule seeds %s: %w", path, err)
	}

	for _, term := range seeds.FinancialTerms {
		r.registerPhrase(CategoryFinancial, term)
	}
	for _, phrase := range seeds.SuspiciousPhrases {
		r.registerPhrase(CategoryPhrase, phrase)
	}
	for _, domain := range seeds.SenderDomains {
		r.registerPhrase(CategoryDomain, domain)
	}
	for _, pattern := range seeds.SubjectPatterns {
		if err := r.registerPatternChecked(CategorySubject, pattern); err != nil {
			return err
		}
	}
	for _, pattern := range seeds.BodyPatterns {
		if err := r.registerPatternChecked(CategoryBody, pattern); err != nil {
			return err
		}
	}
	for _, host := range seeds.URLShorteners {
		r.registerPhrase(CategoryShortener, host)
	}
	for _, tld := range seeds.SuspiciousTLDs {
		r.registerPhrase(CategoryTLD, tld)
	}
	r.mu.Lock()
	r.extraUrgencyTerms = append(r.extraUrgencyTerms, seeds.UrgencyTerms...)
	r.mu.Unlock()
	return nil
}
