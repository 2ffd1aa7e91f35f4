package normalize

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Patterns is the set of query-parameter names treated as tracking
// noise. A pattern ending in "*" matches by prefix, anything else by
// exact (case-insensitive) name.
type Patterns struct {
	exact    map[string]struct{}
	prefixes []string
}

// Built-in tracking parameters: the UTM family plus the common
// click/campaign identifiers injected by ad and mail platforms.
var defaultPatterns = []string{
	"utm_*",
	"gclid",
	"gclsrc",
	"dclid",
	"fbclid",
	"igshid",
	"mc_cid",
	"mc_eid",
	"msclkid",
	"oly_anon_id",
	"oly_enc_id",
	"vero_id",
	"wickedid",
	"yclid",
	"twclid",
	"ref",
	"ref_src",
	"_hsenc",
	"_hsmi",
	"s_cid",
}

// DefaultPatterns returns the built-in tracking-parameter set.
func DefaultPatterns() *Patterns {
	return newPatterns(defaultPatterns)
}

func newPatterns(names []string) *Patterns {
	p := &Patterns{exact: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "*" {
			continue
		}
		if strings.HasSuffix(name, "*") {
			p.prefixes = append(p.prefixes, strings.TrimSuffix(name, "*"))
			continue
		}
		p.exact[name] = struct{}{}
	}
	return p
}

// Matches reports whether a query-parameter name is a tracking parameter.
func (p *Patterns) Matches(name string) bool {
	name = strings.ToLower(name)
	if _, ok := p.exact[name]; ok {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Merge returns a new set containing both pattern sets.
func (p *Patterns) Merge(other *Patterns) *Patterns {
	if other == nil {
		return p
	}
	merged := &Patterns{exact: make(map[string]struct{}, len(p.exact)+len(other.exact))}
	for name := range p.exact {
		merged.exact[name] = struct{}{}
	}
	for name := range other.exact {
		merged.exact[name] = struct{}{}
	}
	merged.prefixes = append(merged.prefixes, p.prefixes...)
	merged.prefixes = append(merged.prefixes, other.prefixes...)
	return merged
}

// patternsFile is the yaml shape of an extra-patterns file:
//
//	params:
//	  - utm_*
//	  - partner_id
type patternsFile struct {
	Params []string `yaml:"params"`
}

// LoadPatterns reads extra tracking-parameter patterns from a yaml file.
func LoadPatterns(filePath string) (*Patterns, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracking params file: %w", err)
	}

	var file patternsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tracking params yaml: %w", err)
	}
	if len(file.Params) == 0 {
		return nil, fmt.Errorf("no patterns found in %s", filePath)
	}

	return newPatterns(file.Params), nil
}
