package normalize

import (
	"net/url"
	"strings"

	"github.com/syncmarks/syncmarks/internal/domain"
)

// Normalizer maps raw client bookmark records into the canonical node
// shape. It is pure and total: the same input always yields the same
// output and malformed URLs never fail, they pass through unchanged.
// The same path serves live mutations and full-tree bootstrap imports.
type Normalizer struct {
	patterns *Patterns
}

// New creates a Normalizer with the built-in tracking-parameter set.
func New() *Normalizer {
	return &Normalizer{patterns: DefaultPatterns()}
}

// NewWithPatterns creates a Normalizer with extra patterns merged over
// the built-in set.
func NewWithPatterns(extra *Patterns) *Normalizer {
	return &Normalizer{patterns: DefaultPatterns().Merge(extra)}
}

// Node maps a raw node into canonical form. ancestorPath is the chain
// of ancestor titles at mapping time (display-only). hint classifies
// well-known root folders and always wins over inference; callers that
// have no hint pass domain.FolderNone.
func (n *Normalizer) Node(raw domain.BookmarkNode, ancestorPath []string, hint domain.FolderType) domain.BookmarkNode {
	node := raw
	node.Path = strings.Join(ancestorPath, " / ")

	if node.IsFolder {
		node.URL = ""
		node.URLNormalized = ""
		node.FolderType = hint
		return node
	}

	node.FolderType = domain.FolderNone
	node.URLNormalized = n.URL(node.URL)
	return node
}

// URL strips tracking query parameters and canonicalizes scheme/host
// case. Parameter order of the remainder and the fragment are
// preserved. An unparsable URL is returned unchanged.
func (n *Normalizer) URL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = n.stripQuery(u.RawQuery)

	return u.String()
}

// stripQuery removes tracking parameters from a raw query string while
// keeping the remaining pairs in their original order. url.Values is
// deliberately not used here: it reorders parameters.
func (n *Normalizer) stripQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if n.patterns.Matches(name) {
			continue
		}
		kept = append(kept, pair)
	}

	return strings.Join(kept, "&")
}
