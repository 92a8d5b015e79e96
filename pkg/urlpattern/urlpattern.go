// Package urlpattern defines the URL pattern type used to narrow a crawl's
// CDX shards down to the ones that may contain a matching capture.
package urlpattern

import "strings"

// UrlPattern is a 6-tuple over the SURT-like key fields of a CDX line, plus
// the timestamp and headers fields used by PatternRegex. Each field is
// either a literal or absent; absence means "wildcard" for matching
// purposes, but is treated as the empty string for BoundaryStore ordering
// (see SPEC_FULL.md §9, "SURT ordering subtleties").
type UrlPattern struct {
	TLD       string
	Domain    string
	Subdomain string
	Path      string
	Timestamp string
	Headers   string
}

// HasSubdomain reports whether the pattern constrains the subdomain field.
func (u UrlPattern) HasSubdomain() bool { return u.Subdomain != "" }

// HasPath reports whether the pattern constrains the path field.
func (u UrlPattern) HasPath() bool { return u.Path != "" }

// orderingKey returns the (tld, domain, subdomain, path) tuple used for
// BoundaryStore comparisons, treating an absent field as the empty string.
func (u UrlPattern) orderingKey() [4]string {
	return [4]string{u.TLD, u.Domain, u.Subdomain, u.Path}
}

// Compare returns -1, 0, or 1 according to the SURT-like ordering
// (tld, domain, subdomain, path) used by CDX files. Absent fields compare
// as the empty string.
func Compare(a, b UrlPattern) int {
	ak, bk := a.orderingKey(), b.orderingKey()

	for i := range ak {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
	}

	return 0
}

// Less reports whether a sorts strictly before b under Compare.
func Less(a, b UrlPattern) bool { return Compare(a, b) < 0 }
