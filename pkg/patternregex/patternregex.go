// Package patternregex builds a single compiled regex over the CDX line
// grammar from a set of URL patterns, ported from
// original_source/ccdownloader.py's url_patterns_to_regex.
package patternregex

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/commoncrawl-go/cclocate/pkg/urlpattern"
)

// Build compiles a case-insensitive regex matching any CDX line consistent
// with one of patterns. It exposes the named groups tld, domain, subdomain
// (if any pattern specifies one), path (if any pattern specifies one),
// timestamp, and headers.
func Build(patterns []urlpattern.UrlPattern) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("patternregex: no patterns given")
	}

	tlds := uniqueSorted(patterns, func(p urlpattern.UrlPattern) string { return p.TLD })
	domains := uniqueSorted(patterns, func(p urlpattern.UrlPattern) string { return p.Domain })
	subdomains := uniqueSorted(patterns, func(p urlpattern.UrlPattern) string { return p.Subdomain })
	paths := uniqueSorted(patterns, func(p urlpattern.UrlPattern) string { return p.Path })

	var b strings.Builder

	fmt.Fprintf(&b, "(?P<tld>%s),", join(tlds))
	fmt.Fprintf(&b, "(?P<domain>%s),?", join(domains))

	if anyConstrains(patterns, urlpattern.UrlPattern.HasSubdomain) {
		fmt.Fprintf(&b, "(?P<subdomain>%s)\\)", join(subdomains))
	}

	if anyConstrains(patterns, urlpattern.UrlPattern.HasPath) {
		fmt.Fprintf(&b, "(?P<path>/?%s.*)", join(paths))
	} else {
		b.WriteString(".*")
	}

	b.WriteString(`\s+(?P<timestamp>\d+).*?\s+(?P<headers>\{.*\})$`)

	re, err := regexp.Compile("(?i)" + b.String())
	if err != nil {
		return nil, fmt.Errorf("error compiling pattern regex: %w", err)
	}

	return re, nil
}

func uniqueSorted(patterns []urlpattern.UrlPattern, field func(urlpattern.UrlPattern) string) []string {
	seen := make(map[string]struct{}, len(patterns))

	for _, p := range patterns {
		seen[field(p)] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, regexp.QuoteMeta(v))
	}

	sort.Strings(out)

	return out
}

func anyConstrains(patterns []urlpattern.UrlPattern, pred func(urlpattern.UrlPattern) bool) bool {
	for _, p := range patterns {
		if pred(p) {
			return true
		}
	}

	return false
}

func join(values []string) string {
	return strings.Join(values, "|")
}
