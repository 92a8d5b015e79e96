package patternregex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoncrawl-go/cclocate/pkg/patternregex"
	"github.com/commoncrawl-go/cclocate/pkg/urlpattern"
)

func TestBuild_MatchesSyntheticLine(t *testing.T) {
	t.Parallel()

	re, err := patternregex.Build([]urlpattern.UrlPattern{{TLD: "com", Domain: "example", Subdomain: "www"}})
	require.NoError(t, err)

	line := `com,example,www)/ 20240101120000 {"url":"http://www.example.com/","filename":"crawl-data/X.warc.gz","length":"100","status":"200"}`

	m := re.FindStringSubmatch(line)
	require.NotNil(t, m)

	names := re.SubexpNames()
	groups := make(map[string]string)

	for i, name := range names {
		if name != "" {
			groups[name] = m[i]
		}
	}

	assert.Equal(t, "com", groups["tld"])
	assert.Equal(t, "example", groups["domain"])
	assert.Equal(t, "www", groups["subdomain"])
	assert.Equal(t, "20240101120000", groups["timestamp"])
}

func TestBuild_OmitsSubdomainGroupWhenAllAbsent(t *testing.T) {
	t.Parallel()

	re, err := patternregex.Build([]urlpattern.UrlPattern{{TLD: "com", Domain: "example"}})
	require.NoError(t, err)

	for _, name := range re.SubexpNames() {
		assert.NotEqual(t, "subdomain", name)
	}
}

func TestBuild_NoPatternsReturnsError(t *testing.T) {
	t.Parallel()

	_, err := patternregex.Build(nil)
	assert.Error(t, err)
}
