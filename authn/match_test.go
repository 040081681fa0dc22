package authn

import "testing"

func TestMatchPath(t *testing.T) {
	cases := map[string]struct {
		pattern string
		path    string
		want    bool
	}{
		"exact":                  {"/health", "/health", true},
		"exact mismatch":         {"/health", "/metrics", false},
		"double star tail":       {"/api/public/**", "/api/public/data", true},
		"double star deep":       {"/api/public/**", "/api/public/a/b/c", true},
		"double star zero":       {"/api/public/**", "/api/public", true},
		"double star no match":   {"/api/public/**", "/api/private/data", false},
		"single star segment":    {"/api/*/docs", "/api/v1/docs", true},
		"single star one level":  {"/api/*/docs", "/api/v1/extra/docs", false},
		"star within segment":    {"/files/*.css", "/files/site.css", true},
		"star within no match":   {"/files/*.css", "/files/site.js", false},
		"double star in middle":  {"/api/**/health", "/api/a/b/health", true},
		"double star mid zero":   {"/api/**/health", "/api/health", true},
		"match everything":       {"**", "/any/thing/at/all", true},
		"root":                   {"/", "/", true},
		"trailing slash on path": {"/api/public/**", "/api/public/data/", true},
		"prefix is not a match":  {"/api", "/api/orders", false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := MatchPath(tc.pattern, tc.path); got != tc.want {
				t.Errorf("MatchPath(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
			}
		})
	}
}
