package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/organizations/ORG-A":            "/v1/organizations/:id",
		"/v1/organizations/ORG-A/verify":     "/v1/organizations/:id/verify",
		"/v1/services/abc123":                "/v1/services/:id",
		"/v1/exchange":                       "/v1/exchange",
		"/v1/discovery":                      "/v1/discovery",
		"/v1/audit/entries?limit=10":         "/v1/audit/entries",
		"/v1/certificates/abc/revoke":        "/v1/certificates/:id/revoke",
		"/v1/access-rights/01HTX":            "/v1/access-rights/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
