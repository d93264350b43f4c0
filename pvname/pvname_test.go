package pvname

import "testing"

func TestCanonicalCollapsesSeparatorsAndEnsuresOneLeadingSlash(t *testing.T) {
	cases := map[string]string{
		"temperature":  "/temperature",
		"/temperature": "/temperature",
		"//foo//bar/":  "/foo/bar",
		"foo/bar":      "/foo/bar",
		"":             "/",
	}
	for input, want := range cases {
		if got := Canonical(input); got != want {
			t.Fatalf("Canonical(%q) = %q, want %q", input, got, want)
		}
	}
}
