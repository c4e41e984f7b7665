package api

import (
	"net/http"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		provided string
		config   string
		want     bool
	}{
		{"match", "secret-key", "secret-key", true},
		{"mismatch", "wrong", "secret-key", false},
		{"empty config disables", "anything", "", false},
		{"empty provided", "", "secret-key", false},
		{"length mismatch", "secret", "secret-key", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateAPIKey(tc.provided, tc.config); got != tc.want {
				t.Errorf("ValidateAPIKey(%q, %q) = %v, want %v", tc.provided, tc.config, got, tc.want)
			}
		})
	}
}

func TestExtractAPIKey(t *testing.T) {
	t.Parallel()

	mkReq := func(header string) *http.Request {
		r, _ := http.NewRequest(http.MethodGet, "/v1/outcomes", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	if _, err := ExtractAPIKey(mkReq("")); err == nil {
		t.Error("missing header should fail")
	}
	if _, err := ExtractAPIKey(mkReq("Basic dXNlcg==")); err == nil {
		t.Error("non-bearer scheme should fail")
	}
	if _, err := ExtractAPIKey(mkReq("Bearer   ")); err == nil {
		t.Error("blank key should fail")
	}

	key, err := ExtractAPIKey(mkReq("Bearer secret-key"))
	if err != nil {
		t.Fatalf("ExtractAPIKey: %v", err)
	}
	if key != "secret-key" {
		t.Errorf("got key %q", key)
	}
}
