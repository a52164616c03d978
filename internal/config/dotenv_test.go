package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDotEnvLine(t *testing.T) {
	cases := []struct {
		line  string
		key   string
		value string
		ok    bool
	}{
		{"PORT=8080", "PORT", "8080", true},
		{"  LOG_LEVEL = debug  ", "LOG_LEVEL", "debug", true},
		{`JWT_SECRET="s3cret"`, "JWT_SECRET", "s3cret", true},
		{"export SUPABASE_URL='http://localhost'", "SUPABASE_URL", "http://localhost", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"no-equals-sign", "", "", false},
		{"=orphan-value", "", "", false},
	}

	for _, tc := range cases {
		key, value, ok := parseDotEnvLine(tc.line)
		if ok != tc.ok || key != tc.key || value != tc.value {
			t.Errorf("parseDotEnvLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.line, key, value, ok, tc.key, tc.value, tc.ok)
		}
	}
}

func TestLoadDotEnv_EnvTakesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "DOTENV_TEST_A=from-file\nDOTENV_TEST_B=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DOTENV_TEST_A", "from-env")
	t.Setenv("DOTENV_TEST_B", "")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if got := os.Getenv("DOTENV_TEST_A"); got != "from-env" {
		t.Errorf("existing env var overridden: %q", got)
	}
	if got := os.Getenv("DOTENV_TEST_B"); got != "from-file" {
		t.Errorf("unset env var not loaded: %q", got)
	}
}
