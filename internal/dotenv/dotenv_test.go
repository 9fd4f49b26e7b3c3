package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissing(t *testing.T) {
	applied, err := LoadFile(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
	if applied {
		t.Fatal("missing file reported as applied")
	}
}

func TestLoadFileValues(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# comment\n" +
		"FROM_FILE=loaded\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='keep # this'\n" +
		"TRAILING=value # dropped\n" +
		"export EXPORTED=ok\n" +
		"EXISTING=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING", "already_set")
	for _, key := range []string{"FROM_FILE", "QUOTED", "SINGLE", "TRAILING", "EXPORTED"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	applied, err := LoadFile(envPath)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if !applied {
		t.Fatal("existing file not reported as applied")
	}

	want := map[string]string{
		"FROM_FILE": "loaded",
		"QUOTED":    "hello world",
		"SINGLE":    "keep # this",
		"TRAILING":  "value",
		"EXPORTED":  "ok",
		"EXISTING":  "already_set",
	}
	for key, expected := range want {
		if got := os.Getenv(key); got != expected {
			t.Fatalf("%s=%q, want %q", key, got, expected)
		}
	}
}

func TestLoadStopsAtFirstFound(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.env")
	second := filepath.Join(dir, "b.env")
	if err := os.WriteFile(first, []byte("PICKED=first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("PICKED=second\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PICKED", "")
	os.Unsetenv("PICKED")

	if err := Load(filepath.Join(dir, "missing.env"), first, second); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := os.Getenv("PICKED"); got != "first" {
		t.Fatalf("PICKED=%q, want %q", got, "first")
	}
}
