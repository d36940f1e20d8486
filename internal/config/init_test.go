package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesLoadableProject(t *testing.T) {
	dir := t.TempDir()

	result, err := Init(dir, InitOptions{
		Environment: "rehearsal",
		SourceURL:   "postgres://localhost/superset",
		TargetURL:   "postgres://localhost/subset",
		StagingURL:  "postgres://localhost/staging",
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !result.GitignoreUpdated {
		t.Error("expected .gitignore to be updated")
	}

	config, err := ReadConfig(result.ConfigPath)
	if err != nil {
		t.Fatalf("generated config does not parse: %v", err)
	}
	if config.DefaultEnvironment != "rehearsal" {
		t.Errorf("expected default environment rehearsal, got %q", config.DefaultEnvironment)
	}
	if _, ok := config.Environments["rehearsal"]; !ok {
		t.Error("expected environments.rehearsal to be defined")
	}

	env, err := resolveEnvironment(config, "", noEnv)
	if err != nil {
		t.Fatalf("resolveEnvironment failed: %v", err)
	}
	if env.SourceURL != "postgres://localhost/superset" || env.StagingURL != "postgres://localhost/staging" {
		t.Errorf("dotenv values not resolved: %+v", env)
	}
	if env.StateURL != filepath.Join(dir, defaultStateFile) {
		t.Errorf("expected default state file, got %q", env.StateURL)
	}

	info, err := os.Stat(result.EnvFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected .env file mode 0600, got %o", info.Mode().Perm())
	}
}

func TestInitRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir, InitOptions{}); err != nil {
		t.Fatalf("first Init failed: %v", err)
	}
	if _, err := Init(dir, InitOptions{}); err == nil {
		t.Fatal("expected second Init to fail without Force")
	}
	if _, err := Init(dir, InitOptions{Force: true}); err != nil {
		t.Fatalf("Init with Force failed: %v", err)
	}
}

func TestInitRejectsBadEnvironmentName(t *testing.T) {
	if _, err := Init(t.TempDir(), InitOptions{Environment: "a.b"}); err == nil {
		t.Fatal("expected an error for a dotted environment name")
	}
}

func TestUpdateGitignoreIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitignore")
	if err := os.WriteFile(path, []byte("node_modules/"), 0o644); err != nil {
		t.Fatal(err)
	}

	updated, err := updateGitignore(path)
	if err != nil || !updated {
		t.Fatalf("expected first update, got %v, %v", updated, err)
	}
	updated, err = updateGitignore(path)
	if err != nil || updated {
		t.Fatalf("expected no second update, got %v, %v", updated, err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	for _, want := range []string{"node_modules/\n", ".env.*", ".downshift/", "downshift-exports/"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected .gitignore to contain %q:\n%s", want, content)
		}
	}
}
