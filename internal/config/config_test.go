package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const exampleConfig = `output_dir = "exports"
batch_size = 250
connect_timeout = "3s"

[environments.local]
source_url = "postgres://source"
staging_url = "staging.db"`

// compareConfigPaths compares two paths, resolving symlinks
func compareConfigPaths(t *testing.T, expected, actual string) {
	t.Helper()

	expectedResolved, err := filepath.EvalSymlinks(expected)
	if err != nil {
		expectedResolved = expected
	}
	actualResolved, err := filepath.EvalSymlinks(actual)
	if err != nil {
		actualResolved = actual
	}

	if expectedResolved != actualResolved {
		t.Errorf("Expected ConfigFilePath=%q, got %q", expectedResolved, actualResolved)
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadConfigInCurrentDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, FileName)
	writeTestFile(t, configPath, exampleConfig)

	config, err := LoadConfigFrom(tempDir)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}

	local, ok := config.Environments["local"]
	if !ok {
		t.Fatalf("Expected local environment, got %v", config.Environments)
	}
	if local.SourceURL != "postgres://source" {
		t.Errorf("Expected source_url=postgres://source, got %q", local.SourceURL)
	}
	if config.Batch() != 250 {
		t.Errorf("Expected batch size 250, got %d", config.Batch())
	}
	if d, _ := config.Timeout(); d != 3*time.Second {
		t.Errorf("Expected connect timeout 3s, got %v", d)
	}
	if got := config.ExportDir(); got != filepath.Join(tempDir, "exports") {
		t.Errorf("Expected export dir relative to config, got %q", got)
	}

	compareConfigPaths(t, configPath, config.ConfigFilePath)
}

func TestLoadConfigInParentDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, FileName)
	writeTestFile(t, configPath, exampleConfig)

	subDir := filepath.Join(tempDir, "subdir", "nested")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	config, err := LoadConfigFrom(subDir)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}

	compareConfigPaths(t, configPath, config.ConfigFilePath)
}

func TestLoadConfigNoFileReturnsEmpty(t *testing.T) {
	tempDir := t.TempDir()
	// Stop the walk inside the temp dir.
	writeTestFile(t, filepath.Join(tempDir, "go.mod"), "module example.com/x\n")

	config, err := LoadConfigFrom(tempDir)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}

	if config.Environments != nil {
		t.Errorf("Expected empty environments, got %v", config.Environments)
	}
	if config.ConfigFilePath != "" {
		t.Errorf("Expected empty ConfigFilePath, got %q", config.ConfigFilePath)
	}
	if config.Batch() != DefaultBatchSize {
		t.Errorf("Expected default batch size, got %d", config.Batch())
	}
	if config.CompressionThreshold() != DefaultCompressionThreshold {
		t.Errorf("Expected default compression threshold, got %d", config.CompressionThreshold())
	}
	if config.ExportDir() != DefaultOutputDir {
		t.Errorf("Expected default output dir, got %q", config.ExportDir())
	}
}

func TestLoadConfigStopsAtGitRoot(t *testing.T) {
	tempDir := t.TempDir()
	parentDir := filepath.Join(tempDir, "parent")
	writeTestFile(t, filepath.Join(parentDir, FileName), `[environments.local]
source_url = "parent"`)

	gitProjectDir := filepath.Join(parentDir, "git-project")
	if err := os.MkdirAll(filepath.Join(gitProjectDir, ".git"), 0o755); err != nil {
		t.Fatalf("Failed to create .git directory: %v", err)
	}
	gitConfigPath := filepath.Join(gitProjectDir, FileName)
	writeTestFile(t, gitConfigPath, `[environments.local]
source_url = "git-project"`)

	subDir := filepath.Join(gitProjectDir, "src", "components")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	config, err := LoadConfigFrom(subDir)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}

	if got := config.Environments["local"].SourceURL; got != "git-project" {
		t.Errorf("Expected source_url=git-project, got %q", got)
	}
	compareConfigPaths(t, gitConfigPath, config.ConfigFilePath)
}

func TestLoadConfigDoesNotCrossProjectRoot(t *testing.T) {
	tempDir := t.TempDir()
	writeTestFile(t, filepath.Join(tempDir, FileName), exampleConfig)

	projectDir := filepath.Join(tempDir, "project")
	writeTestFile(t, filepath.Join(projectDir, "go.mod"), "module example.com/project\n")

	config, err := LoadConfigFrom(projectDir)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}
	if config.ConfigFilePath != "" {
		t.Errorf("Expected no config above the project root, got %q", config.ConfigFilePath)
	}
}

func TestReadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", `batch_size = `},
		{"negative batch", `batch_size = -1`},
		{"negative threshold", `compression_threshold_bytes = -5`},
		{"bad timeout", `connect_timeout = "soon"`},
		{"zero timeout", `connect_timeout = "0s"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			writeTestFile(t, path, tt.content)
			if _, err := ReadConfig(path); err == nil {
				t.Fatalf("Expected error for %q", tt.content)
			}
		})
	}
}
