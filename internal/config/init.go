package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InitOptions describes the project files written by Init.
type InitOptions struct {
	Environment string
	SourceURL   string
	TargetURL   string
	StagingURL  string
	StateURL    string
	// Force overwrites an existing downshift.toml and .env.<environment>.
	Force bool
}

// InitResult lists what Init wrote.
type InitResult struct {
	ConfigPath       string
	EnvFile          string
	GitignoreUpdated bool
}

// Init writes downshift.toml and .env.<environment> into dir. Connection
// strings go to the dotenv file only, which is kept out of git.
func Init(dir string, opts InitOptions) (*InitResult, error) {
	name := strings.TrimSpace(opts.Environment)
	if name == "" {
		name = defaultEnvironmentName
	}
	if strings.ContainsAny(name, " ./\\\"[]") {
		return nil, fmt.Errorf("invalid environment name %q", name)
	}

	result := &InitResult{
		ConfigPath: filepath.Join(dir, FileName),
		EnvFile:    filepath.Join(dir, ".env."+name),
	}
	if !opts.Force {
		for _, path := range []string{result.ConfigPath, result.EnvFile} {
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
	}

	if err := writeFile(result.ConfigPath, []byte(configTemplate(name)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	if err := writeFile(result.EnvFile, []byte(envTemplate(name, opts)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", result.EnvFile, err)
	}

	updated, err := updateGitignore(filepath.Join(dir, ".gitignore"))
	if err != nil {
		return nil, fmt.Errorf("failed to update .gitignore: %w", err)
	}
	result.GitignoreUpdated = updated
	return result, nil
}

func configTemplate(env string) string {
	var b strings.Builder
	b.WriteString("# Downshift configuration\n")
	b.WriteString("# Connection strings live in .env.<environment> files, never in this file.\n\n")
	fmt.Fprintf(&b, "default_environment = %q\n", env)
	fmt.Fprintf(&b, "output_dir = %q\n", DefaultOutputDir)
	fmt.Fprintf(&b, "batch_size = %d\n", DefaultBatchSize)
	fmt.Fprintf(&b, "compression_threshold_bytes = %d\n", DefaultCompressionThreshold)
	fmt.Fprintf(&b, "connect_timeout = %q\n", DefaultConnectTimeout.String())
	b.WriteString("# catalog_path = \"catalog.toml\"\n\n")
	fmt.Fprintf(&b, "[environments.%s]\n", env)
	fmt.Fprintf(&b, "# Connection: .env.%s\n", env)
	return b.String()
}

func envTemplate(env string, opts InitOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Downshift environment: %s\n", env)
	b.WriteString("# Do not commit this file.\n\n")
	b.WriteString("# Superset database, read only\n")
	fmt.Fprintf(&b, "%sSOURCE_URL=%s\n", envPrefix, opts.SourceURL)
	b.WriteString("# Subset database, read only\n")
	fmt.Fprintf(&b, "%sTARGET_URL=%s\n", envPrefix, opts.TargetURL)
	b.WriteString("# Copy of the source that the migration is applied to\n")
	fmt.Fprintf(&b, "%sSTAGING_URL=%s\n", envPrefix, opts.StagingURL)
	if opts.StateURL != "" {
		fmt.Fprintf(&b, "%sSTATE_URL=%s\n", envPrefix, opts.StateURL)
	} else {
		fmt.Fprintf(&b, "# Job state, defaults to %s\n", defaultStateFile)
		fmt.Fprintf(&b, "# %sSTATE_URL=\n", envPrefix)
	}
	return b.String()
}

// updateGitignore adds the dotenv files and local state to .gitignore unless
// they are already ignored.
func updateGitignore(path string) (bool, error) {
	content := ""
	if data, err := os.ReadFile(path); err == nil {
		content = string(data)
	} else if !os.IsNotExist(err) {
		return false, err
	}

	var missing []string
	for _, pattern := range []string{".env.*", filepath.Dir(defaultStateFile) + "/", DefaultOutputDir + "/"} {
		if !strings.Contains(content, pattern) {
			missing = append(missing, pattern)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "\n# Downshift credentials, job state and exports\n" + strings.Join(missing, "\n") + "\n"
	return true, os.WriteFile(path, []byte(content), 0o644)
}

// writeFile writes via a temporary file and rename so readers never see a
// partial file.
func writeFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
