package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultEnvironmentName = "local"
	defaultStateFile       = ".downshift/state.db"
	envPrefix              = "DOWNSHIFT_"
)

// ResolvedEnvironment represents a fully-resolved environment with concrete values.
type ResolvedEnvironment struct {
	Name       string
	SourceURL  string
	TargetURL  string
	StagingURL string
	StateURL   string
	DotenvPath string
	FromConfig bool
	FromDotenv bool
}

// ResolveEnvironment resolves a named environment into connection strings.
// Values come from downshift.toml, then .env.<name> next to it, then
// DOWNSHIFT_* process variables, each overriding the previous.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	return resolveEnvironment(config, name, os.LookupEnv)
}

func resolveEnvironment(config *Config, name string, lookup func(string) (string, bool)) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if v, ok := lookup(envPrefix + "ENV"); ok && v != "" {
			envName = v
		} else if config != nil && config.DefaultEnvironment != "" {
			envName = config.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	resolved := &ResolvedEnvironment{Name: envName}

	envExists := false
	if config != nil && config.Environments != nil {
		if cfg, ok := config.Environments[envName]; ok {
			envExists = true
			resolved.FromConfig = true
			resolved.SourceURL = cfg.SourceURL
			resolved.TargetURL = cfg.TargetURL
			resolved.StagingURL = cfg.StagingURL
			resolved.StateURL = cfg.StateURL
		}
	}

	baseDir := config.ConfigDir()
	if baseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			baseDir = cwd
		}
	}
	resolved.DotenvPath = filepath.Join(baseDir, ".env."+envName)

	if info, err := os.Stat(resolved.DotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(resolved.DotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolved.DotenvPath, err)
		}
		resolved.FromDotenv = true
		resolved.apply(func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		})
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to access %s: %w", resolved.DotenvPath, err)
	}

	resolved.apply(lookup)

	if resolved.StateURL == "" {
		resolved.StateURL = filepath.Join(baseDir, defaultStateFile)
	}

	if config != nil && len(config.Environments) > 0 && !envExists && !resolved.FromDotenv {
		return nil, fmt.Errorf("environment %q not defined in %s and %s not found", envName, FileName, resolved.DotenvPath)
	}

	return resolved, nil
}

// apply overrides fields with the DOWNSHIFT_* keys present in lookup.
func (r *ResolvedEnvironment) apply(lookup func(string) (string, bool)) {
	for key, field := range map[string]*string{
		"SOURCE_URL":  &r.SourceURL,
		"TARGET_URL":  &r.TargetURL,
		"STAGING_URL": &r.StagingURL,
		"STATE_URL":   &r.StateURL,
	} {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*field = v
		}
	}
}

// Require returns an error naming every empty connection among roles.
func (r *ResolvedEnvironment) Require(roles ...string) error {
	var missing []string
	for _, role := range roles {
		if r.URL(role) == "" {
			missing = append(missing, role)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("environment %q has no connection for %s (set %s_URL in %s or %s)",
			r.Name, strings.Join(missing, ", "), envPrefix+strings.ToUpper(missing[0]), FileName, r.DotenvPath)
	}
	return nil
}

// URL returns the connection string of a logical role.
func (r *ResolvedEnvironment) URL(role string) string {
	switch role {
	case "source":
		return r.SourceURL
	case "target":
		return r.TargetURL
	case "staging":
		return r.StagingURL
	case "state":
		return r.StateURL
	default:
		return ""
	}
}
