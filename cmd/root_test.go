package cmd

import (
	"testing"
)

func TestRootCommand(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}

	if rootCmd.Use != "downshift" {
		t.Errorf("expected Use to be 'downshift', got %q", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("rootCmd.Short should not be empty")
	}
}

func TestVersionSet(t *testing.T) {
	if getVersion() == "" {
		t.Error("version should not be empty")
	}

	if rootCmd.Version == "" {
		t.Error("rootCmd.Version should not be empty")
	}
}

func TestCommandsRegistered(t *testing.T) {
	commands := rootCmd.Commands()
	if len(commands) == 0 {
		t.Fatal("expected at least one subcommand to be registered")
	}

	expectedCommands := map[string]bool{
		"init":       false,
		"compare":    false,
		"analyze":    false,
		"export":     false,
		"plan":       false,
		"apply":      false,
		"validate":   false,
		"run":        false,
		"cancel":     false,
		"status":     false,
		"watch":      false,
		"jobs":       false,
		"introspect": false,
		"version":    false,
	}

	for _, cmd := range commands {
		if _, exists := expectedCommands[cmd.Name()]; exists {
			expectedCommands[cmd.Name()] = true
		}
	}

	for cmdName, registered := range expectedCommands {
		if !registered {
			t.Errorf("expected command %q to be registered", cmdName)
		}
	}
}

func TestCommandsDocumented(t *testing.T) {
	for _, cmd := range rootCmd.Commands() {
		if cmd.Short == "" {
			t.Errorf("command %q has no short description", cmd.Name())
		}
	}
	for _, cmd := range []string{"compare", "analyze", "export", "plan", "apply", "validate", "run"} {
		c, _, err := rootCmd.Find([]string{cmd})
		if err != nil {
			t.Fatalf("command %q not found: %v", cmd, err)
		}
		if c.Long == "" || c.Example == "" {
			t.Errorf("command %q should have a long description and examples", cmd)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "text", false},
		{"debug", "json", false},
		{"warn", "", false},
		{"loud", "text", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		err := setupLogging(tt.level, tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("setupLogging(%q, %q) error = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
		}
	}
	_ = setupLogging("info", "text")
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var info buildInfo
	decode(t, out, &info)
	if info.Version == "" || info.GoVersion == "" {
		t.Errorf("expected version and go version, got %+v", info)
	}
}
