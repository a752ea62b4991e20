// Package config loads codex-bridge settings from codex.yaml files and the
// environment. User-level settings are read first; project-level settings
// override them field by field.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingCredential is returned when no API token is configured.
var ErrMissingCredential = errors.New("missing API credential")

// ApprovalPolicy controls when the agent asks before running commands.
type ApprovalPolicy string

const (
	ApprovalUntrusted ApprovalPolicy = "untrusted"
	ApprovalOnFailure ApprovalPolicy = "on-failure"
	ApprovalNever     ApprovalPolicy = "never"
)

// SandboxMode is the execution permission mode granted to the agent.
type SandboxMode string

const (
	SandboxReadOnly         SandboxMode = "read-only"
	SandboxWorkspaceWrite   SandboxMode = "workspace-write"
	SandboxDangerFullAccess SandboxMode = "danger-full-access"
)

// Provider describes the model provider the agent connects to.
type Provider struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	WireAPI string `yaml:"wire_api"`
	EnvKey  string `yaml:"env_key"`
}

// Settings holds everything needed to launch and configure an agent.
type Settings struct {
	CodexPath        string         `yaml:"codex_path"`
	Model            string         `yaml:"model"`
	Token            string         `yaml:"token"`
	ApprovalPolicy   ApprovalPolicy `yaml:"approval_policy"`
	SandboxMode      SandboxMode    `yaml:"sandbox_mode"`
	Permissions      PathList       `yaml:"permissions"`
	DefaultRoots     []string       `yaml:"default_roots"`
	Provider         Provider       `yaml:"provider"`
	LogLevel         string         `yaml:"log_level"`
	WatchdogInterval time.Duration  `yaml:"watchdog_interval"`
	TerminateGrace   time.Duration  `yaml:"terminate_grace"`
}

// PathList is a list of paths that may also be written as a single string.
type PathList []string

func (l *PathList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		if single == "" {
			*l = nil
		} else {
			*l = PathList{single}
		}
		return nil
	case yaml.SequenceNode:
		var paths []string
		if err := value.Decode(&paths); err != nil {
			return err
		}
		*l = paths
		return nil
	}
	return fmt.Errorf("line %d: expected a path or a list of paths", value.Line)
}

// Default returns the settings used when no file overrides them.
func Default() *Settings {
	return &Settings{
		CodexPath:      "codex",
		Model:          "codex-mini-latest",
		ApprovalPolicy: ApprovalOnFailure,
		SandboxMode:    SandboxReadOnly,
		DefaultRoots:   []string{os.TempDir()},
		Provider: Provider{
			Name:    "openai",
			BaseURL: "https://api.openai.com/v1",
			WireAPI: "responses",
			EnvKey:  "OPENAI_API_KEY",
		},
		LogLevel:         "info",
		WatchdogInterval: 5 * time.Second,
		TerminateGrace:   2 * time.Second,
	}
}

// Load reads the given files in order, later files overriding earlier ones,
// then applies environment overrides. Missing files are skipped.
func Load(paths ...string) (*Settings, error) {
	s := Default()
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := loadFromFile(path, s); err != nil {
			return nil, fmt.Errorf("error loading %s: %w", path, err)
		}
	}
	s.applyEnv()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse decodes YAML content on top of the defaults. It does not consult the
// environment.
func Parse(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadFromFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal only overwrites fields present in the document.
	return yaml.Unmarshal(data, s)
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("CODEX_BIN"); v != "" {
		s.CodexPath = v
	}
	if v := os.Getenv("CODEX_MODEL"); v != "" {
		s.Model = v
	}
}

// Validate checks enum-valued fields.
func (s *Settings) Validate() error {
	switch s.ApprovalPolicy {
	case ApprovalUntrusted, ApprovalOnFailure, ApprovalNever:
	default:
		return fmt.Errorf("invalid approval_policy %q", s.ApprovalPolicy)
	}
	switch s.SandboxMode {
	case SandboxReadOnly, SandboxWorkspaceWrite, SandboxDangerFullAccess:
	default:
		return fmt.Errorf("invalid sandbox_mode %q", s.SandboxMode)
	}
	if s.Provider.EnvKey == "" {
		return fmt.Errorf("provider.env_key must not be empty")
	}
	return nil
}

// Credential returns the API token, preferring the settings file over the
// provider's environment variable.
func (s *Settings) Credential() (string, error) {
	if s.Token != "" {
		return s.Token, nil
	}
	if v := os.Getenv(s.Provider.EnvKey); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: set token in codex.yaml or export %s", ErrMissingCredential, s.Provider.EnvKey)
}
