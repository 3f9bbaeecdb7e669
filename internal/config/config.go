package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"scholarflow/internal/status"
)

// DefaultAttachmentMaxBytes caps decision-letter attachment uploads (25 MiB).
const DefaultAttachmentMaxBytes = 25 << 20

// Config models scholarflow.yml.
type Config struct {
	Platform struct {
		Name string `yaml:"name"`
	} `yaml:"platform"`
	Access struct {
		// ScopeEnforcement is the deployment-wide journal-scope toggle.
		// managing_editor and editor_in_chief are scope-checked even when
		// this is off.
		ScopeEnforcement bool `yaml:"scope_enforcement"`
	} `yaml:"access"`
	Decisions struct {
		AttachmentMaxBytes int64 `yaml:"attachment_max_bytes"`
	} `yaml:"decisions"`
	Production struct {
		GateEnabled bool `yaml:"gate_enabled"`
		// Strict additionally requires an approved production cycle at
		// publish time and makes a missing final_pdf_path column fatal.
		Strict bool `yaml:"strict"`
	} `yaml:"production"`
	Status struct {
		// LegacyAliases overrides the built-in legacy translation table.
		LegacyAliases map[string]string `yaml:"legacy_aliases"`
	} `yaml:"status"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Storage struct {
		Dir       string `yaml:"dir"`
		URLSecret string `yaml:"url_secret"`
		// PublicBaseURL prefixes signed download links, e.g. https://api.example.org/v1.
		PublicBaseURL string `yaml:"public_base_url"`
		URLTTLSeconds int    `yaml:"url_ttl_seconds"`
	} `yaml:"storage"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Decisions.AttachmentMaxBytes <= 0 {
		return fmt.Errorf("config.decisions.attachment_max_bytes must be positive")
	}
	if c.Storage.URLTTLSeconds <= 0 {
		return fmt.Errorf("config.storage.url_ttl_seconds must be positive")
	}
	for raw, target := range c.Status.LegacyAliases {
		if raw == "" {
			return fmt.Errorf("config.status.legacy_aliases contains empty key")
		}
		if !status.IsKnown(target) {
			return fmt.Errorf("legacy alias %s maps to unknown status %s", raw, target)
		}
	}
	if c.Production.Strict && !c.Production.GateEnabled {
		return fmt.Errorf("config.production.strict requires gate_enabled")
	}
	return nil
}

// StatusModel returns the lifecycle model with any configured alias
// overrides applied on top of the defaults.
func (c *Config) StatusModel() status.Model {
	if len(c.Status.LegacyAliases) == 0 {
		return status.Default()
	}
	aliases := make(map[string]string, len(status.DefaultAliases)+len(c.Status.LegacyAliases))
	for k, v := range status.DefaultAliases {
		aliases[k] = v
	}
	for k, v := range c.Status.LegacyAliases {
		aliases[k] = v
	}
	return status.Model{Aliases: aliases}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "scholarflow.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	cfg.Platform.Name = "scholarflow"
	cfg.Access.ScopeEnforcement = true
	cfg.Decisions.AttachmentMaxBytes = DefaultAttachmentMaxBytes
	cfg.Production.GateEnabled = true
	cfg.Storage.PublicBaseURL = "/v1"
	cfg.Storage.URLTTLSeconds = 900
	return &cfg
}

// GenerateDefault returns the default config YAML for a fresh workspace.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `platform:
  name: scholarflow

access:
  # Journal scope enforcement for managing/assistant editors.
  # managing_editor and editor_in_chief are always scope-checked.
  scope_enforcement: true

decisions:
  attachment_max_bytes: 26214400

production:
  gate_enabled: true
  # strict also requires an approved production cycle before publish
  strict: false

status:
  # Overrides for the legacy status translation table, raw -> current.
  legacy_aliases: {}

auth:
  jwt_secret: ""
  allow_legacy_actor_header: false

storage:
  dir: ""
  url_secret: ""
  # Prefix for signed download links, e.g. https://api.example.org/v1
  public_base_url: "/v1"
  url_ttl_seconds: 900
`
