// Package config loads the upgradeboard daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/playsafesec/upgradeboard/internal/inventory"
	"github.com/playsafesec/upgradeboard/internal/reconciler"
)

// DefaultListen is the default API address.
const DefaultListen = "127.0.0.1:7466"

// Config holds the daemon configuration.
type Config struct {
	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level"`
	// Listen is the API server address.
	Listen string `yaml:"listen"`
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`
	// ArchiveDir holds logs-index.json and the archived run logs.
	ArchiveDir string `yaml:"archive_dir"`
	// RepoDir is a local checkout used for inventories when GitHub is not configured.
	RepoDir string `yaml:"repo_dir"`

	GitHub     GitHubConfig       `yaml:"github"`
	Inventory  InventoryConfig    `yaml:"inventory"`
	Reconciler *reconciler.Config `yaml:"reconciler"`
}

// GitHubConfig selects the workflow repository.
type GitHubConfig struct {
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
	Workflow string `yaml:"workflow"`
	Ref      string `yaml:"ref"`
	// Token is normally supplied through GITHUB_TOKEN.
	Token    string `yaml:"token"`
	APIURL   string `yaml:"api_url"`
	RetryMax int    `yaml:"retry_max"`
}

// Enabled reports whether a token is available.
func (g GitHubConfig) Enabled() bool {
	return g.Token != ""
}

// InventoryConfig locates the inventory files in the repository.
type InventoryConfig struct {
	HostPath    string `yaml:"host_path"`
	PackagePath string `yaml:"package_path"`
}

// Dir returns ~/.upgradeboard, or a relative directory if home is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".upgradeboard"
	}
	return filepath.Join(home, ".upgradeboard")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		Listen:     DefaultListen,
		DBPath:     filepath.Join(Dir(), "upgradeboard.db"),
		ArchiveDir: "logs",
		RepoDir:    ".",
		GitHub: GitHubConfig{
			Owner:    "playsafesec",
			Repo:     "splunk_upgrade",
			Workflow: "splunk-upgrade.yml",
			Ref:      "main",
			RetryMax: 3,
		},
		Inventory: InventoryConfig{
			HostPath:    inventory.DefaultHostPath,
			PackagePath: inventory.DefaultPackagePath,
		},
		Reconciler: reconciler.DefaultConfig(),
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults. Environment overrides apply in both cases.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromHome loads configuration from ~/.upgradeboard/config.yaml.
func LoadConfigFromHome() (*Config, error) {
	return LoadConfig(filepath.Join(Dir(), "config.yaml"))
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"GITHUB_TOKEN", &c.GitHub.Token},
		{"GITHUB_OWNER", &c.GitHub.Owner},
		{"GITHUB_REPO", &c.GitHub.Repo},
		{"WORKFLOW_FILE", &c.GitHub.Workflow},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.GitHub.Enabled() && (c.GitHub.Owner == "" || c.GitHub.Repo == "" || c.GitHub.Workflow == "") {
		return fmt.Errorf("github owner, repo and workflow are required when a token is set")
	}
	if c.Reconciler == nil {
		c.Reconciler = reconciler.DefaultConfig()
	}
	return c.Reconciler.Validate()
}

// ApplyLogLevel sets the global logrus level.
func (c *Config) ApplyLogLevel() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
