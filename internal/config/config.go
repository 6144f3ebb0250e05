package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default observer thresholds, used when neither the agent nor the observer
// section overrides them.
const (
	DefaultTokenThreshold      = 50000
	DefaultReflectionThreshold = 40000
)

type Config struct {
	Workspace WorkspaceConfig            `yaml:"workspace"`
	Agents    map[string]AgentDefinition `yaml:"agents"`
	Teams     Teams                      `yaml:"teams"`
	Dispatch  DispatchConfig             `yaml:"dispatch"`
	Anthropic AnthropicConfig            `yaml:"anthropic"`
	Observer  ObserverConfig             `yaml:"observer"`
	Relay     RelayConfig                `yaml:"relay"`
	NATS      NATSConfig                 `yaml:"nats"`
	Store     StoreConfig                `yaml:"store"`
	Scheduler SchedulerConfig            `yaml:"scheduler"`
	Vault     VaultConfig                `yaml:"vault"`
	Log       LogConfig                  `yaml:"log"`
}

type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// AgentDefinition describes one agent. The map key in Config.Agents is the
// agent id.
type AgentDefinition struct {
	Name                string   `yaml:"name"`
	Provider            string   `yaml:"provider"`
	Model               string   `yaml:"model"`
	WorkingDirectory    string   `yaml:"working_directory"`
	Observer            bool     `yaml:"observer"`
	TokenThreshold      int      `yaml:"token_threshold"`
	ReflectionThreshold int      `yaml:"reflection_threshold"`
	Secrets             []string `yaml:"secrets"`
}

// DisplayName returns the configured name, or the id when no name is set.
func (a AgentDefinition) DisplayName(id string) string {
	if a.Name != "" {
		return a.Name
	}
	return id
}

type DispatchConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	CodexCommand    string        `yaml:"codex_command"`
	OpencodeCommand string        `yaml:"opencode_command"`
}

type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

type ObserverConfig struct {
	Script              string        `yaml:"script"`
	Runtime             string        `yaml:"runtime"`
	Timeout             time.Duration `yaml:"timeout"`
	TokenThreshold      int           `yaml:"token_threshold"`
	ReflectionThreshold int           `yaml:"reflection_threshold"`
}

// Thresholds resolves the token and reflection thresholds for an agent,
// preferring per-agent overrides.
func (o ObserverConfig) Thresholds(def AgentDefinition) (tokens, reflection int) {
	tokens, reflection = o.TokenThreshold, o.ReflectionThreshold
	if tokens <= 0 {
		tokens = DefaultTokenThreshold
	}
	if reflection <= 0 {
		reflection = DefaultReflectionThreshold
	}
	if def.TokenThreshold > 0 {
		tokens = def.TokenThreshold
	}
	if def.ReflectionThreshold > 0 {
		reflection = def.ReflectionThreshold
	}
	return tokens, reflection
}

type RelayConfig struct {
	MaxHops int `yaml:"max_hops"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
	// MaxStoreMB caps JetStream disk usage; 0 leaves it to the server.
	MaxStoreMB int64 `yaml:"max_store_mb"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() Config {
	return Config{
		Workspace: WorkspaceConfig{
			Path: "workspace",
		},
		Dispatch: DispatchConfig{
			Timeout:         120 * time.Second,
			CodexCommand:    "codex",
			OpencodeCommand: "opencode",
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 8192,
		},
		Observer: ObserverConfig{
			Runtime:             "node",
			Timeout:             5 * time.Minute,
			TokenThreshold:      DefaultTokenThreshold,
			ReflectionThreshold: DefaultReflectionThreshold,
		},
		Relay: RelayConfig{
			MaxHops: 8,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/teamrelay.db",
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv("TEAMRELAY_CONFIG"); p != "" {
		return p
	}
	return "config/teamrelay.yaml"
}

func Load() (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TEAMRELAY_WORKSPACE"); v != "" {
		cfg.Workspace.Path = v
	}
	if v := os.Getenv("TEAMRELAY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TEAMRELAY_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("TEAMRELAY_INVOKE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.Timeout = d
		}
	}
	if v := os.Getenv("TEAMRELAY_OBSERVER_SCRIPT"); v != "" {
		cfg.Observer.Script = v
	}
	if v := os.Getenv("TEAMRELAY_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("TEAMRELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
}

// validate checks references between teams and agents.
func (c *Config) validate() error {
	for _, t := range c.Teams {
		for _, id := range t.Agents {
			if _, ok := c.Agents[id]; !ok {
				return fmt.Errorf("team %s: unknown agent %q", t.ID, id)
			}
		}
		if t.LeaderAgent != "" && !t.Has(t.LeaderAgent) {
			return fmt.Errorf("team %s: leader %q is not a member", t.ID, t.LeaderAgent)
		}
	}
	return nil
}
