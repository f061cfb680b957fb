// Package config handles Reeve configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/reeve/config.yaml, /etc/reeve/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reeve", "config.yaml"))
	}

	paths = append(paths, "/etc/reeve/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Reeve configuration.
type Config struct {
	Listen      ListenConfig     `yaml:"listen"`
	Providers   ProvidersConfig  `yaml:"providers"`
	Loop        LoopConfig       `yaml:"loop"`
	Budget      BudgetConfig     `yaml:"budget"`
	Compaction  CompactionConfig `yaml:"compaction"`
	Context     ContextConfig    `yaml:"context"`
	Workspace   WorkspaceConfig  `yaml:"workspace"`
	Tools       ToolsConfig      `yaml:"tools"`
	Policy      PolicyConfig     `yaml:"policy"`
	DataDir     string           `yaml:"data_dir"`
	PersonaFile string           `yaml:"persona_file"`
	LogLevel    string           `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// RatePerSecond and RateBurst bound request admission per client.
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
}

// ProvidersConfig defines reasoning provider settings.
type ProvidersConfig struct {
	DefaultModel string          `yaml:"default_model"`
	Anthropic    AnthropicConfig `yaml:"anthropic"`
	Ollama       OllamaConfig    `yaml:"ollama"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	// Models routed to this provider, in addition to any model name
	// with a "claude" prefix.
	Models []string `yaml:"models"`
}

// OllamaConfig defines local Ollama settings.
type OllamaConfig struct {
	URL    string   `yaml:"url"` // default http://localhost:11434
	Models []string `yaml:"models"`
}

// LoopConfig bounds the agent loop.
type LoopConfig struct {
	// MaxIterations caps provider round trips per user utterance.
	MaxIterations int `yaml:"max_iterations"`
	// ProviderRetries is the number of retry attempts after a failed
	// provider call before the loop gives up.
	ProviderRetries int `yaml:"provider_retries"`
	// ProviderTimeoutSec bounds a single provider request.
	ProviderTimeoutSec int `yaml:"provider_timeout_sec"`
}

// BudgetConfig defines the token budget for a session's working context.
type BudgetConfig struct {
	// MaxContextTokens is the context window the session must fit in.
	MaxContextTokens int `yaml:"max_context_tokens"`
	// SoftThreshold is the fraction of MaxContextTokens above which
	// compaction runs before the next provider call.
	SoftThreshold float64 `yaml:"soft_threshold"`
}

// CompactionConfig controls history compaction.
type CompactionConfig struct {
	// KeepRecent messages are never altered by compaction.
	KeepRecent int `yaml:"keep_recent"`
	// MinMessages is the minimum number of eligible messages before
	// compaction bothers summarizing.
	MinMessages int `yaml:"min_messages"`
	// FlushWindow is how many recent messages the memory flush examines.
	FlushWindow int `yaml:"flush_window"`
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file operations. All file tool
	// paths resolve inside this directory. If empty, file tools are
	// disabled.
	Path string `yaml:"path"`
}

// ContextConfig caps the assembled system-prompt sections.
type ContextConfig struct {
	// PersonaMaxBytes caps the persona section. An over-cap persona
	// fails startup; it is never truncated silently.
	PersonaMaxBytes int `yaml:"persona_max_bytes"`
	// MemoryMaxBytes caps the retrieved-memory section.
	MemoryMaxBytes int `yaml:"memory_max_bytes"`
	// MemoryTopK is how many facts memory search returns per turn.
	MemoryTopK int `yaml:"memory_top_k"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	// DefaultTimeoutSec is the per-tool execution timeout (default 300).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
	// TimeoutsSec overrides the timeout for specific tools by name.
	TimeoutsSec map[string]int `yaml:"timeouts_sec"`
	// MaxOutputBytes caps captured tool output (default 20KB).
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// PolicyConfig is the layered tool authorization policy. It is read once
// at startup and is read-only afterward.
type PolicyConfig struct {
	// AllowTools / AllowGroups form the allow set. Empty means no
	// restriction by allow.
	AllowTools  []string `yaml:"allow_tools"`
	AllowGroups []string `yaml:"allow_groups"`
	// DenyTools / DenyGroups always win over the allow set.
	DenyTools  []string `yaml:"deny_tools"`
	DenyGroups []string `yaml:"deny_groups"`
	// ExecMode is one of "full", "allowlist", "deny".
	ExecMode string `yaml:"exec_mode"`
	// ExecAllowlist holds glob patterns matched against the whole
	// command line when ExecMode is "allowlist".
	ExecAllowlist []string      `yaml:"exec_allowlist"`
	Sandbox       SandboxConfig `yaml:"sandbox"`
}

// SandboxConfig selects the execution environment for permitted calls.
type SandboxConfig struct {
	// Mode is one of "host", "container", "isolated".
	Mode string `yaml:"mode"`
	// Network permits outbound network access inside the sandbox.
	Network bool `yaml:"network"`
	// BindMounts are host paths made visible inside the sandbox.
	BindMounts []string `yaml:"bind_mounts"`
	// MemoryLimitMB caps sandboxed process memory (0 = unlimited).
	MemoryLimitMB int `yaml:"memory_limit_mb"`
	// CPULimit caps sandboxed CPU shares (0 = unlimited).
	CPULimit int `yaml:"cpu_limit"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 7272
	}
	if c.Listen.RatePerSecond == 0 {
		c.Listen.RatePerSecond = 2
	}
	if c.Listen.RateBurst == 0 {
		c.Listen.RateBurst = 5
	}
	if c.Providers.Ollama.URL == "" {
		c.Providers.Ollama.URL = "http://localhost:11434"
	}
	if c.Loop.MaxIterations == 0 {
		c.Loop.MaxIterations = 25
	}
	if c.Loop.ProviderRetries == 0 {
		c.Loop.ProviderRetries = 3
	}
	if c.Loop.ProviderTimeoutSec == 0 {
		c.Loop.ProviderTimeoutSec = 120
	}
	if c.Budget.MaxContextTokens == 0 {
		c.Budget.MaxContextTokens = 64000
	}
	if c.Budget.SoftThreshold == 0 {
		c.Budget.SoftThreshold = 0.8
	}
	if c.Compaction.KeepRecent == 0 {
		c.Compaction.KeepRecent = 10
	}
	if c.Compaction.MinMessages == 0 {
		c.Compaction.MinMessages = 6
	}
	if c.Compaction.FlushWindow == 0 {
		c.Compaction.FlushWindow = 20
	}
	if c.Context.PersonaMaxBytes == 0 {
		c.Context.PersonaMaxBytes = 16 * 1024
	}
	if c.Context.MemoryMaxBytes == 0 {
		c.Context.MemoryMaxBytes = 4 * 1024
	}
	if c.Context.MemoryTopK == 0 {
		c.Context.MemoryTopK = 5
	}
	if c.Tools.DefaultTimeoutSec == 0 {
		c.Tools.DefaultTimeoutSec = 300
	}
	if c.Tools.MaxOutputBytes == 0 {
		c.Tools.MaxOutputBytes = 20 * 1024
	}
	if c.Policy.ExecMode == "" {
		c.Policy.ExecMode = "deny"
	}
	if c.Policy.Sandbox.Mode == "" {
		c.Policy.Sandbox.Mode = "host"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

func (c *Config) validate() error {
	switch c.Policy.ExecMode {
	case "full", "allowlist", "deny":
	default:
		return fmt.Errorf("policy.exec_mode must be full, allowlist, or deny (got %q)", c.Policy.ExecMode)
	}
	switch c.Policy.Sandbox.Mode {
	case "host", "container", "isolated":
	default:
		return fmt.Errorf("policy.sandbox.mode must be host, container, or isolated (got %q)", c.Policy.Sandbox.Mode)
	}
	if c.Budget.SoftThreshold < 0 || c.Budget.SoftThreshold > 1 {
		return fmt.Errorf("budget.soft_threshold must be in (0,1], got %v", c.Budget.SoftThreshold)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
