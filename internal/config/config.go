// Package config handles careerbot configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/careerbot/config.yaml,
// /etc/careerbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "careerbot", "config.yaml"))
	}

	paths = append(paths, "/etc/careerbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
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

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment, overriding variables that are already set. Files that do
// not exist are skipped. With no arguments, ".env" in the working
// directory is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Overload(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Config holds all careerbot configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	LLM       LLMConfig      `yaml:"llm"`
	Agent     AgentConfig    `yaml:"agent"`
	Persona   PersonaConfig  `yaml:"persona"`
	Telegram  TelegramConfig `yaml:"telegram"`
	Email     EmailConfig    `yaml:"email"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	CORS      CORSConfig     `yaml:"cors"`
	DataDir   string         `yaml:"data_dir"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// AdminToken enables the lead ledger endpoints, which require it as
	// a bearer token. Empty disables them.
	AdminToken string `yaml:"admin_token"`
}

// LLMConfig selects and configures the completion endpoint.
type LLMConfig struct {
	// Provider is "openai" (default) or "ollama".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// BaseURL overrides the provider endpoint. For openai this may point
	// at any server that speaks the Chat Completions API.
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// RequestTimeout bounds a single completion call. There is no retry.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	// MaxToolRounds caps tool-calling rounds per turn.
	MaxToolRounds int `yaml:"max_tool_rounds"`
	// AbortOnMalformedArguments makes undecodable tool arguments fail
	// the whole turn instead of producing an error tool result.
	AbortOnMalformedArguments bool `yaml:"abort_on_malformed_arguments"`
}

// PersonaConfig names the represented person and their source documents.
type PersonaConfig struct {
	Name        string `yaml:"name"`
	SummaryFile string `yaml:"summary_file"`
	ProfileFile string `yaml:"profile_file"` // .pdf, or plain text / markdown
}

// TelegramConfig holds the Bot API notification settings. ChatID and
// BotToken are optional in the file; see [TelegramConfig.Credentials].
type TelegramConfig struct {
	ChatID   string        `yaml:"chat_id"`
	BotToken string        `yaml:"bot_token"`
	APIURL   string        `yaml:"api_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Credentials returns the chat identifier and bot token to use for the
// next notification. Values missing from the config file are looked up
// in TELEGRAM_CHAT_ID and TELEGRAM_BOT_TOKEN on every call, so
// environment changes made after startup are honored.
func (c *TelegramConfig) Credentials() (chatID, token string) {
	chatID, token = c.ChatID, c.BotToken
	if chatID == "" {
		chatID = os.Getenv("TELEGRAM_CHAT_ID")
	}
	if token == "" {
		token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	return chatID, token
}

// EmailConfig enables an SMTP notification sink.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	StartTLS bool     `yaml:"starttls"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	// Timeout bounds one delivery, from dial to QUIT.
	Timeout time.Duration `yaml:"timeout"`
}

// Configured reports whether enough settings exist to send mail.
func (c EmailConfig) Configured() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

// MQTTConfig enables the MQTT event mirror.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	// PublishInterval is how often daily counters are published.
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// CORSConfig lists origins allowed to embed the chat widget.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing, and unset fields take
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = 120 * time.Second
	}
	if c.Agent.MaxToolRounds <= 0 {
		c.Agent.MaxToolRounds = 10
	}
	if c.Persona.SummaryFile == "" {
		c.Persona.SummaryFile = "resources/summary.txt"
	}
	if c.Persona.ProfileFile == "" {
		c.Persona.ProfileFile = "resources/linkedin.pdf"
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Telegram.Timeout == 0 {
		c.Telegram.Timeout = 10 * time.Second
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	if c.Email.Timeout == 0 {
		c.Email.Timeout = 30 * time.Second
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "careerbot"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "careerbot"
	}
	if c.MQTT.PublishInterval == 0 {
		c.MQTT.PublishInterval = time.Minute
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

// Validate checks for settings that cannot work.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("llm.provider %q is not supported (valid: openai, ollama)", c.LLM.Provider)
	}
	if strings.TrimSpace(c.Persona.Name) == "" {
		return fmt.Errorf("persona.name is required")
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q is not supported (valid: text, json)", c.LogFormat)
	}
	return nil
}
