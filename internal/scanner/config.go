package scanner

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ejagojo/KeyWatch/internal/rules"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultThreads       = 4
	defaultExcludeMarker = ".git"
	defaultIgnoreFile    = ".keywatchignore"
	defaultSeverity      = "LOW"
)

//go:embed default_config.yaml
var defaultConfigYAML []byte

//go:embed config.schema.json
var configSchemaJSON string

var configSchema = jsonschema.MustCompileString("config.schema.json", configSchemaJSON)

// ErrNoRules is returned for a configuration that defines no detection rules
var ErrNoRules = errors.New("config defines no rules")

// ScannerConfig represents the scanner configuration
type ScannerConfig struct {
	Threads          int                `yaml:"threads" toml:"threads"`
	FailOnUnreadable bool               `yaml:"fail_on_unreadable,omitempty" toml:"fail_on_unreadable"`
	ExcludeMarker    string             `yaml:"exclude_marker,omitempty" toml:"exclude_marker"`
	MaxDepth         int                `yaml:"max_depth,omitempty" toml:"max_depth"`
	Exclude          []string           `yaml:"exclude,omitempty" toml:"exclude"`
	IgnoreFile       string             `yaml:"ignore_file,omitempty" toml:"ignore_file"`
	SeverityThresh   string             `yaml:"severity,omitempty" toml:"severity"`
	Rules            []rules.Definition `yaml:"rules" toml:"rules"`

	// Detectors holds rules written in the detectors.toml layout.
	Detectors []rules.Definition `yaml:"detectors,omitempty" toml:"detectors"`

	Logger *zap.SugaredLogger `yaml:"-" toml:"-"`
}

// DefaultConfigPath returns the default path to the configuration file
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keywatch.yml"
	}
	return filepath.Join(home, ".keywatch.yml")
}

// DefaultConfig returns the embedded default configuration
func DefaultConfig() *ScannerConfig {
	config, err := ParseConfig(defaultConfigYAML, "default_config.yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return config
}

// LoadConfig loads the scanner configuration from the given path. A missing
// or malformed file is a *rules.ConfigError.
func LoadConfig(path string) (*ScannerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &rules.ConfigError{Source: path, Err: fmt.Errorf("failed to read config: %w", err)}
	}
	return ParseConfig(data, path)
}

// ParseConfig decodes a configuration document. The format is chosen from the
// extension of name: .toml is TOML, anything else is YAML.
func ParseConfig(data []byte, name string) (*ScannerConfig, error) {
	var (
		config ScannerConfig
		doc    interface{}
	)

	if strings.EqualFold(filepath.Ext(name), ".toml") {
		var m map[string]interface{}
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, &rules.ConfigError{Source: name, Err: fmt.Errorf("failed to parse config: %w", err)}
		}
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, &rules.ConfigError{Source: name, Err: fmt.Errorf("failed to parse config: %w", err)}
		}
		doc = m
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &rules.ConfigError{Source: name, Err: fmt.Errorf("failed to parse config: %w", err)}
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, &rules.ConfigError{Source: name, Err: fmt.Errorf("failed to parse config: %w", err)}
		}
	}

	if err := validateDocument(doc); err != nil {
		return nil, &rules.ConfigError{Source: name, Rule: ruleAt(err, &config), Err: err}
	}

	config.Rules = append(config.Rules, config.Detectors...)
	config.Detectors = nil
	if len(config.Rules) == 0 {
		return nil, &rules.ConfigError{Source: name, Err: ErrNoRules}
	}

	if _, err := rules.New(config.Rules); err != nil {
		var cfgErr *rules.ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Source = name
			return nil, cfgErr
		}
		return nil, &rules.ConfigError{Source: name, Err: err}
	}

	// An explicit threads: 0 selects GOMAXPROCS at scan time.
	if !hasKey(doc, "threads") {
		config.Threads = defaultThreads
	}
	config.setDefaults()
	return &config, nil
}

// SaveConfig saves the scanner configuration to the given path. Rules are
// written in their compiled form, so severities are stored canonically.
func SaveConfig(config *ScannerConfig, path string) error {
	rs, err := rules.New(config.Rules)
	if err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}
	if rs.Len() == 0 {
		return fmt.Errorf("refusing to save invalid config: %w", ErrNoRules)
	}

	out := *config
	out.Rules = rs.Definitions()
	out.Detectors = nil

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// RuleSet compiles the configured rules
func (c *ScannerConfig) RuleSet() (*rules.RuleSet, error) {
	return rules.New(c.Rules)
}

// MergeConfig merges environment variables and flags into the config
func MergeConfig(config *ScannerConfig, flags map[string]interface{}) *ScannerConfig {
	merged := *config

	// Environment variables take precedence over config file
	if v := os.Getenv("KEYWATCH_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			merged.Threads = n
		}
	}
	if v := os.Getenv("KEYWATCH_EXCLUDE_MARKER"); v != "" {
		merged.ExcludeMarker = v
	}
	if v := os.Getenv("KEYWATCH_FAIL_ON_UNREADABLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			merged.FailOnUnreadable = b
		}
	}

	// Command line flags take precedence over everything
	for k, v := range flags {
		switch k {
		case "threads":
			if n, ok := v.(int); ok && n > 0 {
				merged.Threads = n
			}
		case "fail-on-unreadable":
			if b, ok := v.(bool); ok && b {
				merged.FailOnUnreadable = true
			}
		case "max-depth":
			if n, ok := v.(int); ok && n > 0 {
				merged.MaxDepth = n
			}
		case "exclude":
			if s, ok := v.([]string); ok && len(s) > 0 {
				merged.Exclude = append(append([]string(nil), merged.Exclude...), s...)
			}
		case "severity":
			if s, ok := v.(string); ok && s != "" {
				merged.SeverityThresh = s
			}
		}
	}

	return &merged
}

func (c *ScannerConfig) setDefaults() {
	if c.ExcludeMarker == "" {
		c.ExcludeMarker = defaultExcludeMarker
	}
	if c.IgnoreFile == "" {
		c.IgnoreFile = defaultIgnoreFile
	}
	if c.SeverityThresh == "" {
		c.SeverityThresh = defaultSeverity
	}
}

func hasKey(doc interface{}, key string) bool {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = m[key]
	return ok
}

// validateDocument checks a decoded document against the embedded schema.
// The document is normalized through JSON so YAML and TOML value types look
// the same to the validator.
func validateDocument(doc interface{}) error {
	if doc == nil {
		return errors.New("config is empty")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to normalize config: %w", err)
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("failed to normalize config: %w", err)
	}
	return configSchema.Validate(v)
}

// ruleAt names the rule a schema violation points into, if any.
func ruleAt(err error, config *ScannerConfig) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return ""
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	parts := strings.Split(strings.TrimPrefix(ve.InstanceLocation, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	idx, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return ""
	}

	var list []rules.Definition
	switch parts[0] {
	case "rules":
		list = config.Rules
	case "detectors":
		list = config.Detectors
	default:
		return ""
	}
	if idx < len(list) && list[idx].Name != "" {
		return list[idx].Name
	}
	return fmt.Sprintf("#%d", idx+1)
}
