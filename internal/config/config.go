package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
	"github.com/guided-traffic/bodyparser/pkg/bodyparser/verify"
)

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`      // Enable/disable monitoring
	BindAddress string `mapstructure:"bind_address"` // Address to bind monitoring server (default: :9090)
	MetricsPath string `mapstructure:"metrics_path"` // Path for metrics endpoint (default: /metrics)
}

// ParserConfig holds the settings of one body parser. The section name is
// used as the parser name and, unless Format is set, as its format.
type ParserConfig struct {
	Format         string   `mapstructure:"format"`          // json, urlencoded, text, raw or multipart
	Disabled       bool     `mapstructure:"disabled"`        // Skip this parser entirely
	Path           string   `mapstructure:"path"`            // Route path (default: /<name>)
	Type           []string `mapstructure:"type"`            // Media types to parse (default: format default)
	Limit          string   `mapstructure:"limit"`           // Maximum body size, e.g. "100kb"
	DisableInflate bool     `mapstructure:"disable_inflate"` // Reject compressed bodies with 415
	DefaultCharset string   `mapstructure:"default_charset"` // Charset assumed when Content-Type has none
	DrainLimit     int64    `mapstructure:"drain_limit"`     // Bytes discarded after a failed read (0 = all)
	Verify         bool     `mapstructure:"verify"`          // Run the configured verify hooks

	// JSON
	Lenient   bool `mapstructure:"lenient"`
	UseNumber bool `mapstructure:"use_number"`

	// URL-encoded
	Flat                     bool `mapstructure:"flat"`
	ParameterLimit           int  `mapstructure:"parameter_limit"`
	CharsetSentinel          bool `mapstructure:"charset_sentinel"`
	InterpretNumericEntities bool `mapstructure:"interpret_numeric_entities"`
}

// HMACVerifyConfig configures the body signature hook
type HMACVerifyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Secret  string `mapstructure:"secret"`
	Header  string `mapstructure:"header"`
}

// JWTVerifyConfig configures the bearer token hook. Secret selects HS256,
// PublicKeyFile selects RS256.
type JWTVerifyConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Secret        string `mapstructure:"secret"`
	PublicKeyFile string `mapstructure:"public_key_file"`
}

// VerifyConfig holds the verify hooks shared by parsers with verify enabled
type VerifyConfig struct {
	HMAC HMACVerifyConfig `mapstructure:"hmac"`
	JWT  JWTVerifyConfig  `mapstructure:"jwt"`
}

// Config holds the application configuration
type Config struct {
	// Server configuration
	BindAddress       string    `mapstructure:"bind_address"`
	LogLevel          string    `mapstructure:"log_level"`
	LogFormat         string    `mapstructure:"log_format"` // "text" (default) or "json"
	LogHealthRequests bool      `mapstructure:"log_health_requests"`
	ShutdownTimeout   int       `mapstructure:"shutdown_timeout"` // Graceful shutdown timeout in seconds
	TLS               TLSConfig `mapstructure:"tls"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	// Body parsers keyed by name
	Parsers map[string]ParserConfig `mapstructure:"parsers"`

	// Combined json+urlencoded chain served on "/"
	Combined bool `mapstructure:"combined"`

	// Expand dotted keys in parsed bodies and query strings
	Nested bool `mapstructure:"nested"`

	Verify VerifyConfig `mapstructure:"verify"`
}

// InitConfig initializes the configuration system
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".bodyparser")
	}

	// BODYPARSER_PARSERS_JSON_LIMIT overrides parsers.json.limit
	viper.SetEnvPrefix("BODYPARSER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// Load loads the configuration from viper
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for name, p := range cfg.Parsers {
		if p.Format == "" {
			p.Format = name
		}
		p.Format = strings.ToLower(p.Format)
		if p.Path == "" {
			p.Path = "/" + name
		}
		cfg.Parsers[name] = p
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("bind_address", "0.0.0.0:8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("log_health_requests", false)
	viper.SetDefault("shutdown_timeout", 30)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", false)
	viper.SetDefault("monitoring.bind_address", ":9090")
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// One parser per built-in format
	for _, format := range bodyparser.Formats() {
		viper.SetDefault("parsers."+format+".limit", bodyparser.DefaultLimit)
	}
	viper.SetDefault("parsers.urlencoded.parameter_limit", 1000)

	viper.SetDefault("combined", true)
	viper.SetDefault("nested", false)

	viper.SetDefault("verify.hmac.header", verify.DefaultSignatureHeader)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.BindAddress == "" {
		return fmt.Errorf("bind_address is required")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q: must be text or json", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %d", cfg.ShutdownTimeout)
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			return fmt.Errorf("tls.cert_file is required when TLS is enabled")
		}
		if cfg.TLS.KeyFile == "" {
			return fmt.Errorf("tls.key_file is required when TLS is enabled")
		}

		// Check if certificate files exist
		if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file does not exist: %s", cfg.TLS.CertFile)
		}
		if _, err := os.Stat(cfg.TLS.KeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", cfg.TLS.KeyFile)
		}
	}

	if cfg.Monitoring.Enabled && cfg.Monitoring.BindAddress == "" {
		return fmt.Errorf("monitoring.bind_address is required when monitoring is enabled")
	}

	if err := validateVerify(&cfg.Verify); err != nil {
		return err
	}

	return validateParsers(cfg)
}

func validateParsers(cfg *Config) error {
	paths := make(map[string]string, len(cfg.Parsers))

	for _, name := range cfg.ParserNames() {
		p := cfg.Parsers[name]

		if _, ok := bodyparser.Lookup(p.Format); !ok {
			return fmt.Errorf("parsers.%s: unknown format %q (known: %s)", name, p.Format, strings.Join(bodyparser.Formats(), ", "))
		}

		if _, err := bodyparser.ParseLimit(p.Limit); err != nil {
			return fmt.Errorf("parsers.%s.limit: %w", name, err)
		}

		if p.DrainLimit < 0 {
			return fmt.Errorf("parsers.%s.drain_limit must not be negative", name)
		}

		if p.ParameterLimit < 0 {
			return fmt.Errorf("parsers.%s.parameter_limit must not be negative", name)
		}

		if p.Verify && !cfg.Verify.Enabled() {
			return fmt.Errorf("parsers.%s.verify requires verify.hmac or verify.jwt to be enabled", name)
		}
		// multipart hooks see one field at a time, never the signed body
		if p.Verify && p.Format == "multipart" {
			return fmt.Errorf("parsers.%s.verify is not supported for the multipart format", name)
		}

		if !strings.HasPrefix(p.Path, "/") {
			return fmt.Errorf("parsers.%s.path must start with '/': %q", name, p.Path)
		}
		if other, ok := paths[p.Path]; ok {
			return fmt.Errorf("parsers.%s.path %q is already used by parsers.%s", name, p.Path, other)
		}
		paths[p.Path] = name
	}

	return nil
}

func validateVerify(v *VerifyConfig) error {
	if v.HMAC.Enabled && len(v.HMAC.Secret) < verify.MinSecretSize {
		return fmt.Errorf("verify.hmac.secret must be at least %d bytes", verify.MinSecretSize)
	}

	if v.JWT.Enabled {
		hasSecret := v.JWT.Secret != ""
		hasKey := v.JWT.PublicKeyFile != ""
		if hasSecret == hasKey {
			return fmt.Errorf("verify.jwt needs exactly one of secret or public_key_file")
		}
		if hasKey {
			if _, err := os.Stat(v.JWT.PublicKeyFile); err != nil {
				return fmt.Errorf("verify.jwt.public_key_file: %w", err)
			}
		}
	}

	return nil
}

// Enabled reports whether any verify hook is configured
func (v VerifyConfig) Enabled() bool {
	return v.HMAC.Enabled || v.JWT.Enabled
}

// RequestHeaders lists the request headers the enabled hooks read
func (v VerifyConfig) RequestHeaders() []string {
	var headers []string
	if v.HMAC.Enabled {
		header := v.HMAC.Header
		if header == "" {
			header = verify.DefaultSignatureHeader
		}
		headers = append(headers, header)
	}
	if v.JWT.Enabled {
		headers = append(headers, "Authorization")
	}
	return headers
}

// Hooks builds the enabled verify hooks, HMAC first
func (v VerifyConfig) Hooks(logger *logrus.Entry) ([]bodyparser.VerifyFunc, error) {
	var hooks []bodyparser.VerifyFunc

	if v.HMAC.Enabled {
		hook, err := verify.HMAC(verify.HMACConfig{
			Secret: []byte(v.HMAC.Secret),
			Header: v.HMAC.Header,
			Logger: logger.WithField("hook", "hmac"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create HMAC verifier: %w", err)
		}
		hooks = append(hooks, hook)
	}

	if v.JWT.Enabled {
		jwtCfg := verify.JWTConfig{
			Secret: []byte(v.JWT.Secret),
			Logger: logger.WithField("hook", "jwt"),
		}
		if v.JWT.PublicKeyFile != "" {
			// #nosec G304 - key path comes from trusted configuration
			data, err := os.ReadFile(v.JWT.PublicKeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read JWT public key: %w", err)
			}
			jwtCfg.PublicKeyPEM = data
		}
		hook, err := verify.JWT(jwtCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT verifier: %w", err)
		}
		hooks = append(hooks, hook)
	}

	return hooks, nil
}

// ParserNames returns the enabled parser names in a stable order
func (c *Config) ParserNames() []string {
	names := make([]string, 0, len(c.Parsers))
	for name, p := range c.Parsers {
		if p.Disabled {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToOptions converts a parser section into bodyparser options
func (p ParserConfig) ToOptions(name string) bodyparser.Options {
	return bodyparser.Options{
		Name:           name,
		Type:           p.Type,
		Limit:          p.Limit,
		DisableInflate: p.DisableInflate,
		DefaultCharset: p.DefaultCharset,
		DrainLimit:     p.DrainLimit,
	}
}

// Build creates the parser described by the section. opts supplies the
// runtime parts (logger, observer, verify) on top of ToOptions.
func (p ParserConfig) Build(opts bodyparser.Options) (*bodyparser.Parser, error) {
	switch p.Format {
	case "json":
		return bodyparser.JSON(bodyparser.JSONOptions{
			Options:   opts,
			Lenient:   p.Lenient,
			UseNumber: p.UseNumber,
		})
	case "urlencoded":
		return bodyparser.URLEncoded(bodyparser.URLEncodedOptions{
			Options:                  opts,
			Flat:                     p.Flat,
			ParameterLimit:           p.ParameterLimit,
			CharsetSentinel:          p.CharsetSentinel,
			InterpretNumericEntities: p.InterpretNumericEntities,
		})
	default:
		return bodyparser.New(p.Format, opts)
	}
}
