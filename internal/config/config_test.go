package config

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	setDefaults()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.BindAddress)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30, cfg.ShutdownTimeout)
	assert.True(t, cfg.Combined)
	assert.False(t, cfg.Nested)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, ":9090", cfg.Monitoring.BindAddress)
	assert.Equal(t, "/metrics", cfg.Monitoring.MetricsPath)

	assert.Equal(t, []string{"json", "multipart", "raw", "text", "urlencoded"}, cfg.ParserNames())
	for _, name := range cfg.ParserNames() {
		p := cfg.Parsers[name]
		assert.Equal(t, name, p.Format)
		assert.Equal(t, "/"+name, p.Path)
		assert.Equal(t, bodyparser.DefaultLimit, p.Limit)
	}
	assert.Equal(t, 1000, cfg.Parsers["urlencoded"].ParameterLimit)
	assert.Equal(t, "X-Body-Signature", cfg.Verify.HMAC.Header)
}

func TestLoad_CustomParser(t *testing.T) {
	viper.Reset()
	setDefaults()

	viper.Set("parsers.api.format", "JSON")
	viper.Set("parsers.api.type", []string{"application/vnd.api+json"})
	viper.Set("parsers.api.limit", "1mb")
	viper.Set("parsers.api.lenient", true)
	viper.Set("parsers.raw.disabled", true)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "json", "multipart", "text", "urlencoded"}, cfg.ParserNames())

	api := cfg.Parsers["api"]
	assert.Equal(t, "json", api.Format)
	assert.Equal(t, "/api", api.Path)
	assert.True(t, api.Lenient)

	opts := api.ToOptions("api")
	assert.Equal(t, "api", opts.Name)
	assert.Equal(t, []string{"application/vnd.api+json"}, opts.Type)
	assert.Equal(t, "1mb", opts.Limit)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		errMsg string
	}{
		{name: "log level", values: map[string]interface{}{"log_level": "loud"}, errMsg: "invalid log_level"},
		{name: "log format", values: map[string]interface{}{"log_format": "xml"}, errMsg: "invalid log_format"},
		{name: "shutdown timeout", values: map[string]interface{}{"shutdown_timeout": 0}, errMsg: "shutdown_timeout must be positive"},
		{name: "unknown format", values: map[string]interface{}{"parsers.yaml.limit": "1kb"}, errMsg: `parsers.yaml: unknown format "yaml"`},
		{name: "bad limit", values: map[string]interface{}{"parsers.json.limit": "lots"}, errMsg: "parsers.json.limit"},
		{name: "negative parameter limit", values: map[string]interface{}{"parsers.urlencoded.parameter_limit": -1}, errMsg: "parameter_limit must not be negative"},
		{name: "verify without hooks", values: map[string]interface{}{"parsers.json.verify": true}, errMsg: "parsers.json.verify requires"},
		{name: "verify on multipart", values: map[string]interface{}{"parsers.multipart.verify": true, "verify.hmac.enabled": true, "verify.hmac.secret": "0123456789abcdef0123"}, errMsg: "parsers.multipart.verify is not supported for the multipart format"},
		{name: "duplicate path", values: map[string]interface{}{"parsers.api.format": "json", "parsers.api.path": "/json"}, errMsg: `path "/json" is already used`},
		{name: "relative path", values: map[string]interface{}{"parsers.json.path": "json"}, errMsg: "must start with '/'"},
		{name: "short hmac secret", values: map[string]interface{}{"verify.hmac.enabled": true, "verify.hmac.secret": "short"}, errMsg: "verify.hmac.secret must be at least 16 bytes"},
		{name: "jwt without key", values: map[string]interface{}{"verify.jwt.enabled": true}, errMsg: "exactly one of secret or public_key_file"},
		{name: "jwt with both", values: map[string]interface{}{"verify.jwt.enabled": true, "verify.jwt.secret": "s", "verify.jwt.public_key_file": "/k.pem"}, errMsg: "exactly one of secret or public_key_file"},
		{name: "jwt missing key file", values: map[string]interface{}{"verify.jwt.enabled": true, "verify.jwt.public_key_file": "/non/existent/key.pem"}, errMsg: "verify.jwt.public_key_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			setDefaults()
			for key, value := range tt.values {
				viper.Set(key, value)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestVerifyHooks(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())

	hooks, err := VerifyConfig{}.Hooks(logger)
	require.NoError(t, err)
	assert.Empty(t, hooks)

	v := VerifyConfig{
		HMAC: HMACVerifyConfig{Enabled: true, Secret: testSecret},
		JWT:  JWTVerifyConfig{Enabled: true, Secret: testSecret},
	}
	assert.True(t, v.Enabled())

	hooks, err = v.Hooks(logger)
	require.NoError(t, err)
	assert.Len(t, hooks, 2)

	_, err = VerifyConfig{JWT: JWTVerifyConfig{Enabled: true, PublicKeyFile: filepath.Join(t.TempDir(), "missing.pem")}}.Hooks(logger)
	assert.ErrorContains(t, err, "failed to read JWT public key")

	keyFile := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(keyFile, []byte("not a key"), 0600))
	_, err = VerifyConfig{JWT: JWTVerifyConfig{Enabled: true, PublicKeyFile: keyFile}}.Hooks(logger)
	assert.ErrorContains(t, err, "failed to create JWT verifier")
}

func TestParserConfigBuild(t *testing.T) {
	tests := []struct {
		name        string
		section     ParserConfig
		contentType string
		body        string
		want        any
	}{
		{
			name:        "lenient json",
			section:     ParserConfig{Format: "json", Lenient: true},
			contentType: "application/json",
			body:        `"hello"`,
			want:        "hello",
		},
		{
			name:        "flat urlencoded",
			section:     ParserConfig{Format: "urlencoded", Flat: true},
			contentType: "application/x-www-form-urlencoded",
			body:        "user[name]=tobi",
			want:        map[string]any{"user[name]": "tobi"},
		},
		{
			name:        "text via registry",
			section:     ParserConfig{Format: "text"},
			contentType: "text/plain",
			body:        "hello",
			want:        "hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.section.Build(tt.section.ToOptions(tt.section.Format))
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Content-Type", tt.contentType)
			req, err = p.Parse(httptest.NewRecorder(), req)
			require.NoError(t, err)

			got, ok := bodyparser.Body(req)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
