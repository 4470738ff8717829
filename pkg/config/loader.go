package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. TAP_GITLAB_PRIVATE_TOKEN or
// TAP_GITLAB_RELIABILITY_RETRY_ATTEMPTS.
const EnvPrefix = "TAP_GITLAB"

// Load reads a JSON or YAML config file, substitutes ${VAR} references,
// overlays TAP_GITLAB_* environment variables and validates the result.
// An empty path loads defaults plus environment only.
func Load(filePath string) (*TapConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the CLI flag
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", filePath)
		}
		content := substituteEnvVars(string(data))
		// YAML is a superset of JSON, so one parser covers both formats
		if err := v.MergeConfig(bytes.NewReader([]byte(content))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
				WithDetail("path", filePath)
		}
	}

	cfg := &TapConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper returns a viper instance seeded with the defaults of NewTapConfig
// so that every key is known to the environment overlay.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := toMap(NewTapConfig())
	if err != nil {
		return nil, err
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	return v, nil
}

func toMap(cfg *TapConfig) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}
	return out, nil
}

// Write encodes a configuration as YAML
func Write(w io.Writer, cfg *TapConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to encode config")
	}
	return enc.Close()
}

// Save writes a configuration to a YAML file readable only by its owner
func Save(filePath string, cfg *TapConfig) error {
	var buf bytes.Buffer
	if err := Write(&buf, cfg); err != nil {
		return err
	}
	if err := os.WriteFile(filePath, buf.Bytes(), 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file").
			WithDetail("path", filePath)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted values are not scanned again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
