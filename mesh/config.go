package mesh

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kwv/meshfit/estimator"
)

// Config represents the full configuration file
type Config struct {
	Matcher estimator.Config `yaml:"matcher" json:"matcher"`
	Model   ModelKind        `yaml:"model" json:"model"`
	Ransac  RansacConfig     `yaml:"ransac" json:"ransac"`
	MQTT    MQTTConfig       `yaml:"mqtt" json:"mqtt"`
	HTTP    HTTPConfig       `yaml:"http" json:"http"`
	Logging LoggingConfig    `yaml:"logging" json:"logging"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"` // Topics are <prefix>/request/<id> and <prefix>/result/<id>
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	QoS           byte   `yaml:"qos" json:"qos"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// LoggingConfig selects log level and output format
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json or console
}

// DefaultConfig returns a configuration that fits affine transforms with a
// median matcher.
func DefaultConfig() *Config {
	return &Config{
		Matcher: estimator.DefaultConfig(),
		Model:   ModelAffine,
		Ransac:  DefaultRansacConfig(),
		MQTT: MQTTConfig{
			PublishPrefix: "meshfit",
			ClientID:      "meshfit",
		},
		HTTP:    HTTPConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// LoadConfig loads the configuration from a YAML file. Unset fields keep
// their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the matcher, model and sampling settings.
func (c *Config) Validate() error {
	kind, err := ParseModelKind(string(c.Model))
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	c.Model = kind

	fitter, err := NewFitter(kind)
	if err != nil {
		return err
	}
	if err := c.Matcher.Validate(fitter.MinPoints()); err != nil {
		return fmt.Errorf("matcher: %w", err)
	}

	if c.Ransac.Enabled {
		if c.Ransac.Trials <= 0 {
			return fmt.Errorf("ransac.trials must be positive when ransac is enabled")
		}
		if c.Ransac.Threshold <= 0 {
			return fmt.Errorf("ransac.threshold must be positive when ransac is enabled")
		}
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// ApplyEnv overrides MQTT connection settings from MQTT_BROKER,
// MQTT_CLIENT_ID, MQTT_USERNAME, MQTT_PASSWORD and MQTT_PUBLISH_PREFIX.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"MQTT_BROKER", &c.MQTT.Broker},
		{"MQTT_CLIENT_ID", &c.MQTT.ClientID},
		{"MQTT_USERNAME", &c.MQTT.Username},
		{"MQTT_PASSWORD", &c.MQTT.Password},
		{"MQTT_PUBLISH_PREFIX", &c.MQTT.PublishPrefix},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}
