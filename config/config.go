package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr          string        `yaml:"addr"`          // ":8080"
	PublicBaseURL string        `yaml:"publicBaseURL"` // база для ссылок /meet/{id}
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	// Origins allowed by CORS and by the WebSocket upgrader. Empty = any.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type GRPC struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // meet-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Rooms struct {
	GracePeriod   time.Duration `yaml:"gracePeriod"`
	MaxLifetime   time.Duration `yaml:"maxLifetime"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

type WS struct {
	PingInterval         time.Duration `yaml:"pingInterval"`
	WriteTimeout         time.Duration `yaml:"writeTimeout"`
	MaxMessageBytes      int64         `yaml:"maxMessageBytes"`
	SendQueue            int           `yaml:"sendQueue"`
	MaxMessagesPerSecond float64       `yaml:"maxMessagesPerSecond"`
	Burst                int           `yaml:"burst"`
}

type Translation struct {
	Provider       string        `yaml:"provider"` // mock|http|none
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"apiKey"`
	Timeout        time.Duration `yaml:"timeout"`
	SourceLanguage string        `yaml:"sourceLanguage"`
	Languages      []string      `yaml:"languages"`
}

type Config struct {
	HTTP        HTTP        `yaml:"http"`
	GRPC        GRPC        `yaml:"grpc"`
	Logging     Logging     `yaml:"logging"`
	Rooms       Rooms       `yaml:"rooms"`
	WS          WS          `yaml:"ws"`
	Translation Translation `yaml:"translation"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}
	if c.HTTP.PublicBaseURL == "" {
		c.HTTP.PublicBaseURL = "http://localhost" + c.HTTP.Addr
	}
	c.HTTP.PublicBaseURL = strings.TrimRight(c.HTTP.PublicBaseURL, "/")
	c.HTTP.ReadTimeout = orDefault(c.HTTP.ReadTimeout, 10*time.Second)
	c.HTTP.WriteTimeout = orDefault(c.HTTP.WriteTimeout, 15*time.Second)
	c.HTTP.IdleTimeout = orDefault(c.HTTP.IdleTimeout, 60*time.Second)

	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "meet-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	c.Rooms.GracePeriod = orDefault(c.Rooms.GracePeriod, 30*time.Second)
	c.Rooms.MaxLifetime = orDefault(c.Rooms.MaxLifetime, 24*time.Hour)
	c.Rooms.SweepInterval = orDefault(c.Rooms.SweepInterval, 10*time.Second)
	if c.Rooms.MaxLifetime < c.Rooms.GracePeriod {
		return errors.New("rooms.maxLifetime must not be shorter than rooms.gracePeriod")
	}

	c.WS.PingInterval = orDefault(c.WS.PingInterval, 15*time.Second)
	c.WS.WriteTimeout = orDefault(c.WS.WriteTimeout, 5*time.Second)
	if c.WS.MaxMessageBytes <= 0 {
		c.WS.MaxMessageBytes = 64 * 1024 // хватает для SDP
	}
	if c.WS.SendQueue <= 0 {
		c.WS.SendQueue = 256
	}
	if c.WS.MaxMessagesPerSecond <= 0 {
		c.WS.MaxMessagesPerSecond = 50
	}
	if c.WS.Burst <= 0 {
		c.WS.Burst = 100
	}

	switch c.Translation.Provider {
	case "":
		c.Translation.Provider = "mock"
	case "mock", "none":
	case "http":
		if c.Translation.Endpoint == "" {
			return errors.New("translation.endpoint is required for provider http")
		}
	default:
		return fmt.Errorf("translation.provider %q is not supported", c.Translation.Provider)
	}
	c.Translation.Timeout = orDefault(c.Translation.Timeout, 3*time.Second)
	if c.Translation.SourceLanguage == "" {
		c.Translation.SourceLanguage = "en"
	}
	if len(c.Translation.Languages) == 0 {
		c.Translation.Languages = []string{"en", "hi"}
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
