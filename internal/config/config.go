// Package config собирает настройки клиента из значений по умолчанию,
// JSON-файла rosbridge.json, переменных окружения ROSBRIDGE_* и флагов.
// Приоритет: флаги > env > файл > умолчания.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/EgorLis/rosbridge/internal/rosbridge"
	"github.com/EgorLis/rosbridge/internal/supervisor"
)

const (
	EnvPrefix = "ROSBRIDGE"
	fileName  = "rosbridge"
)

type TransportOptions struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
	ReadLimit         int64         `mapstructure:"read_limit" json:"read_limit"`
	EnableCompression bool          `mapstructure:"enable_compression" json:"enable_compression"`
}

type Reconnect struct {
	Enabled         bool          `mapstructure:"enabled" json:"enabled"`
	InitialInterval time.Duration `mapstructure:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" json:"max_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed" json:"max_elapsed"`
	ReinitInterval  time.Duration `mapstructure:"reinit_interval" json:"reinit_interval"`
}

type Observability struct {
	LogLevel    string `mapstructure:"log_level" json:"log_level"`
	LogFormat   string `mapstructure:"log_format" json:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr" json:"metrics_addr"`
	// OTLPEndpoint host:port OTLP/HTTP коллектора, пусто = трейсинг выключен.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// TopicConf топик, на который monitor подписывается при старте.
type TopicConf struct {
	Name             string `mapstructure:"name" json:"name"`
	Type             string `mapstructure:"type" json:"type"`
	ThrottleRate     int    `mapstructure:"throttle_rate" json:"throttle_rate"`
	QueueLength      int    `mapstructure:"queue_length" json:"queue_length"`
	Compression      string `mapstructure:"compression" json:"compression"`
	ReconnectOnClose *bool  `mapstructure:"reconnect_on_close" json:"reconnect_on_close,omitempty"`
}

type Config struct {
	URL              string           `mapstructure:"url" json:"url"`
	Transport        string           `mapstructure:"transport" json:"transport"`
	StatusLevel      string           `mapstructure:"status_level" json:"status_level"`
	IDScheme         string           `mapstructure:"id_scheme" json:"id_scheme"`
	TransportOptions TransportOptions `mapstructure:"transport_options" json:"transport_options"`
	Reconnect        Reconnect        `mapstructure:"reconnect" json:"reconnect"`
	Observability    Observability    `mapstructure:"observability" json:"observability"`
	Topics           []TopicConf      `mapstructure:"topics" json:"topics"`
}

// Defaults значения по умолчанию.
var Defaults = Config{
	URL:         "ws://localhost:9090",
	Transport:   string(rosbridge.TransportWebSocket),
	StatusLevel: "",
	IDScheme:    "counter",
	TransportOptions: TransportOptions{
		HandshakeTimeout: 45 * time.Second,
		ReadLimit:        64 << 20,
	},
	Reconnect: Reconnect{
		Enabled:         true,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		ReinitInterval:  2 * time.Second,
	},
	Observability: Observability{
		LogLevel:  "info",
		LogFormat: "text",
	},
}

// SetDefaults прописывает Defaults в v.
func SetDefaults(v *viper.Viper) {
	d := Defaults
	v.SetDefault("url", d.URL)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("status_level", d.StatusLevel)
	v.SetDefault("id_scheme", d.IDScheme)
	v.SetDefault("transport_options.handshake_timeout", d.TransportOptions.HandshakeTimeout)
	v.SetDefault("transport_options.ping_interval", d.TransportOptions.PingInterval)
	v.SetDefault("transport_options.read_limit", d.TransportOptions.ReadLimit)
	v.SetDefault("transport_options.enable_compression", d.TransportOptions.EnableCompression)
	v.SetDefault("reconnect.enabled", d.Reconnect.Enabled)
	v.SetDefault("reconnect.initial_interval", d.Reconnect.InitialInterval)
	v.SetDefault("reconnect.max_interval", d.Reconnect.MaxInterval)
	v.SetDefault("reconnect.max_elapsed", d.Reconnect.MaxElapsed)
	v.SetDefault("reconnect.reinit_interval", d.Reconnect.ReinitInterval)
	v.SetDefault("observability.log_level", d.Observability.LogLevel)
	v.SetDefault("observability.log_format", d.Observability.LogFormat)
	v.SetDefault("observability.metrics_addr", d.Observability.MetricsAddr)
	v.SetDefault("observability.otlp_endpoint", d.Observability.OTLPEndpoint)
}

// BindFlags вешает общие флаги на команду (persistent, для всех подкоманд).
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()

	f.String("config", "", "config file path (JSON)")
	f.String("url", "", "rosbridge address (default ws://localhost:9090)")
	f.String("transport", "", "transport: websocket, socket.io, RTCPeerConnection, workerSocket")
	f.String("status-level", "", "bridge status level: info, warning, error, none")
	f.String("id-scheme", "", "correlation id scheme: counter, uuid")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")
	f.String("metrics-addr", "", "metrics HTTP listen address, empty disables")
	f.String("otlp-endpoint", "", "OTLP/HTTP collector host:port for call traces, empty disables")
	f.Bool("no-reconnect", false, "disable automatic reconnect")

	_ = v.BindPFlag("url", f.Lookup("url"))
	_ = v.BindPFlag("transport", f.Lookup("transport"))
	_ = v.BindPFlag("status_level", f.Lookup("status-level"))
	_ = v.BindPFlag("id_scheme", f.Lookup("id-scheme"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("observability.otlp_endpoint", f.Lookup("otlp-endpoint"))
}

// Load читает env и файл и разбирает всё в Config. Отсутствие файла не
// ошибка, если путь не задан явно.
func Load(v *viper.Viper, configFile string, configPaths ...string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("json")
		v.AddConfigPath(".")
		for _, p := range configPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPaths каталоги поиска rosbridge.json помимо текущего.
func DefaultPaths() []string {
	paths := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".rosbridge"))
	}
	return append(paths, "/etc/rosbridge")
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("config: url is empty")
	}
	switch rosbridge.TransportKind(c.Transport) {
	case rosbridge.TransportWebSocket, rosbridge.TransportSocketIO,
		rosbridge.TransportRTC, rosbridge.TransportWorkerSocket:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	switch rosbridge.StatusLevel(c.StatusLevel) {
	case "", rosbridge.StatusInfo, rosbridge.StatusWarning, rosbridge.StatusError, rosbridge.StatusNone:
	default:
		return fmt.Errorf("config: unknown status_level %q", c.StatusLevel)
	}
	if _, err := rosbridge.IDGeneratorByName(c.IDScheme); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for i, t := range c.Topics {
		if t.Name == "" {
			return fmt.Errorf("config: topics[%d]: name is empty", i)
		}
	}
	return nil
}

func (c *Config) RosbridgeTransport() rosbridge.TransportOptions {
	return rosbridge.TransportOptions{
		HandshakeTimeout:  c.TransportOptions.HandshakeTimeout,
		PingInterval:      c.TransportOptions.PingInterval,
		ReadLimit:         c.TransportOptions.ReadLimit,
		EnableCompression: c.TransportOptions.EnableCompression,
	}
}

func (c *Config) Supervisor() supervisor.Config {
	return supervisor.Config{
		Enabled:         c.Reconnect.Enabled,
		InitialInterval: c.Reconnect.InitialInterval,
		MaxInterval:     c.Reconnect.MaxInterval,
		MaxElapsed:      c.Reconnect.MaxElapsed,
		ReinitInterval:  c.Reconnect.ReinitInterval,
	}
}

func (t TopicConf) Options() rosbridge.TopicOptions {
	return rosbridge.TopicOptions{
		Name:             t.Name,
		MessageType:      t.Type,
		ThrottleRate:     t.ThrottleRate,
		QueueLength:      t.QueueLength,
		Compression:      rosbridge.Compression(t.Compression),
		ReconnectOnClose: t.ReconnectOnClose,
	}
}

// Save пишет конфиг в JSON. Каталог создаётся при необходимости.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
