package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"

	gomysql "github.com/go-sql-driver/mysql"
)

// MysqlConfig 存储数据库连接信息
type MysqlConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	DBName   string `json:"dbname"`
}

// DSN builds the driver connection string; times are read and written as UTC.
func (c MysqlConfig) DSN() string {
	port := c.Port
	if port == "" {
		port = "3306"
	}
	dsn := gomysql.NewConfig()
	dsn.User = c.Username
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(c.Host, port)
	dsn.DBName = c.DBName
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	return dsn.FormatDSN()
}

type MqttConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"clientid"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Tls struct {
	CertPath string `json:"cert_path"`
	KeyPath  string `json:"key_path"`
}

const (
	KindFirebase = "firebase"
	KindMqtt     = "mqtt"
	KindMysql    = "mysql"
	KindFile     = "file"
)

// SourceConfig 一个数据集合对应一个数据源
type SourceConfig struct {
	Collection   string  `json:"collection"`
	Kind         string  `json:"kind"`
	DatabaseURL  string  `json:"database_url"` // firebase
	Path         string  `json:"path"`         // firebase, defaults to collection
	Stream       bool    `json:"stream"`       // firebase: server-sent events instead of polling
	PollSeconds  int     `json:"poll_seconds"` // firebase without stream, mysql
	Topic        string  `json:"topic"`        // mqtt
	File         string  `json:"file"`         // file
	ReconnectQPS float64 `json:"reconnect_qps"`
}

func (s SourceConfig) PollInterval() time.Duration {
	return time.Duration(s.PollSeconds) * time.Second
}

type Config struct {
	ServerPort       int32          `json:"server_port"`
	Loglevel         string         `json:"log_level"`
	Tls              Tls            `json:"tls"`
	Mysql            MysqlConfig    `json:"mysql"`
	Mqtt             MqttConfig     `json:"mqtt"`
	Ratings          []mxm.Rating   `json:"ratings"`
	PageSize         int            `json:"page_size"`
	ParamCachePath   string         `json:"param_cache_path"` // empty: view params kept in memory only
	WsCleanupSeconds int            `json:"ws_cleanup_seconds"`
	ParamTTLHours    int            `json:"param_ttl_hours"` // view params of a disconnected terminal
	Sources          []SourceConfig `json:"sources"`
}

func (c *Config) WsCleanupInterval() time.Duration {
	return time.Duration(c.WsCleanupSeconds) * time.Second
}

func (c *Config) ParamTTL() time.Duration {
	return time.Duration(c.ParamTTLHours) * time.Hour
}

func LoadConfig(path string) (*Config, error) {
	configData, err := os.ReadFile(path)
	if err != nil {
		slog.Error("error load config:"+err.Error(), "path", path)
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(configData, cfg); err != nil {
		slog.Error("error load config:"+err.Error(), "path", path)
		return nil, fmt.Errorf("parse config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 填充默认值并校验数据源配置
func (c *Config) Validate() error {
	if c.ServerPort == 0 {
		c.ServerPort = 8080
	}
	if c.Loglevel == "" {
		c.Loglevel = "info"
	}
	if c.PageSize < 1 {
		c.PageSize = 10
	}
	if len(c.Ratings) == 0 {
		c.Ratings = append([]mxm.Rating(nil), mxm.DefaultRatings...)
	}
	if c.WsCleanupSeconds <= 0 {
		c.WsCleanupSeconds = 600
	}
	if c.ParamTTLHours <= 0 {
		c.ParamTTLHours = 24
	}

	var errs []error
	seen := make(map[string]bool)
	for i := range c.Sources {
		s := &c.Sources[i]
		s.Collection = strings.TrimSpace(s.Collection)
		if s.Collection == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: collection is required", i))
			continue
		}
		if seen[s.Collection] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate collection %q", i, s.Collection))
		}
		seen[s.Collection] = true
		if s.PollSeconds <= 0 {
			s.PollSeconds = 30
		}
		if s.ReconnectQPS <= 0 {
			s.ReconnectQPS = 0.2
		}

		switch s.Kind {
		case KindFirebase:
			if s.DatabaseURL == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: database_url is required", i))
			}
			if s.Path == "" {
				s.Path = s.Collection
			}
		case KindMqtt:
			if s.Topic == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: topic is required", i))
			}
			if c.Mqtt.Broker == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: mqtt.broker is required", i))
			}
		case KindMysql:
			if c.Mysql.Host == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: mysql.host is required", i))
			}
		case KindFile:
			if s.File == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: file is required", i))
			}
		default:
			errs = append(errs, fmt.Errorf("sources[%d]: unknown kind %q", i, s.Kind))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NeedsMysql reports whether any source reads from mysql.
func (c *Config) NeedsMysql() bool {
	return c.hasKind(KindMysql)
}

func (c *Config) NeedsMqtt() bool {
	return c.hasKind(KindMqtt)
}

func (c *Config) hasKind(kind string) bool {
	for _, s := range c.Sources {
		if s.Kind == kind {
			return true
		}
	}
	return false
}
