package common

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构体，对应 rtmpipe.yaml 以及 RTMPIPE_ 前缀的环境变量
type Config struct {
	AppEnv      string           `mapstructure:"app_env"`
	LogPath     string           `mapstructure:"log_path"`
	LogLevel    string           `mapstructure:"log_level"`
	Pipeline    string           `mapstructure:"pipeline"` // pipeline definition file
	Server      ServerConfig     `mapstructure:"server"`
	DB          DBConfig         `mapstructure:"db"`
	Queue       QueueConfig      `mapstructure:"queue"`
	Workspace   WorkspaceConfig  `mapstructure:"workspace"`
	Trigger     TriggerConfig    `mapstructure:"trigger"`
	Credentials CredentialConfig `mapstructure:"credentials"`
	Archive     ArchiveConfig    `mapstructure:"archive"`
	Engine      EngineConfig     `mapstructure:"engine"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	CertPath      string        `mapstructure:"cert_path"`
	KeyPath       string        `mapstructure:"key_path"`
	JWTKey        string        `mapstructure:"jwt_key"`
	JWTExpire     time.Duration `mapstructure:"jwt_expire"`
	JWTRefresh    time.Duration `mapstructure:"jwt_refresh"` // refresh when less than this remains
	WebhookSecret string        `mapstructure:"webhook_secret"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or mysql
	DSN    string `mapstructure:"dsn"`
}

type QueueConfig struct {
	Mode          string `mapstructure:"mode"`   // local or asynq
	Policy        string `mapstructure:"policy"` // reject or queue
	Size          int    `mapstructure:"size"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
}

type WorkspaceConfig struct {
	Dir      string   `mapstructure:"dir"`
	Clean    []string `mapstructure:"clean"`
	LockFile string   `mapstructure:"lock_file"`
}

type TriggerConfig struct {
	TokenMode string `mapstructure:"token_mode"` // enforce, log or off
}

type CredentialConfig struct {
	Provider       string `mapstructure:"provider"` // env, keyring or aws
	EnvPrefix      string `mapstructure:"env_prefix"`
	KeyringService string `mapstructure:"keyring_service"`
	KeyringDir     string `mapstructure:"keyring_dir"`
	AWSRegion      string `mapstructure:"aws_region"`
	AWSSecretID    string `mapstructure:"aws_secret_id"`
}

type ArchiveConfig struct {
	Dir      string   `mapstructure:"dir"`
	Include  []string `mapstructure:"include"`
	S3Bucket string   `mapstructure:"s3_bucket"`
	S3Prefix string   `mapstructure:"s3_prefix"`
	S3Region string   `mapstructure:"s3_region"`
}

type EngineConfig struct {
	Kind        string `mapstructure:"kind"` // process or docker
	DockerHost  string `mapstructure:"docker_host"`
	DockerImage string `mapstructure:"docker_image"`
}

const (
	TokenModeEnforce = "enforce"
	TokenModeLog     = "log"
	TokenModeOff     = "off"

	QueueModeLocal = "local"
	QueueModeAsynq = "asynq"

	QueuePolicyReject = "reject"
	QueuePolicyQueue  = "queue"
)

var config Config

func GetConfig() Config {
	return config
}

func SetConfig(c Config) {
	config = c
}

// InitConf loads .env (if present) and the config file into the package config.
func InitConf(path string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	config = *cfg
	return nil
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/rtmpipe/rtmpipe.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "rtmpipe", "rtmpipe.yaml")
}

func dataDir() string {
	return filepath.Join(xdg.DataHome, "rtmpipe")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("log_path", filepath.Join(xdg.StateHome, "rtmpipe", "rtmpipe.log"))
	v.SetDefault("log_level", "info")
	v.SetDefault("pipeline", "pipeline.yaml")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cert_path", "")
	v.SetDefault("server.key_path", "")
	v.SetDefault("server.jwt_key", "")
	v.SetDefault("server.jwt_expire", "1h")
	v.SetDefault("server.jwt_refresh", "10m")
	v.SetDefault("server.webhook_secret", "")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", filepath.Join(dataDir(), "history.db"))

	v.SetDefault("queue.mode", QueueModeLocal)
	v.SetDefault("queue.policy", QueuePolicyReject)
	v.SetDefault("queue.size", 16)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")

	v.SetDefault("workspace.dir", ".")
	v.SetDefault("workspace.clean", []string{"data", "report", ".rtmpipe"})
	v.SetDefault("workspace.lock_file", ".rtmpipe.lock")

	v.SetDefault("trigger.token_mode", TokenModeEnforce)

	v.SetDefault("credentials.provider", "env")
	v.SetDefault("credentials.env_prefix", "")
	v.SetDefault("credentials.keyring_service", "rtmpipe")
	v.SetDefault("credentials.keyring_dir", filepath.Join(dataDir(), "keyring"))
	v.SetDefault("credentials.aws_region", "")
	v.SetDefault("credentials.aws_secret_id", "")

	v.SetDefault("archive.dir", filepath.Join(dataDir(), "archive"))
	v.SetDefault("archive.include", []string{"data", "report", ".rtmpipe"})
	v.SetDefault("archive.s3_bucket", "")
	v.SetDefault("archive.s3_prefix", "rtmpipe")
	v.SetDefault("archive.s3_region", "")

	v.SetDefault("engine.kind", "process")
	v.SetDefault("engine.docker_host", "unix:///var/run/docker.sock")
	v.SetDefault("engine.docker_image", "python:3.12-slim")
}

// LoadConfig reads the YAML config at path. A missing file yields the
// defaults; RTMPIPE_* environment variables override both.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RTMPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch c.Trigger.TokenMode {
	case TokenModeEnforce, TokenModeLog, TokenModeOff:
	default:
		return fmt.Errorf("trigger.token_mode %q: want enforce, log or off", c.Trigger.TokenMode)
	}
	switch c.Queue.Mode {
	case QueueModeLocal, QueueModeAsynq:
	default:
		return fmt.Errorf("queue.mode %q: want local or asynq", c.Queue.Mode)
	}
	switch c.Queue.Policy {
	case QueuePolicyReject, QueuePolicyQueue:
	default:
		return fmt.Errorf("queue.policy %q: want reject or queue", c.Queue.Policy)
	}
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("db.driver %q: want sqlite or mysql", c.DB.Driver)
	}
	switch c.Engine.Kind {
	case "process", "docker":
	default:
		return fmt.Errorf("engine.kind %q: want process or docker", c.Engine.Kind)
	}
	return nil
}
