// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "configs/config.yaml"

// Config 是服务的完整配置，来源依次为 YAML 文件、.env 与环境变量（后者覆盖前者）。
type Config struct {
	App     AppConfig     `yaml:"app"`
	Storage StorageConfig `yaml:"storage"`
	Infra   InfraConfig   `yaml:"infra"`
	Log     LogConfig     `yaml:"log"`
}

type AppConfig struct {
	ServiceName   string      `yaml:"serviceName"`
	Port          int         `yaml:"port"`
	GuildID       string      `yaml:"guildId"`
	CommandPrefix string      `yaml:"commandPrefix"`
	StaffIDs      []string    `yaml:"staffIds"`
	Channels      Channels    `yaml:"channels"`
	Order         OrderConfig `yaml:"order"`
}

// Channels 是员工频道的 webhook 地址（日志频道与管理频道）。
type Channels struct {
	LogWebhook   string `yaml:"logWebhook"`
	AdminWebhook string `yaml:"adminWebhook"`
}

type OrderConfig struct {
	IDPrefix             string        `yaml:"idPrefix"`
	MonitorInterval      time.Duration `yaml:"monitorInterval"`
	WarningThreshold     time.Duration `yaml:"warningThreshold"`
	NotifyTimeout        time.Duration `yaml:"notifyTimeout"`
	NotifyStaffOnOverdue bool          `yaml:"notifyStaffOnOverdue"`
}

type StorageConfig struct {
	Driver string       `yaml:"driver"` // file | pebble | mysql
	File   FileConfig   `yaml:"file"`
	Pebble PebbleConfig `yaml:"pebble"`
	MySQL  MySQLConfig  `yaml:"mysql"`
}

type FileConfig struct {
	Path string `yaml:"path"`
}

type PebbleConfig struct {
	Dir string `yaml:"dir"`
}

type MySQLConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	NotificationTopic string   `yaml:"notificationTopic"`
	CommandTopic      string   `yaml:"commandTopic"`
	ReplyTopic        string   `yaml:"replyTopic"`
	GroupID           string   `yaml:"groupId"`
}

type RedisConfig struct {
	Addrs []string `yaml:"addrs"`
	IDKey string   `yaml:"idKey"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	LockName       string        `yaml:"lockName"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置。Init 之前调用会得到默认配置。
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return Default()
}

// Init 加载 .env、配置文件与环境变量，并设置为全局配置。
func Init() (*Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	cfg, err := Load(getEnv("CONFIG_FILE", defaultConfigFile))
	if err != nil {
		return nil, err
	}
	current.Store(cfg)
	return cfg, nil
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		App: AppConfig{
			ServiceName:   "order-bot",
			Port:          8081,
			CommandPrefix: "!",
			Order: OrderConfig{
				IDPrefix:             "CS",
				MonitorInterval:      60 * time.Second,
				NotifyTimeout:        5 * time.Second,
				NotifyStaffOnOverdue: true,
			},
		},
		Storage: StorageConfig{
			Driver: "file",
			File:   FileConfig{Path: "data/orders.json"},
			Pebble: PebbleConfig{Dir: "data/orders.pebble"},
		},
		Infra: InfraConfig{
			Kafka: KafkaConfig{
				NotificationTopic: "notifications",
				CommandTopic:      "order-commands",
				ReplyTopic:        "order-command-replies",
				GroupID:           "order-bot-commands",
			},
			Redis:     RedisConfig{IDKey: "orderbot:order:seq"},
			RabbitMQ:  RabbitMQConfig{Exchange: "notifications_fanout"},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second, LockName: "order-bot-deadline-monitor"},
			Nacos:     NacosConfig{Group: "DEFAULT_GROUP"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load 读取 path 指向的 YAML（文件不存在时使用默认值），再应用环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.App.ServiceName = getEnv("SERVICE_NAME", cfg.App.ServiceName)
	cfg.App.GuildID = getEnv("GUILD_ID", cfg.App.GuildID)
	cfg.App.CommandPrefix = getEnv("PREFIX", cfg.App.CommandPrefix)
	cfg.App.Channels.LogWebhook = getEnv("LOG_CHANNEL_WEBHOOK", cfg.App.Channels.LogWebhook)
	cfg.App.Channels.AdminWebhook = getEnv("ADMIN_CHANNEL_WEBHOOK", cfg.App.Channels.AdminWebhook)
	cfg.App.StaffIDs = getEnvList("STAFF_IDS", cfg.App.StaffIDs)
	cfg.App.Order.IDPrefix = getEnv("ORDER_ID_PREFIX", cfg.App.Order.IDPrefix)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.File.Path = getEnv("ORDERS_FILE", cfg.Storage.File.Path)
	cfg.Storage.Pebble.Dir = getEnv("PEBBLE_DIR", cfg.Storage.Pebble.Dir)
	cfg.Storage.MySQL.Addr = getEnv("MYSQL_ADDR", cfg.Storage.MySQL.Addr)
	cfg.Storage.MySQL.User = getEnv("MYSQL_USER", cfg.Storage.MySQL.User)
	cfg.Storage.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Storage.MySQL.Password)
	cfg.Storage.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.Storage.MySQL.Database)

	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Kafka.Brokers = getEnvList("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Redis.Addrs = getEnvList("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.Infra.RabbitMQ.URL)
	cfg.Infra.Zookeeper.Servers = getEnvList("ZK_SERVERS", cfg.Infra.Zookeeper.Servers)
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid HTTP_PORT %q", v)
		}
		cfg.App.Port = port
	}
	if v, ok := os.LookupEnv("MONITOR_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "invalid MONITOR_INTERVAL %q", v)
		}
		cfg.App.Order.MonitorInterval = d
	}
	if v, ok := os.LookupEnv("DEADLINE_WARNING"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "invalid DEADLINE_WARNING %q", v)
		}
		cfg.App.Order.WarningThreshold = d
	}
	if v, ok := os.LookupEnv("LOG_PRETTY"); ok {
		cfg.Log.Pretty, _ = strconv.ParseBool(v)
	}
	return nil
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
