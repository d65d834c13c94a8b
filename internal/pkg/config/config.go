// internal/pkg/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的配置结构，字段按需读取。
type Config struct {
	App     AppConfig     `yaml:"app"`
	Infra   InfraConfig   `yaml:"infra"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Saga    SagaConfig    `yaml:"saga"`
	Retry   RetryConfig   `yaml:"retry"`
	Catalog CatalogConfig `yaml:"catalog"`
	Order   OrderConfig   `yaml:"order"`
	Leg     LegConfig     `yaml:"leg"`
}

type AppConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
}

type InfraConfig struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type KafkaConfig struct {
	Brokers    []string      `yaml:"brokers"`
	Consumers  int           `yaml:"consumers"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// SagaConfig 描述协调器的 join 行为。
type SagaConfig struct {
	JoinWindow time.Duration `yaml:"joinWindow"`
	JoinStore  string        `yaml:"joinStore"` // memory | redis
}

// RetryConfig 描述 NEW 订单的重发任务。
type RetryConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"staleAfter"`
	BatchSize  int           `yaml:"batchSize"`
}

type CatalogConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	ServiceName    string        `yaml:"serviceName"`
	FallbackExists bool          `yaml:"fallbackExists"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	FailureLimit   uint32        `yaml:"failureLimit"`
	OpenTimeout    time.Duration `yaml:"openTimeout"`
}

type OrderConfig struct {
	AdmissionRule string `yaml:"admissionRule"`
}

type LegConfig struct {
	MaxConflictRetries int `yaml:"maxConflictRetries"`
}

// Default 返回带有全部默认值的配置。
func Default() *Config {
	return &Config{
		App: AppConfig{Port: 8080, LogLevel: "info"},
		Infra: InfraConfig{
			MySQL:     MySQLConfig{DSN: "root:root@tcp(localhost:3306)/ordersaga?parseTime=true&charset=utf8mb4"},
			Redis:     RedisConfig{Addr: "localhost:6379"},
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second},
			Nacos:     NacosConfig{Group: "DEFAULT_GROUP"},
		},
		Kafka: KafkaConfig{
			Brokers:    []string{"localhost:9092"},
			Consumers:  3,
			MaxRetries: 3,
			RetryDelay: 500 * time.Millisecond,
		},
		Saga:  SagaConfig{JoinWindow: 10 * time.Second, JoinStore: "memory"},
		Retry: RetryConfig{Interval: time.Minute, StaleAfter: 30 * time.Second, BatchSize: 100},
		Catalog: CatalogConfig{
			BaseURL:        "http://localhost:8090",
			FallbackExists: true,
			Timeout:        2 * time.Second,
			MaxAttempts:    3,
			FailureLimit:   5,
			OpenTimeout:    30 * time.Second,
		},
		Leg: LegConfig{MaxConflictRetries: 5},
	}
}

// Load 读取 YAML 配置文件（文件不存在时使用默认值），再用环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config file %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("MYSQL_DSN"); ok {
		c.Infra.MySQL.DSN = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		c.Infra.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("JAEGER_ENDPOINT"); ok {
		c.Infra.Jaeger.Endpoint = v
	}
	if v, ok := os.LookupEnv("ZK_SERVERS"); ok {
		c.Infra.Zookeeper.Servers = splitList(v)
	}
	if v, ok := os.LookupEnv("NACOS_SERVER_ADDRS"); ok {
		c.Infra.Nacos.ServerAddrs = v
	}
	if v, ok := os.LookupEnv("NACOS_NAMESPACE"); ok {
		c.Infra.Nacos.Namespace = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid HTTP_PORT %q", v)
		}
		c.App.Port = port
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
