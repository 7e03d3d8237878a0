package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	OrderDesk OrderDeskConfig `yaml:"orderdesk"`
	Carriers  CarriersConfig  `yaml:"carriers"`
	Pricing   PricingConfig   `yaml:"pricing"`
	SMS       SMSConfig       `yaml:"sms"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	DeliveryChangedTopicName string `yaml:"delivery_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type OrderDeskConfig struct {
	HTTPAddr             string `yaml:"http_addr"`
	KafkaConsumerGroup   string `yaml:"kafka_consumer_group"`
	OrderCacheTTLSeconds int    `yaml:"order_cache_ttl_seconds"`
	LogFormat            string `yaml:"log_format"` // "json" | "text"

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`

	// Минимальный интервал между проверками одного заказа в фоновом цикле.
	WorkerRecheckInTransitSeconds int `yaml:"worker_recheck_in_transit_seconds"`
	WorkerRecheckDepotSeconds     int `yaml:"worker_recheck_depot_seconds"`
	WorkerRecheckPendingSeconds   int `yaml:"worker_recheck_pending_seconds"`
}

type CarriersConfig struct {
	Aramex        AramexConfig        `yaml:"aramex"`
	FirstDelivery FirstDeliveryConfig `yaml:"first_delivery"`

	// Только для локального запуска: ненастроенный перевозчик получает фейковый клиент.
	Fake bool `yaml:"fake"`
}

type AramexConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	AccountNumber  string `yaml:"account_number"`
	AccountPIN     string `yaml:"account_pin"`
	AccountEntity  string `yaml:"account_entity"`
	CountryCode    string `yaml:"country_code"`
	Version        string `yaml:"version"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type FirstDeliveryConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// Провайдер пускает не больше ~1 запроса в секунду.
	RequestsPerSecond int `yaml:"requests_per_second"`
}

type PricingConfig struct {
	MarginPercent      string `yaml:"margin_percent"`
	VATRatePercent     string `yaml:"vat_rate_percent"`
	DeliveryFeeTTC     string `yaml:"delivery_fee_ttc"`
	DeliveryTaxPercent string `yaml:"delivery_tax_percent"`
	PriceScale         int32  `yaml:"price_scale"`
	StrictInvoiceable  bool   `yaml:"strict_invoiceable"`
}

type SMSConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	Sender         string `yaml:"sender"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// secrets mirrors the fields that may be overridden from the environment.
type secrets struct {
	DBPassword          string `envconfig:"DB_PASSWORD"`
	AramexUsername      string `envconfig:"ARAMEX_USERNAME"`
	AramexPassword      string `envconfig:"ARAMEX_PASSWORD"`
	AramexAccountNumber string `envconfig:"ARAMEX_ACCOUNT_NUMBER"`
	AramexAccountPIN    string `envconfig:"ARAMEX_ACCOUNT_PIN"`
	FirstDeliveryToken  string `envconfig:"FIRST_DELIVERY_TOKEN"`
	SMSToken            string `envconfig:"SMS_TOKEN"`
}

const envPrefix = "ORDERDESK"

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := config.applySecrets(); err != nil {
		return nil, err
	}

	return &config, nil
}

// applySecrets overlays ORDERDESK_* environment variables on top of the file values.
func (c *Config) applySecrets() error {
	var s secrets
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return fmt.Errorf("failed to read env secrets: %w", err)
	}
	override(&c.Database.Password, s.DBPassword)
	override(&c.Carriers.Aramex.Username, s.AramexUsername)
	override(&c.Carriers.Aramex.Password, s.AramexPassword)
	override(&c.Carriers.Aramex.AccountNumber, s.AramexAccountNumber)
	override(&c.Carriers.Aramex.AccountPIN, s.AramexAccountPIN)
	override(&c.Carriers.FirstDelivery.Token, s.FirstDeliveryToken)
	override(&c.SMS.Token, s.SMSToken)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// PostgresDSN builds the pgx connection string.
func (c *Config) PostgresDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

func (c *Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) DeliveryChangedTopic() string {
	if c.Kafka.DeliveryChangedTopicName == "" {
		return "order.delivery_changed"
	}
	return c.Kafka.DeliveryChangedTopicName
}

func seconds(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

// Configured reports whether the account credentials Aramex requires are set.
// Username and password are optional.
func (a AramexConfig) Configured() bool {
	return a.AccountNumber != "" && a.AccountPIN != ""
}

func (a AramexConfig) Timeout() time.Duration {
	return seconds(a.TimeoutSeconds, 20*time.Second)
}

func (f FirstDeliveryConfig) Configured() bool {
	return f.BaseURL != "" && f.Token != ""
}

func (f FirstDeliveryConfig) Timeout() time.Duration {
	return seconds(f.TimeoutSeconds, 15*time.Second)
}

func (f FirstDeliveryConfig) Rate() int {
	if f.RequestsPerSecond <= 0 {
		return 1
	}
	return f.RequestsPerSecond
}

func (s SMSConfig) Timeout() time.Duration {
	return seconds(s.TimeoutSeconds, 10*time.Second)
}

func (o OrderDeskConfig) OrderCacheTTL() time.Duration {
	return seconds(o.OrderCacheTTLSeconds, 10*time.Minute)
}
