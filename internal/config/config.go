package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server         ServerConfig             `mapstructure:"server"`
	MySQL          MySQLConfig              `mapstructure:"mysql"`
	Redis          RedisConfig              `mapstructure:"redis"`
	Kafka          KafkaConfig              `mapstructure:"kafka"`
	Business       BusinessConfig           `mapstructure:"business"`
	Channels       map[string]ChannelConfig `mapstructure:"channels"`
	Risk           RiskConfig               `mapstructure:"risk"`
	Reconciliation ReconciliationConfig     `mapstructure:"reconciliation"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PayResult    string `mapstructure:"pay_result"`
	RefundResult string `mapstructure:"refund_result"`
}

type BusinessConfig struct {
	CallbackMaxRetry int `mapstructure:"callback_max_retry"` // 回调 CAS 重试上限
	MaxRetryCount    int `mapstructure:"max_retry_count"`    // 发件箱消息最大重试次数
}

// ChannelConfig 支付渠道配置
type ChannelConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MchKey        string `mapstructure:"mch_key"`        // 商户密钥，用于回调验签
	SettlementURL string `mapstructure:"settlement_url"` // 对账单查询接口地址
}

// RiskConfig 风控阈值配置
type RiskConfig struct {
	HighAmountThreshold   int64 `mapstructure:"high_amount_threshold"`   // 高风险金额阈值（分）
	MediumAmountThreshold int64 `mapstructure:"medium_amount_threshold"` // 中风险金额阈值（分）
	MaxAttemptsPerMinute  int   `mapstructure:"max_attempts_per_minute"` // 每分钟最大支付尝试次数
	MaxAttemptsPerHour    int   `mapstructure:"max_attempts_per_hour"`   // 每小时最大支付尝试次数
}

// ReconciliationConfig 对账配置
type ReconciliationConfig struct {
	GraceMinutes     int `mapstructure:"grace_minutes"`      // 跨日宽限窗口（分钟），23:59 的支付可能次日才在平台侧结算
	QueryTimeoutSec  int `mapstructure:"query_timeout_sec"`  // 平台对账单查询超时（秒）
	QueryMaxRetries  int `mapstructure:"query_max_retries"`  // 平台对账单查询重试上限
	BackoffBaseMs    int `mapstructure:"backoff_base_ms"`    // 指数退避基数（毫秒）
	JobIntervalHours int `mapstructure:"job_interval_hours"` // 自动对账任务执行间隔（小时）
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
