package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int
	MaxIdle     int
	ConnMaxLife time.Duration
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载（PREFIX_HOST / PREFIX_PORT ...），未设置的字段保持原值
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	setString(&c.Host, prefix+"_HOST")
	setInt(&c.Port, prefix+"_PORT")
	setString(&c.User, prefix+"_USER")
	setString(&c.Password, prefix+"_PASSWORD")
	setString(&c.Database, prefix+"_NAME")
	setString(&c.SSLMode, prefix+"_SSLMODE")
	setInt(&c.MaxConns, prefix+"_MAX_CONNS")
	setInt(&c.MaxIdle, prefix+"_MAX_IDLE")
	if v := os.Getenv(prefix + "_CONN_MAX_LIFE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ConnMaxLife = d
		}
	}
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	setString(&c.Addr, prefix+"_ADDR")
	setString(&c.Password, prefix+"_PASSWORD")
	setInt(&c.DB, prefix+"_DB")
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	setString(&c.Broker, prefix+"_BROKER")
	setString(&c.ClientID, prefix+"_CLIENT_ID")
	setString(&c.Username, prefix+"_USERNAME")
	setString(&c.Password, prefix+"_PASSWORD")
	if v := os.Getenv(prefix + "_QOS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 2 {
			c.QoS = byte(n)
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
