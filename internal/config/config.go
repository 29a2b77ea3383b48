package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "fieldvisit/common/config"

	"github.com/joho/godotenv"
)

// Config fieldvisit（HTTP API + 调度进程）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  commoncfg.DatabaseConfig
	Redis     commoncfg.RedisConfig
	Log       struct {
		Level  string
		Format string
	}

	Notify   NotifyConfig
	MQTT     commoncfg.MQTTConfig
	Report   ReportConfig
	Schedule ScheduleConfig
	Events   EventsConfig
}

// NotifyConfig 通知出口配置
type NotifyConfig struct {
	Sink        string // log | redis | mqtt | webhook
	Stream      string // redis sink 的 stream 名
	MQTTTopic   string
	WebhookURL  string
	WebhookAuth string        // 可选 Bearer token
	Timeout     time.Duration // webhook 单次请求超时
}

// ReportConfig 报表配置
type ReportConfig struct {
	PageSize int           // 键集分页大小
	CacheTTL time.Duration // overall（当月）汇总缓存时间，0 表示不缓存
}

// ScheduleConfig 排程生成配置
type ScheduleConfig struct {
	VisitPositions []string      // 生成每日排程的员工岗位
	Hierarchies    []string      // 调度进程处理的层级；为空表示全部
	Interval       time.Duration // 调度进程执行间隔
	MaxRetries     int           // 乐观锁冲突重试次数
	Timezone       string        // 计算 "今天" 使用的时区
}

// EventsConfig 主数据事件流（Redis Streams）配置
type EventsConfig struct {
	Stream   string
	Group    string
	Consumer string
}

// Load 读取配置：先加载 .env（如果存在），再读环境变量
func Load() *Config {
	_ = godotenv.Load(getEnv("ENV_FILE", ".env"))

	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// DB 不可用时退回内存仓库（本地联测）
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "fieldvisit",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Notify.Sink = strings.ToLower(getEnv("NOTIFY_SINK", "log"))
	cfg.Notify.Stream = getEnv("NOTIFY_STREAM", "fieldvisit:notifications")
	cfg.Notify.MQTTTopic = getEnv("NOTIFY_MQTT_TOPIC", "fieldvisit/notifications")
	cfg.Notify.WebhookURL = getEnv("WEBHOOK_URL", "")
	cfg.Notify.WebhookAuth = getEnv("WEBHOOK_TOKEN", "")
	cfg.Notify.Timeout = parseDuration(getEnv("WEBHOOK_TIMEOUT", "5s"), 5*time.Second)

	cfg.MQTT = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "fieldvisit",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Report.PageSize = parseInt(getEnv("REPORT_PAGE_SIZE", "200"), 200)
	cfg.Report.CacheTTL = parseDuration(getEnv("REPORT_CACHE_TTL", "5m"), 5*time.Minute)

	cfg.Schedule.VisitPositions = splitList(getEnv("SCHEDULE_VISIT_POSITIONS", "asm,tse"))
	cfg.Schedule.Hierarchies = splitList(getEnv("SCHEDULER_HIERARCHIES", ""))
	cfg.Schedule.Interval = parseDuration(getEnv("SCHEDULER_INTERVAL", "1h"), time.Hour)
	cfg.Schedule.MaxRetries = parseInt(getEnv("SCHEDULE_MAX_RETRIES", "5"), 5)
	cfg.Schedule.Timezone = getEnv("SCHEDULE_TIMEZONE", "Local")

	cfg.Events.Stream = getEnv("EVENTS_STREAM", "fieldvisit:masterdata")
	cfg.Events.Group = getEnv("EVENTS_GROUP", "fieldvisit-scheduler")
	cfg.Events.Consumer = getEnv("EVENTS_CONSUMER", "scheduler-1")

	return cfg
}

// Location 解析 Schedule.Timezone，失败时使用本地时区
func (c *Config) Location() *time.Location {
	if c.Schedule.Timezone == "" || c.Schedule.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
