package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr    string
	Port          string
	DatabasePath  string
	SessionSecret string
	GinMode       string
	SiteHost      string
	CookieSecure  bool
	AdminUsername string
	AdminPassword string

	SessionWindow          time.Duration
	AggregationInterval    time.Duration
	AggregationBatchSize   int
	AggregationConcurrency int

	// 互动得分权重，启发式配置而非统计模型
	WeightViews             float64
	WeightAvgTime           float64
	WeightScroll100         float64
	WeightShares            float64
	WeightNewsletterSignups float64
	WeightCTAClicks         float64
	WeightAvgScrollDepth    float64
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
// 存在 .env 文件时优先加载。
func Load() AppConfig {
	_ = godotenv.Load()

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	databasePath := strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	if databasePath == "" {
		databasePath = "nichelog.db"
	}

	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if sessionSecret == "" {
		sessionSecret = "nichelog-dev-secret"
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))
	if ginMode == "" {
		ginMode = "release"
	}

	siteHost := strings.TrimSpace(os.Getenv("SITE_HOST"))

	return AppConfig{
		ListenAddr:    listenAddr,
		Port:          port,
		DatabasePath:  databasePath,
		SessionSecret: sessionSecret,
		GinMode:       ginMode,
		SiteHost:      siteHost,
		CookieSecure:  envBool("COOKIE_SECURE", ginMode == "release"),
		AdminUsername: strings.TrimSpace(os.Getenv("ADMIN_USERNAME")),
		AdminPassword: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),

		SessionWindow:          envDuration("SESSION_WINDOW_MINUTES", 30) * time.Minute,
		AggregationInterval:    envDuration("AGGREGATION_INTERVAL_SECONDS", 30) * time.Second,
		AggregationBatchSize:   envInt("AGGREGATION_BATCH_SIZE", 50),
		AggregationConcurrency: envInt("AGGREGATION_CONCURRENCY", 5),

		WeightViews:             envFloat("ENGAGEMENT_WEIGHT_VIEWS", 1),
		WeightAvgTime:           envFloat("ENGAGEMENT_WEIGHT_AVG_TIME", 0.5),
		WeightScroll100:         envFloat("ENGAGEMENT_WEIGHT_SCROLL_100", 5),
		WeightShares:            envFloat("ENGAGEMENT_WEIGHT_SHARES", 10),
		WeightNewsletterSignups: envFloat("ENGAGEMENT_WEIGHT_NEWSLETTER_SIGNUPS", 20),
		WeightCTAClicks:         envFloat("ENGAGEMENT_WEIGHT_CTA_CLICKS", 3),
		WeightAvgScrollDepth:    envFloat("ENGAGEMENT_WEIGHT_AVG_SCROLL_DEPTH", 0.5),
	}
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback))
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
