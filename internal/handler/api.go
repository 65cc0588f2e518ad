package handler

import (
	"github.com/nichelog/internal/config"
	"github.com/nichelog/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db         *gorm.DB
	identity   *service.IdentityService
	engagement *service.EngagementService
	traffic    *service.TrafficService
	siteHost   string
	secure     bool
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, queue service.PostEnqueuer, cfg config.AppConfig) *API {
	identity := service.NewIdentityService(gdb).WithSessionWindow(cfg.SessionWindow)

	return &API{
		db:         gdb,
		identity:   identity,
		engagement: service.NewEngagementService(gdb, queue),
		traffic:    service.NewTrafficService(gdb, identity),
		siteHost:   cfg.SiteHost,
		secure:     cfg.CookieSecure,
	}
}

// DB exposes the underlying gorm instance for legacy paths.
func (a *API) DB() *gorm.DB {
	return a.db
}

// Identity 暴露身份服务，供测试调整会话窗口等参数。
func (a *API) Identity() *service.IdentityService {
	return a.identity
}
