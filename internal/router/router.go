package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/nichelog/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 认证会话中间件：登录态由外部认证流程写入，追踪链路只读
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("nichelog_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// 访客追踪路由
	track := r.Group("/track")
	{
		track.POST("", api.Track)
		track.POST("/blog/:id/engagement", api.TrackBlogEngagement)
	}

	return r
}
