package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nichelog/internal/db"
	"github.com/nichelog/internal/service"
)

const (
	visitorCookieName = "nl_visitor_id"
	sessionCookieName = "nl_session_id"
	sourceCookieName  = "nl_first_source"

	visitorCookieMaxAge = 30 * 24 * 60 * 60
	sessionCookieMaxAge = 30 * 60

	userSessionKey = "user_id"
)

type trackRequest struct {
	Path     string `json:"path" binding:"required"`
	Referrer string `json:"referrer"`
	Source   string `json:"source"`
}

type engagementRequest struct {
	EventType string               `json:"event_type"`
	EventData service.EventPayload `json:"event_data"`
}

// trackedIdentity 汇总一次请求解析出的访客与会话。
type trackedIdentity struct {
	visitor *db.Visitor
	session *db.Session
}

// Track 处理全站页面浏览上报：解析身份、分类来源并写入流量日志。
// 追踪失败绝不反馈给页面，身份链路异常时退化为匿名日志。
func (a *API) Track(c *gin.Context) {
	var req trackRequest
	if !bindJSON(c, &req, "path is required") {
		return
	}

	now := time.Now().UTC()
	source := service.ClassifySource(a.sourceHint(c, req.Source), req.Referrer)

	identity, err := a.resolveIdentity(c, source, req.Referrer, req.Path, now)
	if err != nil {
		c.Error(err)
		a.traffic.RecordAnonymous(req.Path, req.Referrer, source)
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"tracked": true}})
		return
	}

	if err := a.traffic.RecordPageView(service.TrafficInput{
		Visitor:  identity.visitor,
		Session:  identity.session,
		Path:     req.Path,
		Referrer: req.Referrer,
		Source:   identity.session.Source,
		Now:      now,
	}); err != nil {
		c.Error(err)
		a.traffic.RecordAnonymous(req.Path, req.Referrer, source)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"tracked": true}})
}

// TrackBlogEngagement 处理文章互动事件上报。
// 追踪 Cookie 完全缺失时快速返回 400，客户端应短暂延迟后重试。
func (a *API) TrackBlogEngagement(c *gin.Context) {
	postID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req engagementRequest
	if !bindJSON(c, &req, "invalid request body") {
		return
	}
	if strings.TrimSpace(req.EventType) == "" {
		respondError(c, http.StatusBadRequest, "event_type is required")
		return
	}

	visitorToken, _ := c.Cookie(visitorCookieName)
	sessionToken, _ := c.Cookie(sessionCookieName)
	if strings.TrimSpace(visitorToken) == "" && strings.TrimSpace(sessionToken) == "" {
		respondError(c, http.StatusBadRequest, "tracking cookies not found")
		return
	}

	now := time.Now().UTC()
	referrer := c.GetHeader("Referer")
	path := referrerPath(referrer)
	source := service.ClassifySource(a.sourceHint(c, ""), referrer)

	identity, err := a.resolveIdentity(c, source, referrer, path, now)
	if err != nil {
		c.Error(err)
		a.traffic.RecordAnonymous(path, referrer, source)
		respondError(c, http.StatusInternalServerError, "failed to resolve tracking identity")
		return
	}

	input := service.EngagementInput{
		PostID:      postID,
		Visitor:     identity.visitor,
		Session:     identity.session,
		EventType:   req.EventType,
		Payload:     req.EventData,
		Referrer:    referrer,
		Path:        path,
		RequestHost: a.requestHost(c),
		Now:         now,
	}

	switch err := a.engagement.RecordEngagement(input); {
	case errors.Is(err, service.ErrPostNotFound):
		respondError(c, http.StatusNotFound, "post not found")
		return
	case errors.Is(err, service.ErrMissingEventType),
		errors.Is(err, service.ErrUnknownEventType),
		errors.Is(err, service.ErrMissingIdentity):
		respondError(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to record engagement")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"tracked": true}})
}

// resolveIdentity 解析访客与会话（必要时创建），刷新身份 Cookie，
// 并在识别到登录用户时回填首触归因。
func (a *API) resolveIdentity(c *gin.Context, source, referrer, landingPath string, now time.Time) (*trackedIdentity, error) {
	visitorToken, _ := c.Cookie(visitorCookieName)
	sessionToken, _ := c.Cookie(sessionCookieName)
	userID := a.currentUserID(c)

	touch := service.FirstTouch{
		Source:      source,
		Referrer:    referrer,
		LandingPath: landingPath,
	}

	visitor, _, err := a.identity.ResolveVisitor(strings.TrimSpace(visitorToken), userID, touch, now)
	if err != nil {
		return nil, err
	}

	sess, _, err := a.identity.ResolveSession(
		strings.TrimSpace(sessionToken), visitor, userID,
		source, landingPath, c.Request.UserAgent(), c.ClientIP(), now,
	)
	if err != nil {
		return nil, err
	}

	a.setIdentityCookies(c, visitor, sess)

	if userID != nil {
		if err := a.identity.BackfillUserFirstTouch(*userID, visitor, sess); err != nil {
			c.Error(err) // 回填失败不阻断追踪
		}
	}

	return &trackedIdentity{visitor: visitor, session: sess}, nil
}

// setIdentityCookies 续期访客与会话 Cookie（滑动过期），
// 首触来源 Cookie 只写一次，永不覆盖。
func (a *API) setIdentityCookies(c *gin.Context, visitor *db.Visitor, sess *db.Session) {
	secure := a.secure || c.Request.TLS != nil

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     visitorCookieName,
		Value:    visitor.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		MaxAge:   visitorCookieMaxAge,
		Expires:  time.Now().Add(visitorCookieMaxAge * time.Second),
		SameSite: http.SameSiteLaxMode,
	})

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		MaxAge:   sessionCookieMaxAge,
		Expires:  time.Now().Add(sessionCookieMaxAge * time.Second),
		SameSite: http.SameSiteLaxMode,
	})

	if existing, err := c.Cookie(sourceCookieName); err != nil || strings.TrimSpace(existing) == "" {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     sourceCookieName,
			Value:    visitor.FirstSource,
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			MaxAge:   visitorCookieMaxAge,
			Expires:  time.Now().Add(visitorCookieMaxAge * time.Second),
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// sourceHint 取显式来源提示：请求体字段优先，其次查询参数。
// 首触来源 Cookie 是归因结果而非提示，不参与本次分类。
func (a *API) sourceHint(c *gin.Context, bodySource string) string {
	if hint := strings.TrimSpace(bodySource); hint != "" {
		return hint
	}
	return strings.TrimSpace(c.Query("source"))
}

// currentUserID 从认证会话中取登录用户（由外部登录流程写入）。
func (a *API) currentUserID(c *gin.Context) *uint {
	session := sessions.Default(c)
	raw := session.Get(userSessionKey)
	if raw == nil {
		return nil
	}

	switch v := raw.(type) {
	case uint:
		return &v
	case int:
		if v > 0 {
			id := uint(v)
			return &id
		}
	case int64:
		if v > 0 {
			id := uint(v)
			return &id
		}
	case float64:
		if v > 0 {
			id := uint(v)
			return &id
		}
	}
	return nil
}

func (a *API) requestHost(c *gin.Context) string {
	if a.siteHost != "" {
		return a.siteHost
	}
	host := c.Request.Host
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host
}

func referrerPath(referrer string) string {
	parsed, err := url.Parse(strings.TrimSpace(referrer))
	if err != nil {
		return ""
	}
	return parsed.Path
}
