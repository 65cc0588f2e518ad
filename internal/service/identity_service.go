package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mileusna/useragent"
	"github.com/nichelog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultSessionWindow = 30 * time.Minute

// FirstTouch 描述访客首次到达时的归因信息。
type FirstTouch struct {
	Source      string
	Referrer    string
	LandingPath string
}

// IdentityService 负责访客与会话身份的解析、创建与续期。
type IdentityService struct {
	db            *gorm.DB
	sessionWindow time.Duration
}

// NewIdentityService 创建 IdentityService，默认会话窗口为 30 分钟。
func NewIdentityService(gdb *gorm.DB) *IdentityService {
	return &IdentityService{db: gdb, sessionWindow: defaultSessionWindow}
}

// WithSessionWindow 允许在测试或特定场景下调整会话活跃窗口。
func (s *IdentityService) WithSessionWindow(d time.Duration) *IdentityService {
	if d <= 0 {
		return s
	}
	s.sessionWindow = d
	return s
}

// SessionWindow 返回当前生效的会话活跃窗口。
func (s *IdentityService) SessionWindow() time.Duration {
	return s.sessionWindow
}

// SessionActive 判断会话在 now 时刻是否仍然活跃：
// 未显式结束，且距离最近一次活动不超过窗口时长。
func SessionActive(sess *db.Session, now time.Time, window time.Duration) bool {
	if sess == nil || sess.EndedAt != nil {
		return false
	}
	return now.Sub(sess.LastSeenAt) <= window
}

// ResolveVisitor 按 Cookie 中的 token 解析访客，必要时创建。
// token 对应的行不存在时沿用同一 token 重建，保持 Cookie 连续性；
// 首触归因字段只在为空时写入，登录用户的关联也是先写优先。
func (s *IdentityService) ResolveVisitor(token string, userID *uint, touch FirstTouch, now time.Time) (*db.Visitor, bool, error) {
	trimmed := token
	if trimmed == "" {
		trimmed = uuid.NewString()
	}

	var visitor db.Visitor
	err := s.db.Where("token = ?", trimmed).First(&visitor).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		visitor = db.Visitor{
			Token:            trimmed,
			UserID:           userID,
			FirstSource:      touch.Source,
			FirstReferrer:    touch.Referrer,
			FirstLandingPath: touch.LandingPath,
			FirstSeenAt:      now,
			LastSeenAt:       now,
		}
		insert := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoNothing: true,
		}).Create(&visitor)
		if insert.Error != nil {
			return nil, false, insert.Error
		}
		if insert.RowsAffected == 0 {
			// 并发请求已抢先创建，退回读取既有行
			if err := s.db.Where("token = ?", trimmed).First(&visitor).Error; err != nil {
				return nil, false, err
			}
			return &visitor, false, nil
		}
		return &visitor, true, nil
	case err != nil:
		return nil, false, err
	}

	visitor.LastSeenAt = now
	if visitor.UserID == nil && userID != nil {
		visitor.UserID = userID
	}
	if visitor.FirstSource == "" {
		visitor.FirstSource = touch.Source
	}
	if visitor.FirstReferrer == "" {
		visitor.FirstReferrer = touch.Referrer
	}
	if visitor.FirstLandingPath == "" {
		visitor.FirstLandingPath = touch.LandingPath
	}
	if err := s.db.Save(&visitor).Error; err != nil {
		return nil, false, err
	}

	return &visitor, false, nil
}

// ResolveSession 按 Cookie 中的 token 解析活跃会话，必要时结束过期会话并新建。
// 过期会话惰性标记 ended_at = last_seen_at，新会话继承访客的来源与落地页。
func (s *IdentityService) ResolveSession(token string, visitor *db.Visitor, userID *uint, source, landingPath, userAgent, ipAddress string, now time.Time) (*db.Session, bool, error) {
	if visitor == nil {
		return nil, false, errors.New("visitor required to resolve session")
	}

	if token != "" {
		var sess db.Session
		err := s.db.Where("token = ?", token).First(&sess).Error
		switch {
		case err == nil && SessionActive(&sess, now, s.sessionWindow):
			sess.LastSeenAt = now
			if sess.UserID == nil && userID != nil {
				sess.UserID = userID
			}
			if err := s.db.Save(&sess).Error; err != nil {
				return nil, false, err
			}
			return &sess, false, nil
		case err == nil:
			// 过期会话惰性收尾，再落入新建分支
			ended := sess.LastSeenAt
			sess.EndedAt = &ended
			if err := s.db.Save(&sess).Error; err != nil {
				return nil, false, err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, false, err
		}
	}

	sessionSource := source
	if sessionSource == "" || sessionSource == SourceDirect {
		if visitor.FirstSource != "" {
			sessionSource = visitor.FirstSource
		} else {
			sessionSource = SourceDirect
		}
	}
	if landingPath == "" {
		landingPath = visitor.FirstLandingPath
	}

	ua := useragent.Parse(userAgent)
	sess := db.Session{
		Token:       uuid.NewString(),
		VisitorID:   visitor.ID,
		UserID:      userID,
		Source:      sessionSource,
		LandingPath: landingPath,
		UserAgent:   userAgent,
		Device:      deviceType(&ua),
		OS:          ua.OS,
		Browser:     ua.Name,
		IPAddress:   ipAddress,
		StartedAt:   now,
		LastSeenAt:  now,
	}
	if err := s.db.Create(&sess).Error; err != nil {
		return nil, false, err
	}

	return &sess, true, nil
}

// AppendSessionEvent 向会话导航日志追加一条记录，并累加会话页面计数。
func (s *IdentityService) AppendSessionEvent(sessionID uint, path, referrer string, now time.Time) error {
	event := db.SessionEvent{
		SessionID: sessionID,
		Path:      path,
		Referrer:  referrer,
		CreatedAt: now,
	}
	if err := s.db.Create(&event).Error; err != nil {
		return err
	}

	return s.db.Model(&db.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"page_count":   gorm.Expr("page_count + 1"),
			"last_seen_at": now,
		}).Error
}

// BackfillUserFirstTouch 在首次识别到登录用户时，把访客/会话上的获客渠道
// 回填到用户资料中。只填空字段，不覆盖既有值。
func (s *IdentityService) BackfillUserFirstTouch(userID uint, visitor *db.Visitor, sess *db.Session) error {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return err
	}

	changed := false
	if user.FirstSource == "" {
		if visitor != nil && visitor.FirstSource != "" {
			user.FirstSource = visitor.FirstSource
			changed = true
		} else if sess != nil && sess.Source != "" {
			user.FirstSource = sess.Source
			changed = true
		}
	}
	if user.FirstReferrer == "" && visitor != nil && visitor.FirstReferrer != "" {
		user.FirstReferrer = visitor.FirstReferrer
		changed = true
	}
	if user.FirstLandingPath == "" {
		if visitor != nil && visitor.FirstLandingPath != "" {
			user.FirstLandingPath = visitor.FirstLandingPath
			changed = true
		} else if sess != nil && sess.LandingPath != "" {
			user.FirstLandingPath = sess.LandingPath
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return s.db.Save(&user).Error
}

func deviceType(ua *useragent.UserAgent) string {
	switch {
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Bot:
		return "bot"
	case ua.Desktop:
		return "desktop"
	default:
		return "unknown"
	}
}
