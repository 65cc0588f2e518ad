package service

import (
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/nichelog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 互动事件类型的固定枚举。
const (
	EventView             = "view"
	EventScrollMilestone  = "scroll_milestone"
	EventTimeMilestone    = "time_milestone"
	EventExit             = "exit"
	EventCTAClick         = "cta_click"
	EventShare            = "share"
	EventComment          = "comment"
	EventLike             = "like"
	EventBookmark         = "bookmark"
	EventCopyLink         = "copy_link"
	EventNewsletterSignup = "newsletter_signup"
	EventFormSubmit       = "form_submit"
	EventOutboundClick    = "outbound_click"
	EventInternalClick    = "internal_click"
)

// 互动判定阈值：滚动超过 1/4 或停留超过 30 秒即视为有效互动。
const (
	engagedScrollDepth = 25
	engagedSeconds     = 30
	readToEndDepth     = 100
)

var (
	// ErrPostNotFound 表示事件指向的文章不存在。
	ErrPostNotFound = errors.New("post not found")
	// ErrMissingIdentity 表示追踪所需的访客/会话身份缺失。
	ErrMissingIdentity = errors.New("tracking identity not resolved")
	// ErrMissingEventType 表示请求未携带事件类型。
	ErrMissingEventType = errors.New("event type required")
	// ErrUnknownEventType 表示事件类型不在固定枚举内。
	ErrUnknownEventType = errors.New("unknown event type")
)

// knownEventTypes 是允许进入原始日志的封闭事件集合，
// 客户端拼写错误的事件名不得污染事实来源。
var knownEventTypes = map[string]struct{}{
	EventView:             {},
	EventScrollMilestone:  {},
	EventTimeMilestone:    {},
	EventExit:             {},
	EventCTAClick:         {},
	EventShare:            {},
	EventComment:          {},
	EventLike:             {},
	EventBookmark:         {},
	EventCopyLink:         {},
	EventNewsletterSignup: {},
	EventFormSubmit:       {},
	EventOutboundClick:    {},
	EventInternalClick:    {},
}

// EventPayload 是事件的开放负载，按原样落入原始日志。
type EventPayload map[string]interface{}

// Int 以容错方式读取负载中的整数字段（JSON 数字解码为 float64）。
func (p EventPayload) Int(key string) (int, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

// String 读取负载中的字符串字段。
func (p EventPayload) String(key string) string {
	if p == nil {
		return ""
	}
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// PostEnqueuer 是聚合队列的最小接口，投递是非阻塞的 fire-and-forget。
type PostEnqueuer interface {
	Enqueue(postID uint)
}

// EngagementInput 汇总一次互动事件上报所需的全部上下文。
type EngagementInput struct {
	PostID      uint
	Visitor     *db.Visitor
	Session     *db.Session
	EventType   string
	Payload     EventPayload
	Referrer    string
	Path        string
	RequestHost string
	Now         time.Time
}

// EngagementService 负责互动事件的校验、落库与聚合触发。
type EngagementService struct {
	db    *gorm.DB
	queue PostEnqueuer
}

// NewEngagementService 创建 EngagementService。queue 可为 nil（测试场景）。
func NewEngagementService(gdb *gorm.DB, queue PostEnqueuer) *EngagementService {
	return &EngagementService{db: gdb, queue: queue}
}

// ApplyEngagementEvent 是互动状态的唯一转移函数：水位字段取旧新较大值，
// 布尔标记只置真。与持久化解耦，便于独立验证单调性。
func ApplyEngagementEvent(state *db.BlogPostSession, eventType string, payload EventPayload, now time.Time) {
	switch eventType {
	case EventScrollMilestone:
		if depth, ok := payload.Int("depth"); ok {
			if depth > state.MaxScrollDepth {
				state.MaxScrollDepth = depth
			}
			if depth >= readToEndDepth {
				state.ReadToEnd = true
			}
			if depth >= engagedScrollDepth {
				state.WasEngaged = true
			}
		}
	case EventTimeMilestone:
		if seconds, ok := payload.Int("seconds"); ok {
			if seconds > state.TimeOnPage {
				state.TimeOnPage = seconds
			}
			if seconds >= engagedSeconds {
				state.WasEngaged = true
			}
		}
	case EventExit:
		if seconds, ok := payload.Int("time_on_page"); ok && seconds > state.TimeOnPage {
			state.TimeOnPage = seconds
		}
		exited := now
		state.ExitedAt = &exited
		state.IsExitPage = true
	case EventCTAClick:
		state.ClickedCTA = true
		state.WasEngaged = true
	case EventShare:
		state.SharedContent = true
		state.WasEngaged = true
	case EventFormSubmit:
		state.SubmittedForm = true
		state.WasEngaged = true
	case EventNewsletterSignup:
		state.SignedUpNewsletter = true
		state.WasEngaged = true
	case EventComment, EventLike, EventBookmark:
		state.WasEngaged = true
	}
}

// RecordEngagement 处理一次互动事件：在单个事务内维护 (session, post)
// 的互动快照并追加原始事件日志，成功后把文章投递进聚合队列。
func (s *EngagementService) RecordEngagement(input EngagementInput) error {
	if strings.TrimSpace(input.EventType) == "" {
		return ErrMissingEventType
	}
	if _, ok := knownEventTypes[input.EventType]; !ok {
		return ErrUnknownEventType
	}
	if input.Visitor == nil || input.Session == nil {
		return ErrMissingIdentity
	}

	exists, err := db.PostExists(s.db, input.PostID)
	if err != nil {
		return s.fallback(input, err)
	}
	if !exists {
		return ErrPostNotFound
	}

	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		var record db.BlogPostSession
		haveRecord := false

		if input.EventType == EventView {
			record = db.BlogPostSession{
				SessionID:     input.Session.ID,
				PostID:        input.PostID,
				VisitorID:     input.Visitor.ID,
				EnteredAt:     now,
				TrafficSource: input.Session.Source,
				Referrer:      input.Referrer,
				IsLandingPage: isLandingPage(input.Referrer, input.RequestHost),
			}
			insert := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}, {Name: "post_id"}},
				DoNothing: true,
			}).Create(&record)
			if insert.Error != nil {
				return insert.Error
			}
			if insert.RowsAffected == 0 {
				if err := tx.Where("session_id = ? AND post_id = ?", input.Session.ID, input.PostID).
					First(&record).Error; err != nil {
					return err
				}
			}
			haveRecord = true
		} else {
			err := tx.Where("session_id = ? AND post_id = ?", input.Session.ID, input.PostID).
				First(&record).Error
			switch {
			case err == nil:
				haveRecord = true
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}

		// 快照行仅由 view 事件建立；乱序到达的互动事件只进原始日志
		if haveRecord {
			ApplyEngagementEvent(&record, input.EventType, input.Payload, now)
			if err := tx.Save(&record).Error; err != nil {
				return err
			}
		}

		payload, err := json.Marshal(input.Payload)
		if err != nil {
			payload = []byte("{}")
		}
		event := db.BlogEngagementEvent{
			PostID:    input.PostID,
			SessionID: input.Session.ID,
			VisitorID: input.Visitor.ID,
			EventType: input.EventType,
			Payload:   string(payload),
			CreatedAt: now,
		}
		return tx.Create(&event).Error
	})
	if txErr != nil {
		return s.fallback(input, txErr)
	}

	if s.queue != nil {
		s.queue.Enqueue(input.PostID)
	}

	return nil
}

// fallback 在主链路失败时尽力写入一条去身份化的流量日志，
// 保证站点级流量不因互动追踪故障而静默丢失。兜底失败只记日志。
func (s *EngagementService) fallback(input EngagementInput, cause error) error {
	event := db.TrafficEvent{
		Path:     input.Path,
		Referrer: input.Referrer,
		Source:   ClassifySource("", input.Referrer),
	}
	if err := s.db.Create(&event).Error; err != nil {
		log.Printf("engagement fallback write failed for post %d: %v", input.PostID, err)
	}
	return cause
}

// isLandingPage 判断本次浏览是否为落地访问：Referrer 为空或指向站外即是。
func isLandingPage(referrer, requestHost string) bool {
	trimmed := strings.TrimSpace(referrer)
	if trimmed == "" {
		return true
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return true
	}
	return !strings.EqualFold(parsed.Hostname(), requestHost)
}
