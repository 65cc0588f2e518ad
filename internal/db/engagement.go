package db

import "time"

// BlogPostSession 汇总单个会话对单篇文章的互动状态，(session, post) 维度唯一。
// 进度类字段只会单调前进：水位字段取历史最大值，布尔标记只置真不清零。
type BlogPostSession struct {
	ID                 uint `gorm:"primaryKey"`
	SessionID          uint `gorm:"uniqueIndex:idx_session_post"`
	PostID             uint `gorm:"uniqueIndex:idx_session_post;index"`
	VisitorID          uint `gorm:"index"`
	EnteredAt          time.Time
	ExitedAt           *time.Time
	TimeOnPage         int    `gorm:"default:0"`
	MaxScrollDepth     int    `gorm:"default:0"`
	ReadToEnd          bool   `gorm:"default:false"`
	WasEngaged         bool   `gorm:"default:false"`
	ClickedCTA         bool   `gorm:"default:false"`
	SharedContent      bool   `gorm:"default:false"`
	SubmittedForm      bool   `gorm:"default:false"`
	SignedUpNewsletter bool   `gorm:"default:false"`
	TrafficSource      string `gorm:"size:32"`
	Referrer           string `gorm:"size:512"`
	IsLandingPage      bool   `gorm:"default:false"`
	IsExitPage         bool   `gorm:"default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName 指定自定义表名。
func (BlogPostSession) TableName() string {
	return "blog_post_sessions"
}

// BlogEngagementEvent 是不可变的原始事件日志，聚合统计的事实来源。
// Payload 保存事件的原始 JSON 负载，不做结构化约束。
type BlogEngagementEvent struct {
	ID        uint   `gorm:"primaryKey"`
	PostID    uint   `gorm:"index"`
	SessionID uint   `gorm:"index"`
	VisitorID uint   `gorm:"index"`
	EventType string `gorm:"size:32;index"`
	Payload   string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (BlogEngagementEvent) TableName() string {
	return "blog_engagement_events"
}
