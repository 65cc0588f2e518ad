package db

import "time"

// Visitor 表示跨会话的长期匿名访客身份，通过持久 Cookie 绑定到浏览器。
// 首触（first-touch）归因字段一经写入不再覆盖。
type Visitor struct {
	ID               uint   `gorm:"primaryKey"`
	Token            string `gorm:"size:64;uniqueIndex"`
	UserID           *uint  `gorm:"index"`
	FirstSource      string `gorm:"size:32"`
	FirstReferrer    string `gorm:"size:512"`
	FirstLandingPath string `gorm:"size:512"`
	FirstSeenAt      time.Time
	LastSeenAt       time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName 指定自定义表名。
func (Visitor) TableName() string {
	return "visitors"
}

// Session 表示访客的一次有界浏览会话（30 分钟滑动窗口）。
// Source 在会话生命周期内不变；EndedAt 为空且未超时即视为活跃。
type Session struct {
	ID          uint   `gorm:"primaryKey"`
	Token       string `gorm:"size:64;uniqueIndex"`
	VisitorID   uint   `gorm:"index"`
	UserID      *uint  `gorm:"index"`
	Source      string `gorm:"size:32"`
	LandingPath string `gorm:"size:512"`
	UserAgent   string `gorm:"size:512"`
	Device      string `gorm:"size:32"`
	OS          string `gorm:"size:64"`
	Browser     string `gorm:"size:64"`
	IPAddress   string `gorm:"size:64"`
	StartedAt   time.Time
	LastSeenAt  time.Time
	EndedAt     *time.Time
	PageCount   int `gorm:"default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定自定义表名。
func (Session) TableName() string {
	return "sessions"
}

// SessionEvent 是会话内的导航日志，只追加，不修改。
type SessionEvent struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID uint   `gorm:"index"`
	Path      string `gorm:"size:512"`
	Referrer  string `gorm:"size:512"`
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (SessionEvent) TableName() string {
	return "session_events"
}
