package db

import "time"

// TrafficEvent 记录全站页面浏览的轻量日志。
// 身份字段可为空：主链路失败时的兜底写入只保留来源与路径。
type TrafficEvent struct {
	ID        uint   `gorm:"primaryKey"`
	VisitorID *uint  `gorm:"index"`
	SessionID *uint  `gorm:"index"`
	Path      string `gorm:"size:512"`
	Referrer  string `gorm:"size:512"`
	Source    string `gorm:"size:32"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName 指定自定义表名。
func (TrafficEvent) TableName() string {
	return "traffic_events"
}

// TrafficDailyRollup 记录站点每日的 PV/UV 快照，由定时任务重算覆盖。
type TrafficDailyRollup struct {
	ID             uint      `gorm:"primaryKey"`
	Day            time.Time `gorm:"uniqueIndex"`
	PageViews      uint64    `gorm:"default:0"`
	UniqueVisitors uint64    `gorm:"default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定自定义表名。
func (TrafficDailyRollup) TableName() string {
	return "traffic_daily_rollups"
}
