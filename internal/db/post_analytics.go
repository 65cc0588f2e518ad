package db

import "time"

// PostAnalytics 汇总文章维度的互动统计，每篇文章恰好一行。
// 该表完全由原始数据推导，聚合时整行覆盖写入，不做增量修改。
type PostAnalytics struct {
	ID                uint    `gorm:"primaryKey"`
	PostID            uint    `gorm:"uniqueIndex"`
	TotalViews        int64   `gorm:"default:0"`
	UniqueVisitors    int64   `gorm:"default:0"`
	TotalTimeSeconds  int64   `gorm:"default:0"`
	AvgTimeSeconds    float64 `gorm:"default:0"`
	MedianTimeSeconds float64 `gorm:"default:0"`
	AvgScrollDepth    float64 `gorm:"default:0"`
	ScrollReached25   int64   `gorm:"default:0"`
	ScrollReached50   int64   `gorm:"default:0"`
	ScrollReached75   int64   `gorm:"default:0"`
	ScrollReached100  int64   `gorm:"default:0"`
	EngagedSessions   int64   `gorm:"default:0"`
	EngagementRate    float64 `gorm:"default:0"`
	EngagementScore   float64 `gorm:"default:0"`
	CTAClicks         int64   `gorm:"default:0"`
	Shares            int64   `gorm:"default:0"`
	ShareBreakdown    string  `gorm:"type:text"`
	NewsletterSignups int64   `gorm:"default:0"`
	Comments          int64   `gorm:"default:0"`
	Likes             int64   `gorm:"default:0"`
	Bookmarks         int64   `gorm:"default:0"`
	FormSubmits       int64   `gorm:"default:0"`
	SourceInstagram   int64   `gorm:"default:0"`
	SourceFacebook    int64   `gorm:"default:0"`
	SourceYoutube     int64   `gorm:"default:0"`
	SourceGoogle      int64   `gorm:"default:0"`
	SourceTwitter     int64   `gorm:"default:0"`
	SourceDirect      int64   `gorm:"default:0"`
	SourceOther       int64   `gorm:"default:0"`
	FirstViewedAt     *time.Time
	LastViewedAt      *time.Time
	AggregatedAt      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TableName 指定自定义表名，避免自动复数化导致的歧义。
func (PostAnalytics) TableName() string {
	return "post_analytics"
}
