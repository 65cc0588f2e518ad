package service

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/nichelog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EngagementWeights 是互动得分的线性加权系数。
// 这些权重是产品启发式配置，并非统计拟合的模型。
type EngagementWeights struct {
	Views             float64
	AvgTimeSeconds    float64
	ScrollReached100  float64
	Shares            float64
	NewsletterSignups float64
	CTAClicks         float64
	AvgScrollDepth    float64
}

// DefaultEngagementWeights 返回默认权重。
func DefaultEngagementWeights() EngagementWeights {
	return EngagementWeights{
		Views:             1,
		AvgTimeSeconds:    0.5,
		ScrollReached100:  5,
		Shares:            10,
		NewsletterSignups: 20,
		CTAClicks:         3,
		AvgScrollDepth:    0.5,
	}
}

// AggregatorService 从原始会话与事件数据重算文章维度的聚合统计。
type AggregatorService struct {
	db      *gorm.DB
	weights EngagementWeights
}

// NewAggregatorService 创建 AggregatorService，使用默认权重。
func NewAggregatorService(gdb *gorm.DB) *AggregatorService {
	return &AggregatorService{db: gdb, weights: DefaultEngagementWeights()}
}

// WithWeights 覆盖互动得分权重。
func (s *AggregatorService) WithWeights(w EngagementWeights) *AggregatorService {
	s.weights = w
	return s
}

// Recompute 为指定文章整行重建聚合统计：读取全部互动快照与原始事件，
// 推导出完整的替换行后在同一事务内覆盖写入。全量重算保证幂等。
func (s *AggregatorService) Recompute(postID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var sessions []db.BlogPostSession
		if err := tx.Where("post_id = ?", postID).Find(&sessions).Error; err != nil {
			return err
		}

		var events []db.BlogEngagementEvent
		if err := tx.Where("post_id = ?", postID).Order("created_at ASC").Find(&events).Error; err != nil {
			return err
		}

		analytics := s.derive(postID, sessions, events)

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}},
			UpdateAll: true,
		}).Create(&analytics).Error
	})
}

func (s *AggregatorService) derive(postID uint, sessions []db.BlogPostSession, events []db.BlogEngagementEvent) db.PostAnalytics {
	analytics := db.PostAnalytics{
		PostID:         postID,
		ShareBreakdown: "{}",
		AggregatedAt:   time.Now().UTC(),
	}

	totalViews := int64(len(sessions))
	analytics.TotalViews = totalViews

	visitors := make(map[uint]struct{}, len(sessions))
	times := make([]int, 0, len(sessions))
	var totalTime, totalScroll int64

	for i := range sessions {
		sess := &sessions[i]
		visitors[sess.VisitorID] = struct{}{}
		times = append(times, sess.TimeOnPage)
		totalTime += int64(sess.TimeOnPage)
		totalScroll += int64(sess.MaxScrollDepth)

		if sess.MaxScrollDepth >= 25 {
			analytics.ScrollReached25++
		}
		if sess.MaxScrollDepth >= 50 {
			analytics.ScrollReached50++
		}
		if sess.MaxScrollDepth >= 75 {
			analytics.ScrollReached75++
		}
		if sess.MaxScrollDepth >= 100 {
			analytics.ScrollReached100++
		}
		if sess.WasEngaged {
			analytics.EngagedSessions++
		}

		switch sess.TrafficSource {
		case SourceInstagram:
			analytics.SourceInstagram++
		case SourceFacebook:
			analytics.SourceFacebook++
		case SourceYoutube:
			analytics.SourceYoutube++
		case SourceGoogle:
			analytics.SourceGoogle++
		case SourceTwitter:
			analytics.SourceTwitter++
		case SourceDirect:
			analytics.SourceDirect++
		default:
			analytics.SourceOther++
		}
	}

	analytics.UniqueVisitors = int64(len(visitors))
	analytics.TotalTimeSeconds = totalTime

	// 所有比率字段在分母为零时保持 0，不产生 NaN
	if totalViews > 0 {
		analytics.AvgTimeSeconds = round2(float64(totalTime) / float64(totalViews))
		analytics.MedianTimeSeconds = medianInt(times)
		analytics.AvgScrollDepth = round2(float64(totalScroll) / float64(totalViews))
		analytics.EngagementRate = round2(float64(analytics.EngagedSessions) / float64(totalViews) * 100)
	}

	shareBreakdown := make(map[string]int64)
	for i := range events {
		event := &events[i]
		switch event.EventType {
		case EventView:
			created := event.CreatedAt
			if analytics.FirstViewedAt == nil || created.Before(*analytics.FirstViewedAt) {
				first := created
				analytics.FirstViewedAt = &first
			}
			if analytics.LastViewedAt == nil || created.After(*analytics.LastViewedAt) {
				last := created
				analytics.LastViewedAt = &last
			}
		case EventShare:
			analytics.Shares++
			platform := sharePlatform(event.Payload)
			shareBreakdown[platform]++
		case EventCTAClick:
			analytics.CTAClicks++
		case EventNewsletterSignup:
			analytics.NewsletterSignups++
		case EventComment:
			analytics.Comments++
		case EventLike:
			analytics.Likes++
		case EventBookmark:
			analytics.Bookmarks++
		case EventFormSubmit:
			analytics.FormSubmits++
		}
	}

	if len(shareBreakdown) > 0 {
		if encoded, err := json.Marshal(shareBreakdown); err == nil {
			analytics.ShareBreakdown = string(encoded)
		}
	}

	analytics.EngagementScore = round2(
		float64(analytics.TotalViews)*s.weights.Views +
			analytics.AvgTimeSeconds*s.weights.AvgTimeSeconds +
			float64(analytics.ScrollReached100)*s.weights.ScrollReached100 +
			float64(analytics.Shares)*s.weights.Shares +
			float64(analytics.NewsletterSignups)*s.weights.NewsletterSignups +
			float64(analytics.CTAClicks)*s.weights.CTAClicks +
			analytics.AvgScrollDepth*s.weights.AvgScrollDepth,
	)

	return analytics
}

func sharePlatform(raw string) string {
	var payload EventPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return SourceOther
	}
	if platform := payload.String("platform"); platform != "" {
		return platform
	}
	return SourceOther
}

func medianInt(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return round2(float64(sorted[mid-1]+sorted[mid]) / 2)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
