package service

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/nichelog/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAggregatorTestDB(t *testing.T) func() {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := gdb.AutoMigrate(&db.BlogPostSession{}, &db.BlogEngagementEvent{}, &db.PostAnalytics{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	db.DB = gdb

	return func() {
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func seedSessions(t *testing.T, postID uint, total, engaged int) {
	t.Helper()

	for i := 0; i < total; i++ {
		record := db.BlogPostSession{
			SessionID:     uint(i + 1),
			PostID:        postID,
			VisitorID:     uint(i + 1),
			WasEngaged:    i < engaged,
			TrafficSource: SourceDirect,
		}
		if err := db.DB.Create(&record).Error; err != nil {
			t.Fatalf("failed to seed session %d: %v", i, err)
		}
	}
}

func TestRecomputeEngagementRate(t *testing.T) {
	cleanup := setupAggregatorTestDB(t)
	defer cleanup()

	seedSessions(t, 1, 10, 3)

	svc := NewAggregatorService(db.DB)
	if err := svc.Recompute(1); err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	var analytics db.PostAnalytics
	if err := db.DB.Where("post_id = ?", 1).First(&analytics).Error; err != nil {
		t.Fatalf("failed to load analytics: %v", err)
	}

	if analytics.TotalViews != 10 {
		t.Fatalf("expected 10 views, got %d", analytics.TotalViews)
	}
	if analytics.EngagedSessions != 3 {
		t.Fatalf("expected 3 engaged sessions, got %d", analytics.EngagedSessions)
	}
	if analytics.EngagementRate != 30 {
		t.Fatalf("expected engagement rate 30.00, got %v", analytics.EngagementRate)
	}
	if analytics.UniqueVisitors != 10 {
		t.Fatalf("expected 10 unique visitors, got %d", analytics.UniqueVisitors)
	}
	if analytics.SourceDirect != 10 {
		t.Fatalf("expected all sessions attributed to direct, got %d", analytics.SourceDirect)
	}
}

func TestRecomputeZeroViewsHasZeroRates(t *testing.T) {
	cleanup := setupAggregatorTestDB(t)
	defer cleanup()

	svc := NewAggregatorService(db.DB)
	if err := svc.Recompute(5); err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	var analytics db.PostAnalytics
	if err := db.DB.Where("post_id = ?", 5).First(&analytics).Error; err != nil {
		t.Fatalf("failed to load analytics: %v", err)
	}

	if analytics.TotalViews != 0 || analytics.EngagementRate != 0 || analytics.AvgTimeSeconds != 0 || analytics.MedianTimeSeconds != 0 || analytics.AvgScrollDepth != 0 {
		t.Fatalf("expected all-zero rates for empty post, got %+v", analytics)
	}
	if analytics.EngagementScore != 0 {
		t.Fatalf("expected zero score, got %v", analytics.EngagementScore)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	cleanup := setupAggregatorTestDB(t)
	defer cleanup()

	seedSessions(t, 2, 4, 2)
	events := []db.BlogEngagementEvent{
		{PostID: 2, SessionID: 1, EventType: EventView, CreatedAt: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)},
		{PostID: 2, SessionID: 2, EventType: EventShare, Payload: `{"platform":"twitter"}`},
		{PostID: 2, SessionID: 3, EventType: EventCTAClick},
	}
	for i := range events {
		if err := db.DB.Create(&events[i]).Error; err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}

	svc := NewAggregatorService(db.DB)
	if err := svc.Recompute(2); err != nil {
		t.Fatalf("first recompute failed: %v", err)
	}
	var first db.PostAnalytics
	if err := db.DB.Where("post_id = ?", 2).First(&first).Error; err != nil {
		t.Fatalf("failed to load first pass: %v", err)
	}

	if err := svc.Recompute(2); err != nil {
		t.Fatalf("second recompute failed: %v", err)
	}
	var second db.PostAnalytics
	if err := db.DB.Where("post_id = ?", 2).First(&second).Error; err != nil {
		t.Fatalf("failed to load second pass: %v", err)
	}

	var rows int64
	if err := db.DB.Model(&db.PostAnalytics{}).Where("post_id = ?", 2).Count(&rows).Error; err != nil {
		t.Fatalf("failed to count analytics rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected single analytics row, got %d", rows)
	}

	// 忽略簿记字段后两次结果应完全一致
	normalize := func(a db.PostAnalytics) db.PostAnalytics {
		a.ID = 0
		a.CreatedAt = time.Time{}
		a.UpdatedAt = time.Time{}
		a.AggregatedAt = time.Time{}
		return a
	}
	if !reflect.DeepEqual(normalize(first), normalize(second)) {
		t.Fatalf("expected idempotent recompute, first=%+v second=%+v", normalize(first), normalize(second))
	}
}

func TestRecomputeDerivesEventCounts(t *testing.T) {
	cleanup := setupAggregatorTestDB(t)
	defer cleanup()

	base := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	events := []db.BlogEngagementEvent{
		{PostID: 3, SessionID: 1, EventType: EventView, CreatedAt: base},
		{PostID: 3, SessionID: 2, EventType: EventView, CreatedAt: base.Add(2 * time.Hour)},
		{PostID: 3, SessionID: 1, EventType: EventShare, Payload: `{"platform":"twitter"}`, CreatedAt: base},
		{PostID: 3, SessionID: 1, EventType: EventShare, Payload: `{"platform":"twitter"}`, CreatedAt: base},
		{PostID: 3, SessionID: 2, EventType: EventShare, Payload: `{"platform":"facebook"}`, CreatedAt: base},
		{PostID: 3, SessionID: 1, EventType: EventCTAClick, CreatedAt: base},
		{PostID: 3, SessionID: 1, EventType: EventNewsletterSignup, CreatedAt: base},
		{PostID: 3, SessionID: 2, EventType: EventComment, CreatedAt: base},
		{PostID: 3, SessionID: 2, EventType: EventLike, CreatedAt: base},
		{PostID: 3, SessionID: 2, EventType: EventBookmark, CreatedAt: base},
		{PostID: 3, SessionID: 2, EventType: EventFormSubmit, CreatedAt: base},
	}
	for i := range events {
		if err := db.DB.Create(&events[i]).Error; err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}

	svc := NewAggregatorService(db.DB)
	if err := svc.Recompute(3); err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	var analytics db.PostAnalytics
	if err := db.DB.Where("post_id = ?", 3).First(&analytics).Error; err != nil {
		t.Fatalf("failed to load analytics: %v", err)
	}

	if analytics.Shares != 3 || analytics.CTAClicks != 1 || analytics.NewsletterSignups != 1 {
		t.Fatalf("unexpected conversion counts: %+v", analytics)
	}
	if analytics.Comments != 1 || analytics.Likes != 1 || analytics.Bookmarks != 1 || analytics.FormSubmits != 1 {
		t.Fatalf("unexpected social counts: %+v", analytics)
	}

	var breakdown map[string]int64
	if err := json.Unmarshal([]byte(analytics.ShareBreakdown), &breakdown); err != nil {
		t.Fatalf("invalid share breakdown %q: %v", analytics.ShareBreakdown, err)
	}
	if breakdown["twitter"] != 2 || breakdown["facebook"] != 1 {
		t.Fatalf("unexpected share breakdown: %v", breakdown)
	}

	if analytics.FirstViewedAt == nil || !analytics.FirstViewedAt.Equal(base) {
		t.Fatalf("unexpected first view timestamp: %v", analytics.FirstViewedAt)
	}
	if analytics.LastViewedAt == nil || !analytics.LastViewedAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("unexpected last view timestamp: %v", analytics.LastViewedAt)
	}
}

func TestEngagementScoreUsesWeights(t *testing.T) {
	cleanup := setupAggregatorTestDB(t)
	defer cleanup()

	sessions := []db.BlogPostSession{
		{SessionID: 1, PostID: 4, VisitorID: 1, TimeOnPage: 10, MaxScrollDepth: 100, WasEngaged: true, TrafficSource: SourceGoogle},
		{SessionID: 2, PostID: 4, VisitorID: 2, TimeOnPage: 20, MaxScrollDepth: 50, TrafficSource: SourceDirect},
	}
	for i := range sessions {
		if err := db.DB.Create(&sessions[i]).Error; err != nil {
			t.Fatalf("failed to seed session: %v", err)
		}
	}
	events := []db.BlogEngagementEvent{
		{PostID: 4, SessionID: 1, EventType: EventShare, Payload: `{"platform":"twitter"}`},
		{PostID: 4, SessionID: 1, EventType: EventNewsletterSignup},
		{PostID: 4, SessionID: 2, EventType: EventCTAClick},
	}
	for i := range events {
		if err := db.DB.Create(&events[i]).Error; err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}

	svc := NewAggregatorService(db.DB)
	if err := svc.Recompute(4); err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	var analytics db.PostAnalytics
	if err := db.DB.Where("post_id = ?", 4).First(&analytics).Error; err != nil {
		t.Fatalf("failed to load analytics: %v", err)
	}

	if analytics.AvgTimeSeconds != 15 || analytics.MedianTimeSeconds != 15 {
		t.Fatalf("unexpected time stats: avg=%v median=%v", analytics.AvgTimeSeconds, analytics.MedianTimeSeconds)
	}
	if analytics.AvgScrollDepth != 75 || analytics.ScrollReached100 != 1 {
		t.Fatalf("unexpected scroll stats: %+v", analytics)
	}

	// 2*1 + 15*0.5 + 1*5 + 1*10 + 1*20 + 1*3 + 75*0.5 = 85
	if analytics.EngagementScore != 85 {
		t.Fatalf("expected engagement score 85, got %v", analytics.EngagementScore)
	}

	if analytics.SourceGoogle != 1 || analytics.SourceDirect != 1 {
		t.Fatalf("unexpected source split: %+v", analytics)
	}
}

func TestMedianInt(t *testing.T) {
	if got := medianInt(nil); got != 0 {
		t.Fatalf("expected 0 for empty input, got %v", got)
	}
	if got := medianInt([]int{9, 1, 5}); got != 5 {
		t.Fatalf("expected 5, got %v", got)
	}
	if got := medianInt([]int{4, 1, 3, 2}); got != 2.5 {
		t.Fatalf("expected 2.5, got %v", got)
	}
}
