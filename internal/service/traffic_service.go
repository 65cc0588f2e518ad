package service

import (
	"log"
	"time"

	"github.com/nichelog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrafficInput 描述一次全站页面浏览上报。
type TrafficInput struct {
	Visitor  *db.Visitor
	Session  *db.Session
	Path     string
	Referrer string
	Source   string
	Now      time.Time
}

// TrafficService 负责全站流量日志与每日汇总。
type TrafficService struct {
	db       *gorm.DB
	identity *IdentityService
}

// NewTrafficService 创建 TrafficService。
func NewTrafficService(gdb *gorm.DB, identity *IdentityService) *TrafficService {
	return &TrafficService{db: gdb, identity: identity}
}

// RecordPageView 写入一条流量日志并追加会话导航记录。
// 互动追踪的轻量级兄弟链路，身份已由调用方解析。
func (s *TrafficService) RecordPageView(input TrafficInput) error {
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	event := db.TrafficEvent{
		Path:     input.Path,
		Referrer: input.Referrer,
		Source:   input.Source,
	}
	if input.Visitor != nil {
		event.VisitorID = &input.Visitor.ID
	}
	if input.Session != nil {
		event.SessionID = &input.Session.ID
	}
	event.CreatedAt = now

	if err := s.db.Create(&event).Error; err != nil {
		return err
	}

	if input.Session != nil && s.identity != nil {
		if err := s.identity.AppendSessionEvent(input.Session.ID, input.Path, input.Referrer, now); err != nil {
			// 导航日志失败不影响已落库的流量事件
			log.Printf("session event append failed for session %d: %v", input.Session.ID, err)
		}
	}

	return nil
}

// RecordAnonymous 在身份不可用时尽力写入去身份化的流量日志。
func (s *TrafficService) RecordAnonymous(path, referrer, source string) {
	event := db.TrafficEvent{Path: path, Referrer: referrer, Source: source, CreatedAt: time.Now().UTC()}
	if err := s.db.Create(&event).Error; err != nil {
		log.Printf("anonymous traffic write failed: %v", err)
	}
}

// RollupDay 重算指定日期的站点 PV/UV 快照并覆盖写入。幂等。
func (s *TrafficService) RollupDay(day time.Time) error {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var pageViews int64
	if err := s.db.Model(&db.TrafficEvent{}).
		Where("created_at >= ? AND created_at < ?", dayStart, dayEnd).
		Count(&pageViews).Error; err != nil {
		return err
	}

	var uniqueVisitors int64
	if err := s.db.Model(&db.TrafficEvent{}).
		Where("created_at >= ? AND created_at < ? AND visitor_id IS NOT NULL", dayStart, dayEnd).
		Distinct("visitor_id").
		Count(&uniqueVisitors).Error; err != nil {
		return err
	}

	rollup := db.TrafficDailyRollup{
		Day:            dayStart,
		PageViews:      uint64(pageViews),
		UniqueVisitors: uint64(uniqueVisitors),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}},
		UpdateAll: true,
	}).Create(&rollup).Error
}
