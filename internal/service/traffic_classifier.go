package service

import "strings"

// 流量来源分类的固定枚举。
const (
	SourceInstagram = "instagram"
	SourceFacebook  = "facebook"
	SourceYoutube   = "youtube"
	SourceGoogle    = "google"
	SourceTwitter   = "twitter"
	SourceDirect    = "direct"
	SourceOther     = "other"
)

// sourcePatterns 按优先级排列的子串匹配规则，命中即归类。
var sourcePatterns = []struct {
	category string
	keys     []string
}{
	{SourceInstagram, []string{"instagram", "ig_"}},
	{SourceFacebook, []string{"facebook", "fb_", "fb.com"}},
	{SourceYoutube, []string{"youtube", "youtu.be", "yt_"}},
	{SourceGoogle, []string{"google"}},
	{SourceTwitter, []string{"twitter", "t.co/", "x.com"}},
}

// ClassifySource 将显式来源提示与 HTTP Referrer 归类到固定的流量来源枚举。
// 提示优先于 Referrer；两者皆空归为 direct，无法匹配归为 other。
func ClassifySource(sourceHint, referrer string) string {
	hint := strings.ToLower(strings.TrimSpace(sourceHint))
	ref := strings.ToLower(strings.TrimSpace(referrer))

	if hint == "" && ref == "" {
		return SourceDirect
	}

	// 已是分类值的提示（例如首触 Cookie 回传）原样通过
	switch hint {
	case SourceInstagram, SourceFacebook, SourceYoutube, SourceGoogle, SourceTwitter, SourceDirect, SourceOther:
		return hint
	}

	for _, pattern := range sourcePatterns {
		for _, key := range pattern.keys {
			if hint != "" && strings.Contains(hint, key) {
				return pattern.category
			}
		}
	}

	for _, pattern := range sourcePatterns {
		for _, key := range pattern.keys {
			if ref != "" && strings.Contains(ref, key) {
				return pattern.category
			}
		}
	}

	return SourceOther
}
