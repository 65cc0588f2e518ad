package db

import "gorm.io/gorm"

// Post 定义了文章模型。内容管理由外部后台负责，
// 追踪链路只依赖文章的存在性校验与标识。
type Post struct {
	gorm.Model
	Title   string
	Slug    string `gorm:"size:255;index"`
	Status  string `gorm:"size:16;default:draft"`
	NicheID *uint  `gorm:"index"`
	UserID  uint
}

// PostExists 判断指定文章是否存在。
func PostExists(gdb *gorm.DB, postID uint) (bool, error) {
	var count int64
	if err := gdb.Model(&Post{}).Where("id = ?", postID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
