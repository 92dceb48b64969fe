package asr

import "time"

// 热词权重范围，超出范围由后端校验，客户端不做截断
const (
	MinHotwordWeight     = 1
	MaxHotwordWeight     = 10
	DefaultHotwordWeight = 5
)

// Hotword 热词
type Hotword struct {
	ID        string    `json:"id"`
	Word      string    `json:"word"`
	Weight    int       `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// HotwordPatch 热词更新，nil 字段保持不变
type HotwordPatch struct {
	Word   *string `json:"word,omitempty"`
	Weight *int    `json:"weight,omitempty"`
}

// ImportSummary 批量导入结果
type ImportSummary struct {
	AddedCount   int `json:"added_count"`
	SkippedCount int `json:"skipped_count"`
}
