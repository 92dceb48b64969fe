package asr

import "time"

// 转写任务状态
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Task 文件转写任务
type Task struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Segments     []Segment  `json:"segments,omitempty"`
}

// Done 任务是否已结束（成功或失败）
func (t Task) Done() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// Segment 转写结果分段
type Segment struct {
	ID         string  `json:"id"`
	SegmentID  int     `json:"segment_id"`
	StartTime  float64 `json:"start_time"` // seconds
	EndTime    float64 `json:"end_time"`   // seconds
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// File 待上传的文件
type File struct {
	Name string
	Data []byte
}
