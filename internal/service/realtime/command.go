package realtime

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// 命令类型
const (
	CommandStart = "start"
	CommandStop  = "stop"
	CommandPing  = "ping"
)

// 流式识别模式
const (
	ModeOnline  = "online"
	ModeOffline = "offline"
	Mode2Pass   = "2pass"
)

// Command 发往服务端的 JSON 文本帧
type Command struct {
	Type          string `json:"type,omitempty"`
	Mode          string `json:"mode,omitempty"`
	ChunkSize     []int  `json:"chunk_size,omitempty"`
	ChunkInterval int    `json:"chunk_interval,omitempty"`
	WavName       string `json:"wav_name,omitempty"`
	IsSpeaking    *bool  `json:"is_speaking,omitempty"`
	Hotwords      string `json:"hotwords,omitempty"`
	AudioFS       int    `json:"audio_fs,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// StreamOptions 开始一段流式识别的参数
type StreamOptions struct {
	Mode       string         // 默认 2pass
	WavName    string         // 默认随机生成
	SampleRate int            // 0 表示不发送
	Hotwords   map[string]int // 词 -> 权重
}

// 默认分块参数：[5,10,5] 即 600ms 窗口，每块 60ms
var defaultChunkSize = []int{5, 10, 5}

const defaultChunkInterval = 10

// StartCommand 构造开始识别命令
func StartCommand(opts StreamOptions) Command {
	mode := opts.Mode
	if mode == "" {
		mode = Mode2Pass
	}
	wavName := opts.WavName
	if wavName == "" {
		wavName = "stream-" + uuid.NewString()[:8]
	}

	speaking := true
	return Command{
		Type:          CommandStart,
		Mode:          mode,
		ChunkSize:     append([]int(nil), defaultChunkSize...),
		ChunkInterval: defaultChunkInterval,
		WavName:       wavName,
		IsSpeaking:    &speaking,
		Hotwords:      encodeHotwords(opts.Hotwords),
		AudioFS:       opts.SampleRate,
	}
}

// StopCommand 构造结束识别命令，服务端收到后返回最终结果
func StopCommand() Command {
	speaking := false
	return Command{Type: CommandStop, IsSpeaking: &speaking}
}

// PingCommand 应用层心跳
func PingCommand(at time.Time) Command {
	return Command{Type: CommandPing, Timestamp: at.UnixMilli()}
}

// ChunkBytes 按 chunk_size/chunk_interval 计算每块 16bit 单声道 PCM 的字节数
func ChunkBytes(sampleRate int) int {
	ms := 60 * defaultChunkSize[1] / defaultChunkInterval
	return sampleRate / 1000 * ms * 2
}

// encodeHotwords 服务端期望的格式是 JSON 字符串 {"词": 权重}，键按字典序
func encodeHotwords(words map[string]int) string {
	if len(words) == 0 {
		return ""
	}
	data, err := sonic.ConfigStd.MarshalToString(words)
	if err != nil {
		return ""
	}
	return data
}
