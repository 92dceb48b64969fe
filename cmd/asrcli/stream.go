package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/zhouzirui/asr-client/internal/service/realtime"
)

// streamFile 把 WAV 文件按实时速率推送到实时转写通道，并打印收到的事件
func (a *app) streamFile(ctx context.Context, opts options) error {
	path := opts.audio
	if path == "" {
		path = opts.file
	}
	if path == "" {
		return fmt.Errorf("realtime 模式需要通过 -audio 指定 WAV 文件")
	}

	pcm, sampleRate, err := loadPCM(path)
	if err != nil {
		return err
	}

	hotwords := map[string]int{}
	if list, err := a.api.Hotwords.List(ctx, 0, 0); err == nil {
		for _, hw := range list {
			hotwords[hw.Word] = hw.Weight
		}
	} else {
		log.Printf("[WARN] 获取热词失败，不带热词继续: %v", err)
	}

	ch, err := realtime.New(realtime.Config{
		BaseURL:           a.cfg.Backend.BaseURL,
		Path:              a.cfg.Backend.RealtimePath,
		HeartbeatInterval: a.cfg.Realtime.HeartbeatInterval,
		HandshakeTimeout:  a.cfg.Realtime.HandshakeTimeout,
		WriteTimeout:      a.cfg.Realtime.WriteTimeout,
		QueueSize:         a.cfg.Realtime.QueueSize,
	}, a.store, realtime.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	if err := ch.Start(ctx); err != nil {
		return err
	}

	final := make(chan struct{}, 1)
	closed := make(chan error, 1)
	go printEvents(ch.Events(), final, closed)

	ch.SendCommand(realtime.StartCommand(realtime.StreamOptions{
		Mode:       opts.streamMode,
		WavName:    filepath.Base(path),
		SampleRate: sampleRate,
		Hotwords:   hotwords,
	}))

	chunk, interval := chunkPlan(sampleRate, opts.chunkMs)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for offset := 0; offset < len(pcm); offset += chunk {
		end := min(offset+chunk, len(pcm))
		if !ch.SendAudio(pcm[offset:end]) {
			break
		}
		select {
		case <-ctx.Done():
			ch.Stop()
			return ctx.Err()
		case err := <-closed:
			return err
		case <-ticker.C:
		}
	}

	ch.SendCommand(realtime.StopCommand())

	select {
	case <-final:
	case err := <-closed:
		return err
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		log.Printf("[WARN] 等待最终结果超时")
	}

	if err := ch.Stop(); err != nil {
		return err
	}
	return <-closed
}

// chunkPlan 返回每块字节数与发送间隔；chunkMs 非正时使用 60ms
func chunkPlan(sampleRate, chunkMs int) (int, time.Duration) {
	if chunkMs <= 0 {
		return realtime.ChunkBytes(sampleRate), 60 * time.Millisecond
	}
	samples := max(sampleRate*chunkMs/1000, 1)
	return samples * 2, time.Duration(chunkMs) * time.Millisecond
}

func printEvents(events <-chan realtime.Event, final chan<- struct{}, closed chan<- error) {
	for ev := range events {
		switch ev.Type {
		case realtime.EventConnectionEstablished:
			fmt.Printf("已连接: user=%s\n", ev.UserID)
		case realtime.EventReady:
			fmt.Println("服务端就绪")
		case realtime.EventTranscription:
			if ev.Result == nil {
				continue
			}
			if ev.Result.IsFinal {
				fmt.Printf("[最终] %s\n", ev.Result.Text)
				select {
				case final <- struct{}{}:
				default:
				}
			} else {
				fmt.Printf("[中间] %s\n", ev.Result.Text)
			}
		case realtime.EventError:
			fmt.Printf("服务端错误: %s\n", ev.Message)
		case realtime.EventClosed:
			if ev.Err != nil {
				fmt.Printf("连接关闭 (%d): %v\n", ev.CloseCode, ev.Err)
			}
			closed <- ev.Err
		}
	}
}

// loadPCM 解码 WAV 为 16 位小端单声道 PCM
func loadPCM(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("打开音频文件失败: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s 不是有效的 WAV 文件", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("解码 WAV 失败: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("%s 缺少采样率信息", path)
	}

	return toPCM16(buf, int(dec.BitDepth)), buf.Format.SampleRate, nil
}

// toPCM16 只取第一个声道
func toPCM16(buf *audio.IntBuffer, bitDepth int) []byte {
	channels := max(buf.Format.NumChannels, 1)

	var out bytes.Buffer
	out.Grow(len(buf.Data) / channels * 2)
	for i := 0; i < len(buf.Data); i += channels {
		v := buf.Data[i]
		switch {
		case bitDepth == 8:
			v = (v - 128) << 8
		case bitDepth > 16:
			v >>= bitDepth - 16
		}
		binary.Write(&out, binary.LittleEndian, int16(v))
	}
	return out.Bytes()
}
