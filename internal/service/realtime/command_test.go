package realtime

import (
	"encoding/json"
	"testing"
)

func TestStartCommandFields(t *testing.T) {
	cmd := StartCommand(StreamOptions{
		WavName:  "mic",
		Hotwords: map[string]int{"阿里巴巴": 20, "达摩院": 10},
	})

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Marshal err: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}

	if got["type"] != "start" || got["mode"] != "2pass" || got["wav_name"] != "mic" {
		t.Fatalf("unexpected start command: %s", data)
	}
	if got["is_speaking"] != true || got["chunk_interval"] != float64(10) {
		t.Fatalf("unexpected start command: %s", data)
	}
	sizes, _ := got["chunk_size"].([]any)
	if len(sizes) != 3 || sizes[0] != float64(5) || sizes[1] != float64(10) || sizes[2] != float64(5) {
		t.Fatalf("unexpected chunk_size: %v", got["chunk_size"])
	}
	if got["hotwords"] != `{"达摩院":10,"阿里巴巴":20}` && got["hotwords"] != `{"阿里巴巴":20,"达摩院":10}` {
		t.Fatalf("unexpected hotwords: %v", got["hotwords"])
	}
	if _, ok := got["audio_fs"]; ok {
		t.Fatal("audio_fs should be omitted when unset")
	}
}

func TestStartCommandDefaults(t *testing.T) {
	cmd := StartCommand(StreamOptions{})
	if cmd.WavName == "" {
		t.Fatal("expected a generated wav name")
	}
	if cmd.Hotwords != "" {
		t.Fatalf("expected no hotwords, got %q", cmd.Hotwords)
	}
}

func TestChunkBytes(t *testing.T) {
	if got := ChunkBytes(16000); got != 1920 {
		t.Fatalf("expected 1920 bytes per 60ms chunk, got %d", got)
	}
}

func TestDecodeEvent(t *testing.T) {
	ev := decodeEvent([]byte(`{"type":"transcription_result","data":{"text":"你好","is_final":false,"confidence":0.9}}`))
	if ev.Type != EventTranscription || ev.Result == nil || ev.Result.Text != "你好" || ev.Result.IsFinal {
		t.Fatalf("unexpected event: %+v", ev)
	}

	native := decodeEvent([]byte(`{"mode":"2pass-offline","text":"今天天气","wav_name":"mic"}`))
	if native.Type != EventTranscription || native.Result == nil || !native.Result.IsFinal || native.Result.Text != "今天天气" {
		t.Fatalf("unexpected native event: %+v", native)
	}

	online := decodeEvent([]byte(`{"mode":"2pass-online","text":"今天"}`))
	if online.Result == nil || online.Result.IsFinal {
		t.Fatalf("online partial should not be final: %+v", online)
	}

	if bad := decodeEvent([]byte(`not json`)); bad.Type != EventUnknown {
		t.Fatalf("expected unknown event, got %+v", bad)
	}

	errEv := decodeEvent([]byte(`{"type":"error","message":"音频格式处理失败"}`))
	if errEv.Type != EventError || errEv.Message != "音频格式处理失败" {
		t.Fatalf("unexpected error event: %+v", errEv)
	}
}
