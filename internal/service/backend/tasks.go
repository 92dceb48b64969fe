package backend

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/zhouzirui/asr-client/internal/model/asr"
)

var audioExtensions = map[string]bool{".wav": true, ".mp3": true}

type taskRecord struct {
	owner string
	task  asr.Task
}

// SubmitTask stores an uploaded file as a pending task and finishes it in
// the background after the configured delay.
func (s *Service) SubmitTask(_ context.Context, user asr.User, filename string, data []byte, hotwordListID string) (asr.Task, error) {
	if !audioExtensions[strings.ToLower(filepath.Ext(filename))] {
		return asr.Task{}, fmt.Errorf("%w: %s, only mp3 or wav", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	task := asr.Task{
		ID:        uuid.NewString(),
		Filename:  filename,
		Status:    asr.TaskPending,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.tasks[task.ID] = &taskRecord{owner: user.Username, task: task}
	s.mu.Unlock()

	go s.processTask(task.ID, filename, data, hotwordListID)

	return task, nil
}

func (s *Service) processTask(id, filename string, data []byte, hotwordListID string) {
	s.setTaskStatus(id, asr.TaskProcessing)
	time.Sleep(s.processDelay)

	duration, err := audioDuration(filename, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	rec.task.CompletedAt = &now

	if err != nil {
		msg := err.Error()
		rec.task.Status = asr.TaskFailed
		rec.task.ErrorMessage = &msg
		log.Printf("[devserver] task %s failed: %v", id, err)
		return
	}

	text := fmt.Sprintf("模拟转写结果 %s", filename)
	if hotwordListID != "" {
		text += " hotwords=" + hotwordListID
	}
	rec.task.Status = asr.TaskCompleted
	rec.task.Segments = []asr.Segment{{
		ID:         uuid.NewString(),
		SegmentID:  0,
		StartTime:  0,
		EndTime:    duration.Seconds(),
		Text:       text,
		Confidence: 0.95,
	}}
	log.Printf("[devserver] task %s completed duration=%s", id, duration)
}

// audioDuration decodes WAV uploads. Other formats get a nominal length.
func audioDuration(filename string, data []byte) (time.Duration, error) {
	if strings.ToLower(filepath.Ext(filename)) != ".wav" {
		return time.Second, nil
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, fmt.Errorf("invalid wav file: %w", err)
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav file: missing format chunk")
	}
	frames := len(buf.Data) / int(dec.NumChans)
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate), nil
}

func (s *Service) setTaskStatus(id, status string) {
	s.mu.Lock()
	if rec, ok := s.tasks[id]; ok {
		rec.task.Status = status
	}
	s.mu.Unlock()
}

// GetTask returns one of user's tasks.
func (s *Service) GetTask(_ context.Context, user asr.User, id string) (asr.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tasks[id]
	if !ok {
		return asr.Task{}, ErrNotFound
	}
	if rec.owner != user.Username {
		return asr.Task{}, ErrForbidden
	}
	return copyTask(rec.task), nil
}

// ListTasks returns user's tasks, newest first, without segments.
func (s *Service) ListTasks(_ context.Context, user asr.User, skip, limit int) []asr.Task {
	s.mu.RLock()
	tasks := make([]asr.Task, 0)
	for _, rec := range s.tasks {
		if rec.owner == user.Username {
			t := rec.task
			t.Segments = nil
			tasks = append(tasks, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return page(tasks, skip, limit)
}

func copyTask(t asr.Task) asr.Task {
	if t.Segments != nil {
		segs := make([]asr.Segment, len(t.Segments))
		copy(segs, t.Segments)
		t.Segments = segs
	}
	return t
}
