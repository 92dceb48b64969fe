package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/zhouzirui/asr-client/internal/model/asr"
	"github.com/zhouzirui/asr-client/internal/service/transport"
)

const (
	submitPath = "/asr/transcribe/file"
	tasksPath  = "/asr/tasks"
	taskRoute  = "/asr/tasks/{id}"
)

// TaskClient submits file transcription tasks and reads them back.
type TaskClient struct {
	tc *transport.Client

	// listing holds 0 until List has run, then 1 (supported) or 2 (501).
	listing atomic.Int32
}

// Submit uploads file as part "file". A non-empty hotwordListID is sent as
// field "hotword_list_id".
func (t *TaskClient) Submit(ctx context.Context, file asr.File, hotwordListID string) (asr.Task, error) {
	if len(file.Data) == 0 {
		return asr.Task{}, validationError(http.MethodPost, submitPath, "file is empty")
	}
	name := file.Name
	if name == "" {
		name = "audio"
	}

	var fields []transport.FormField
	if hotwordListID != "" {
		fields = append(fields, transport.FormField{Name: "hotword_list_id", Value: hotwordListID})
	}
	body, err := transport.NewMultipartBody([]transport.FilePart{{Field: "file", Filename: name, Data: file.Data}}, fields)
	if err != nil {
		return asr.Task{}, err
	}

	var task asr.Task
	err = call(ctx, t.tc, &transport.Request{Method: http.MethodPost, Path: submitPath, Body: body}, &task)
	switch {
	case err == nil:
		return task, nil
	case isStatus(err, http.StatusRequestEntityTooLarge):
		return asr.Task{}, refine(err, ErrPayloadTooLarge)
	case isStatus(err, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity):
		return asr.Task{}, refine(err, ErrUnsupportedFormat)
	default:
		return asr.Task{}, err
	}
}

// Get fetches one task with its segments.
func (t *TaskClient) Get(ctx context.Context, id string) (asr.Task, error) {
	if strings.TrimSpace(id) == "" {
		return asr.Task{}, validationError(http.MethodGet, taskRoute, "task id is required")
	}

	var task asr.Task
	err := call(ctx, t.tc, &transport.Request{
		Method: http.MethodGet,
		Path:   tasksPath + "/" + url.PathEscape(id),
		Route:  taskRoute,
	}, &task)
	return task, err
}

// List returns a page of the caller's tasks. A backend without task
// listing answers 501; that yields an empty page and no error.
func (t *TaskClient) List(ctx context.Context, offset, limit int) ([]asr.Task, error) {
	var tasks []asr.Task
	err := call(ctx, t.tc, &transport.Request{
		Method: http.MethodGet,
		Path:   tasksPath,
		Query:  pageQuery(offset, limit),
	}, &tasks)
	if err != nil {
		if isStatus(err, http.StatusNotImplemented) {
			t.listing.Store(2)
			return []asr.Task{}, nil
		}
		return nil, err
	}

	t.listing.Store(1)
	if tasks == nil {
		tasks = []asr.Task{}
	}
	return tasks, nil
}

// ListingSupported reports what the most recent List call observed. It is
// true before the first call.
func (t *TaskClient) ListingSupported() bool {
	return t.listing.Load() != 2
}

func pageQuery(offset, limit int) url.Values {
	q := url.Values{}
	if offset > 0 {
		q.Set("skip", strconv.Itoa(offset))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}
