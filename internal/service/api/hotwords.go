package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/zhouzirui/asr-client/internal/model/asr"
	"github.com/zhouzirui/asr-client/internal/service/transport"
)

const (
	hotwordsPath = "/hotwords"
	hotwordRoute = "/hotwords/{id}"
	importPath   = "/hotwords/import"
)

// HotwordClient manages the caller's hotword list. Weights are passed
// through as given; the backend enforces the 1..10 range.
type HotwordClient struct {
	tc *transport.Client
}

type hotwordInput struct {
	Word   string `json:"word"`
	Weight int    `json:"weight"`
}

func (h *HotwordClient) Create(ctx context.Context, word string, weight int) (asr.Hotword, error) {
	if strings.TrimSpace(word) == "" {
		return asr.Hotword{}, validationError(http.MethodPost, hotwordsPath, "word is required")
	}

	var hw asr.Hotword
	err := call(ctx, h.tc, &transport.Request{
		Method: http.MethodPost,
		Path:   hotwordsPath,
		Body:   transport.JSONBody{Value: hotwordInput{Word: word, Weight: weight}},
	}, &hw)
	return hw, err
}

func (h *HotwordClient) List(ctx context.Context, offset, limit int) ([]asr.Hotword, error) {
	var list []asr.Hotword
	err := call(ctx, h.tc, &transport.Request{
		Method: http.MethodGet,
		Path:   hotwordsPath,
		Query:  pageQuery(offset, limit),
	}, &list)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []asr.Hotword{}
	}
	return list, nil
}

// Update applies the non-nil fields of patch.
func (h *HotwordClient) Update(ctx context.Context, id string, patch asr.HotwordPatch) (asr.Hotword, error) {
	if strings.TrimSpace(id) == "" {
		return asr.Hotword{}, validationError(http.MethodPut, hotwordRoute, "hotword id is required")
	}
	if patch.Word != nil && strings.TrimSpace(*patch.Word) == "" {
		return asr.Hotword{}, validationError(http.MethodPut, hotwordRoute, "word cannot be empty")
	}

	var hw asr.Hotword
	err := call(ctx, h.tc, &transport.Request{
		Method: http.MethodPut,
		Path:   hotwordsPath + "/" + url.PathEscape(id),
		Route:  hotwordRoute,
		Body:   transport.JSONBody{Value: patch},
	}, &hw)
	return hw, err
}

func (h *HotwordClient) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return validationError(http.MethodDelete, hotwordRoute, "hotword id is required")
	}

	return call(ctx, h.tc, &transport.Request{
		Method: http.MethodDelete,
		Path:   hotwordsPath + "/" + url.PathEscape(id),
		Route:  hotwordRoute,
	}, nil)
}

// Import uploads a CSV or TXT file. Parsing happens on the backend.
func (h *HotwordClient) Import(ctx context.Context, file asr.File) (asr.ImportSummary, error) {
	if len(file.Data) == 0 {
		return asr.ImportSummary{}, validationError(http.MethodPost, importPath, "file is empty")
	}

	body, err := transport.NewMultipartBody([]transport.FilePart{{Field: "file", Filename: file.Name, Data: file.Data}}, nil)
	if err != nil {
		return asr.ImportSummary{}, err
	}

	var summary asr.ImportSummary
	err = call(ctx, h.tc, &transport.Request{Method: http.MethodPost, Path: importPath, Body: body}, &summary)
	if isStatus(err, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity) {
		return asr.ImportSummary{}, refine(err, ErrUnsupportedFormat)
	}
	return summary, err
}
