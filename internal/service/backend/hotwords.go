package backend

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zhouzirui/asr-client/internal/model/asr"
)

func validWeight(w int) bool {
	return w >= asr.MinHotwordWeight && w <= asr.MaxHotwordWeight
}

func validWord(word string) bool {
	word = strings.TrimSpace(word)
	return word != "" && utf8.RuneCountInString(word) <= maxWordLen
}

// CreateHotword adds a word to user's list.
func (s *Service) CreateHotword(_ context.Context, user asr.User, word string, weight int) (asr.Hotword, error) {
	if !validWord(word) || !validWeight(weight) {
		return asr.Hotword{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.hotwords[user.Username]
	if len(list) >= MaxHotwordsPerUser {
		return asr.Hotword{}, ErrHotwordLimit
	}
	if indexOfWord(list, word) >= 0 {
		return asr.Hotword{}, ErrDuplicateHotword
	}

	hw := asr.Hotword{
		ID:        uuid.NewString(),
		Word:      word,
		Weight:    weight,
		CreatedAt: time.Now().UTC(),
	}
	s.hotwords[user.Username] = append(list, hw)
	return hw, nil
}

// ListHotwords returns a page of user's hotwords in creation order.
func (s *Service) ListHotwords(_ context.Context, user asr.User, skip, limit int) []asr.Hotword {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.hotwords[user.Username], skip, limit)
}

// UpdateHotword applies the non-nil fields of patch.
func (s *Service) UpdateHotword(_ context.Context, user asr.User, id string, patch asr.HotwordPatch) (asr.Hotword, error) {
	if patch.Word != nil && !validWord(*patch.Word) {
		return asr.Hotword{}, ErrInvalidInput
	}
	if patch.Weight != nil && !validWeight(*patch.Weight) {
		return asr.Hotword{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, idx := s.findHotwordLocked(id)
	if idx < 0 {
		return asr.Hotword{}, ErrNotFound
	}
	if owner != user.Username {
		return asr.Hotword{}, ErrForbidden
	}

	list := s.hotwords[owner]
	hw := list[idx]
	if patch.Word != nil && *patch.Word != hw.Word {
		if indexOfWord(list, *patch.Word) >= 0 {
			return asr.Hotword{}, ErrDuplicateHotword
		}
		hw.Word = *patch.Word
	}
	if patch.Weight != nil {
		hw.Weight = *patch.Weight
	}
	list[idx] = hw
	return hw, nil
}

// DeleteHotword removes one of user's hotwords.
func (s *Service) DeleteHotword(_ context.Context, user asr.User, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, idx := s.findHotwordLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if owner != user.Username {
		return ErrForbidden
	}

	list := s.hotwords[owner]
	s.hotwords[owner] = append(list[:idx], list[idx+1:]...)
	return nil
}

// ImportHotwords reads a CSV or TXT file: first column is the word, an
// optional second column the weight. Weights outside 1..10 or unparsable
// fall back to the default. Existing words are skipped and the import
// stops at the per-user limit.
func (s *Service) ImportHotwords(_ context.Context, user asr.User, filename string, data []byte) (asr.ImportSummary, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
	default:
		return asr.ImportSummary{}, fmt.Errorf("%w: only csv or txt", ErrUnsupportedFormat)
	}
	if !utf8.Valid(data) {
		return asr.ImportSummary{}, fmt.Errorf("%w: file is not utf-8", ErrInvalidInput)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.hotwords[user.Username]
	remaining := MaxHotwordsPerUser - len(list)
	if remaining <= 0 {
		return asr.ImportSummary{}, ErrHotwordLimit
	}

	var summary asr.ImportSummary
	now := time.Now().UTC()
	for summary.AddedCount < remaining {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.ImportSummary{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if len(row) == 0 {
			continue
		}

		word := strings.TrimSpace(row[0])
		if !validWord(word) {
			continue
		}
		weight := asr.DefaultHotwordWeight
		if len(row) > 1 {
			if w, err := strconv.Atoi(strings.TrimSpace(row[1])); err == nil && validWeight(w) {
				weight = w
			}
		}

		if indexOfWord(list, word) >= 0 {
			summary.SkippedCount++
			continue
		}
		list = append(list, asr.Hotword{ID: uuid.NewString(), Word: word, Weight: weight, CreatedAt: now})
		summary.AddedCount++
	}

	s.hotwords[user.Username] = list
	return summary, nil
}

func (s *Service) findHotwordLocked(id string) (string, int) {
	for owner, list := range s.hotwords {
		for i, hw := range list {
			if hw.ID == id {
				return owner, i
			}
		}
	}
	return "", -1
}

func indexOfWord(list []asr.Hotword, word string) int {
	for i, hw := range list {
		if hw.Word == word {
			return i
		}
	}
	return -1
}
