// Package questionfile is the file-backed question bank behind the
// app.QuestionStore interface: one JSON file per bank, kept sorted by
// question id. The rest of the system never sees the on-disk layout.
package questionfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"prarambh-quiz-service/internal/domain"
)

const optionCount = 4

// Round2Bank is the bank kind for the image-based second round. Round 1
// banks are named after their language.
const Round2Bank = "round2"

// Store reads and writes question banks under a single directory.
type Store struct {
	dir   string
	kinds map[string]bool
	mu    sync.Mutex
}

// NewStore accepts the round-1 languages from config; "round2" is always a
// valid bank.
func NewStore(dir string, languages []string) *Store {
	kinds := map[string]bool{Round2Bank: true}
	for _, lang := range languages {
		kinds[lang] = true
	}
	return &Store{dir: dir, kinds: kinds}
}

func (s *Store) List(_ context.Context, kind string) ([]domain.Question, error) {
	if !s.kinds[kind] {
		return nil, domain.ErrUnknownBank
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readBank(kind)
}

func (s *Store) Add(_ context.Context, kind string, question domain.Question) (domain.Question, error) {
	if !s.kinds[kind] {
		return domain.Question{}, domain.ErrUnknownBank
	}
	if err := validate(question); err != nil {
		return domain.Question{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	questions, err := s.readBank(kind)
	if err != nil {
		return domain.Question{}, err
	}
	for _, q := range questions {
		if q.ID == question.ID {
			return domain.Question{}, domain.ErrQuestionExists
		}
	}
	questions = append(questions, question)
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })

	if err := s.writeBank(kind, questions); err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

func (s *Store) Exists(_ context.Context, kind string, id int) (bool, error) {
	if !s.kinds[kind] {
		return false, domain.ErrUnknownBank
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	questions, err := s.readBank(kind)
	if err != nil {
		return false, err
	}
	for _, q := range questions {
		if q.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) readBank(kind string) ([]domain.Question, error) {
	data, err := os.ReadFile(s.path(kind))
	if os.IsNotExist(err) {
		return []domain.Question{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read question bank %s: %w", kind, err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal question bank %s: %w", kind, err)
	}
	return questions, nil
}

func (s *Store) writeBank(kind string, questions []domain.Question) error {
	data, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal question bank %s: %w", kind, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create question dir: %w", err)
	}
	if err := os.WriteFile(s.path(kind), data, 0o644); err != nil {
		return fmt.Errorf("write question bank %s: %w", kind, err)
	}
	return nil
}

func (s *Store) path(kind string) string {
	return filepath.Join(s.dir, kind+"_questions.json")
}

func validate(q domain.Question) error {
	if q.Question == "" {
		return domain.ErrInvalidQuestion
	}
	if len(q.Options) != optionCount {
		return domain.ErrInvalidQuestion
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= optionCount {
		return domain.ErrInvalidQuestion
	}
	if len(q.OptionImages) > 0 && len(q.OptionImages) != optionCount {
		return domain.ErrInvalidQuestion
	}
	return nil
}
