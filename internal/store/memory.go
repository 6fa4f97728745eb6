package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/Palabra/internal/models"
)

// InMemoryStore keeps all learner state in process memory.
type InMemoryStore struct {
	mu        sync.Mutex
	users     map[string]*models.UserProfile
	learned   map[string][]string
	suggested map[string][]string
	inbound   map[string]string
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:     make(map[string]*models.UserProfile),
		learned:   make(map[string][]string),
		suggested: make(map[string][]string),
		inbound:   make(map[string]string),
	}
}

func (s *InMemoryStore) GetOrCreateUser(ctx context.Context, phone string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[phone]
	if !ok {
		now := time.Now().UTC()
		p = &models.UserProfile{Phone: phone, Stage: models.StageNotStarted, CreatedAt: now, UpdatedAt: now}
		s.users[phone] = p
		slog.Debug("InMemoryStore.GetOrCreateUser: created user", "phone", phone)
	}
	return cloneProfile(p), nil
}

func (s *InMemoryStore) UpdateUser(ctx context.Context, phone string, update models.ProfileUpdate) error {
	if update.StartQuiz != nil {
		if err := update.StartQuiz.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[phone]
	if !ok {
		return ErrNotFound
	}
	if update.ExpectStage != nil && p.Stage != *update.ExpectStage {
		return ErrStageConflict
	}
	if update.Stage != nil && *update.Stage < p.Stage {
		return ErrStageRegression
	}
	update.Apply(p)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) AppendLearned(ctx context.Context, phone, term string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.learned[phone] {
		if t == term {
			return false, nil
		}
	}
	s.learned[phone] = append(s.learned[phone], term)
	return true, nil
}

func (s *InMemoryStore) AppendSuggested(ctx context.Context, phone, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggested[phone] = append(s.suggested[phone], text)
	return nil
}

func (s *InMemoryStore) ListLearned(ctx context.Context, phone string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.learned[phone]...), nil
}

func (s *InMemoryStore) ListSuggested(ctx context.Context, phone string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.suggested[phone]...), nil
}

func (s *InMemoryStore) DeleteUser(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, phone)
	delete(s.learned, phone)
	delete(s.suggested, phone)
	return nil
}

func (s *InMemoryStore) ListCompletedUsers(ctx context.Context) ([]models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UserProfile
	for _, p := range s.users {
		if p.Stage == models.StageCompleted {
			out = append(out, *cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		return false, nil
	}
	s.inbound[messageID] = phone
	return true, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func cloneProfile(p *models.UserProfile) *models.UserProfile {
	c := *p
	if p.Interests != nil {
		c.Interests = append([]string(nil), p.Interests...)
	}
	if p.Quiz != nil {
		q := *p.Quiz
		c.Quiz = &q
	}
	return &c
}
