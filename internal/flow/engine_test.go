package flow

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/Palabra/internal/models"
	"github.com/BTreeMap/Palabra/internal/store"
)

const testPhone = "15551234567"

// fakeAssistant is a scripted LanguageAssistant.
type fakeAssistant struct {
	mu sync.Mutex

	explain        string
	explainErr     error
	recommend      string
	recommendErr   error
	article        string
	translate      string
	translateErr   error
	distractors    string
	distractorsErr error
	panicOn        string

	exclusions  []string
	articleDate time.Time
	calls       map[string]int
}

func newFakeAssistant() *fakeAssistant {
	return &fakeAssistant{
		explain:     "silla: chair. La silla es roja. (The chair is red.)",
		recommend:   "mesa, ventana, puerta",
		article:     "Hola.\n\nHello.",
		translate:   "silla",
		distractors: "cheer, share, hair",
		calls:       make(map[string]int),
	}
}

func (f *fakeAssistant) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.panicOn == op {
		panic("assistant exploded")
	}
}

func (f *fakeAssistant) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAssistant) TranslateExplainExample(ctx context.Context, term string) (string, error) {
	f.record("explain")
	return f.explain, f.explainErr
}

func (f *fakeAssistant) RecommendWords(ctx context.Context, profile *models.UserProfile, exclusions []string) (string, error) {
	f.record("recommend")
	f.mu.Lock()
	f.exclusions = exclusions
	f.mu.Unlock()
	return f.recommend, f.recommendErr
}

func (f *fakeAssistant) WriteArticle(ctx context.Context, profile *models.UserProfile, date time.Time) (string, error) {
	f.record("article")
	f.mu.Lock()
	f.articleDate = date
	f.mu.Unlock()
	return f.article, nil
}

func (f *fakeAssistant) TranslateOnly(ctx context.Context, term string) (string, error) {
	f.record("translate")
	return f.translate, f.translateErr
}

func (f *fakeAssistant) Distractors(ctx context.Context, term string) (string, error) {
	f.record("distractors")
	return f.distractors, f.distractorsErr
}

func newTestEngine(t *testing.T) (*Engine, *store.InMemoryStore, *fakeAssistant) {
	t.Helper()
	st := store.NewInMemoryStore()
	fa := newFakeAssistant()
	e := NewEngine(st, fa, WithRand(rand.New(rand.NewPCG(1, 2))))
	return e, st, fa
}

// onboardUser walks phone through the whole questionnaire and returns the replies.
func onboardUser(t *testing.T, e *Engine, phone string) []string {
	t.Helper()
	ctx := context.Background()
	var replies []string
	for _, msg := range []string{"hola", "Ana", "Lima", "34", "intermediate", "music, travel"} {
		replies = append(replies, e.HandleMessage(ctx, phone, msg))
	}
	return replies
}

func seedLearned(t *testing.T, st store.Store, phone string, terms ...string) {
	t.Helper()
	for _, term := range terms {
		_, err := st.AppendLearned(context.Background(), phone, term)
		require.NoError(t, err)
	}
}

func TestOnboardingEndToEnd(t *testing.T) {
	e, st, _ := newTestEngine(t)
	replies := onboardUser(t, e, testPhone)

	require.Len(t, replies, 6)
	assert.Contains(t, replies[0], MsgWelcome)
	assert.Contains(t, replies[0], MsgAskName)
	assert.Equal(t, MsgAskLocation, replies[1])
	assert.Equal(t, MsgAskAge, replies[2])
	assert.Equal(t, MsgAskProficiency, replies[3])
	assert.Equal(t, MsgAskInterests, replies[4])
	assert.Contains(t, replies[5], MainMenu)

	p, err := st.GetOrCreateUser(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, p.Stage)
	assert.Equal(t, "Ana", p.Name)
	assert.Equal(t, "Lima", p.Location)
	assert.Equal(t, 34, p.Age)
	assert.Equal(t, models.ProficiencyIntermediate, p.Proficiency)
	assert.Equal(t, []string{"music", "travel"}, p.Interests)
}

func TestOnboardingRepeatedInvalidInputDoesNotAdvance(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	for _, msg := range []string{"hi", "Ana", "Lima"} {
		e.HandleMessage(ctx, testPhone, msg)
	}

	first := e.HandleMessage(ctx, testPhone, "abc")
	second := e.HandleMessage(ctx, testPhone, "abc")
	assert.Equal(t, first, second)
	assert.Equal(t, MsgInvalidAge, first)

	p, err := st.GetOrCreateUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.StageNeedAge, p.Stage)

	assert.Equal(t, MsgAskProficiency, e.HandleMessage(ctx, testPhone, "34"))
}

// staleStore hands out an outdated profile once, as a second replica would see it.
type staleStore struct {
	*store.InMemoryStore
	stale *models.UserProfile
}

func (s *staleStore) GetOrCreateUser(ctx context.Context, phone string) (*models.UserProfile, error) {
	if s.stale != nil {
		p := s.stale
		s.stale = nil
		return p, nil
	}
	return s.InMemoryStore.GetOrCreateUser(ctx, phone)
}

func TestOnboardingReplayDoesNotDoubleAdvance(t *testing.T) {
	mem := store.NewInMemoryStore()
	fa := newFakeAssistant()
	ctx := context.Background()
	e := NewEngine(mem, fa)
	for _, msg := range []string{"hi", "Ana"} {
		e.HandleMessage(ctx, testPhone, msg)
	}
	// Stored stage is now NEED_LOCATION; replay "Ana" against a stale NEED_NAME read.
	stale := &staleStore{InMemoryStore: mem, stale: &models.UserProfile{Phone: testPhone, Stage: models.StageNeedName}}
	replica := NewEngine(stale, fa)

	reply := replica.HandleMessage(ctx, testPhone, "Bob")
	assert.Equal(t, MsgAskLocation, reply)

	p, err := mem.GetOrCreateUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.StageNeedLocation, p.Stage)
	assert.Equal(t, "Ana", p.Name)
}

// failingStore fails selected operations.
type failingStore struct {
	*store.InMemoryStore
	failUpdate bool
	failAppend bool
	failList   bool
	failDelete bool
}

var errStoreDown = errors.New("store down")

func (s *failingStore) UpdateUser(ctx context.Context, phone string, u models.ProfileUpdate) error {
	if s.failUpdate {
		return errStoreDown
	}
	return s.InMemoryStore.UpdateUser(ctx, phone, u)
}

func (s *failingStore) AppendLearned(ctx context.Context, phone, term string) (bool, error) {
	if s.failAppend {
		return false, errStoreDown
	}
	return s.InMemoryStore.AppendLearned(ctx, phone, term)
}

func (s *failingStore) AppendSuggested(ctx context.Context, phone, text string) error {
	if s.failAppend {
		return errStoreDown
	}
	return s.InMemoryStore.AppendSuggested(ctx, phone, text)
}

func (s *failingStore) ListSuggested(ctx context.Context, phone string) ([]string, error) {
	if s.failList {
		return nil, errStoreDown
	}
	return s.InMemoryStore.ListSuggested(ctx, phone)
}

func (s *failingStore) DeleteUser(ctx context.Context, phone string) error {
	if s.failDelete {
		return errStoreDown
	}
	return s.InMemoryStore.DeleteUser(ctx, phone)
}

func TestOnboardingStoreFailureKeepsStage(t *testing.T) {
	fs := &failingStore{InMemoryStore: store.NewInMemoryStore()}
	e := NewEngine(fs, newFakeAssistant())
	ctx := context.Background()
	e.HandleMessage(ctx, testPhone, "hi")

	fs.failUpdate = true
	assert.Equal(t, MsgGenericError, e.HandleMessage(ctx, testPhone, "Ana"))
	p, err := fs.GetOrCreateUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.StageNeedName, p.Stage)
}

func TestMainMenuAndUnrecognized(t *testing.T) {
	e, _, _ := newTestEngine(t)
	onboardUser(t, e, testPhone)
	ctx := context.Background()
	assert.Equal(t, MainMenu, e.HandleMessage(ctx, testPhone, "Main Menu"))
	assert.Equal(t, MsgUnrecognized, e.HandleMessage(ctx, testPhone, "learn"))
	assert.Equal(t, MsgUnrecognized, e.HandleMessage(ctx, testPhone, "what?"))
}

func TestLearnAppendsOnce(t *testing.T) {
	e, st, fa := newTestEngine(t)
	onboardUser(t, e, testPhone)
	ctx := context.Background()

	assert.Equal(t, fa.explain, e.HandleMessage(ctx, testPhone, "learn chair"))
	assert.Equal(t, fa.explain, e.HandleMessage(ctx, testPhone, "learn chair"))

	learned, err := st.ListLearned(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, []string{"chair"}, learned)
}

func TestLearnAssistantFailureDoesNotPersist(t *testing.T) {
	e, st, fa := newTestEngine(t)
	onboardUser(t, e, testPhone)
	ctx := context.Background()

	fa.explainErr = errors.New("timeout")
	assert.Equal(t, MsgLookupFailed, e.HandleMessage(ctx, testPhone, "learn chair"))
	learned, err := st.ListLearned(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, learned)
}

func TestLearnStoreFailureIsGenericError(t *testing.T) {
	fs := &failingStore{InMemoryStore: store.NewInMemoryStore()}
	e := NewEngine(fs, newFakeAssistant())
	onboardUser(t, e, testPhone)

	fs.failAppend = true
	assert.Equal(t, MsgGenericError, e.HandleMessage(context.Background(), testPhone, "learn chair"))
}

func TestSuggestUsesHistoryAndRecordsBatch(t *testing.T) {
	e, st, fa := newTestEngine(t)
	onboardUser(t, e, testPhone)
	ctx := context.Background()
	seedLearned(t, st, testPhone, "chair", "table")
	require.NoError(t, st.AppendSuggested(ctx, testPhone, "libro, Chair"))

	fa.recommend = " mesa, , ventana ,puerta "
	reply := e.HandleMessage(ctx, testPhone, "suggest")
	assert.Contains(t, reply, "mesa, ventana, puerta")
	assert.Equal(t, []string{"chair", "table", "libro"}, fa.exclusions)

	suggested, err := st.ListSuggested(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, []string{"libro, Chair", "mesa, ventana, puerta"}, suggested)
}

func TestSuggestKeepsAtMostThreeWords(t *testing.T) {
	e, st, fa := newTestEngine(t)
	onboardUser(t, e, testPhone)
	ctx := context.Background()

	fa.recommend = "mesa, ventana, puerta, libro, silla"
	reply := e.HandleMessage(ctx, testPhone, "suggest")
	assert.Contains(t, reply, "mesa, ventana, puerta")
	assert.NotContains(t, reply, "libro")

	suggested, err := st.ListSuggested(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, []string{"mesa, ventana, puerta"}, suggested)
}

func TestSuggestFailures(t *testing.T) {
	fs := &failingStore{InMemoryStore: store.NewInMemoryStore()}
	fa := newFakeAssistant()
	e := NewEngine(fs, fa)
	onboardUser(t, e, testPhone)
	ctx := context.Background()

	fs.failList = true
	assert.Equal(t, MsgGenericError, e.HandleMessage(ctx, testPhone, "suggest"))
	assert.Zero(t, fa.count("recommend"))
	fs.failList = false

	fa.recommend = " , "
	assert.Equal(t, MsgGenericError, e.HandleMessage(ctx, testPhone, "suggest"))

	fa.recommendErr = errors.New("down")
	assert.Equal(t, MsgGenericError, e.HandleMessage(ctx, testPhone, "suggest"))

	suggested, err := fs.ListSuggested(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, suggested)
}

func TestArticleUsesClock(t *testing.T) {
	st := store.NewInMemoryStore()
	fa := newFakeAssistant()
	day := time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)
	e := NewEngine(st, fa, WithClock(func() time.Time { return day }))
	onboardUser(t, e, testPhone)

	assert.Equal(t, fa.article, e.HandleMessage(context.Background(), testPhone, "article"))
	assert.Equal(t, day, fa.articleDate)
}

func TestDeleteAccountCascadesAndRestartsOnboarding(t *testing.T) {
	e, st, _ := newTestEngine(t)
	onboardUser(t, e, testPhone)
	ctx := context.Background()
	e.HandleMessage(ctx, testPhone, "learn chair")
	e.HandleMessage(ctx, testPhone, "suggest")

	assert.Equal(t, MsgAccountDeleted, e.HandleMessage(ctx, testPhone, "delete account"))

	learned, err := st.ListLearned(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, learned)
	suggested, err := st.ListSuggested(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, suggested)

	reply := e.HandleMessage(ctx, testPhone, "main menu")
	assert.Contains(t, reply, MsgAskName)
}

func TestDeleteAccountFailure(t *testing.T) {
	fs := &failingStore{InMemoryStore: store.NewInMemoryStore()}
	e := NewEngine(fs, newFakeAssistant())
	onboardUser(t, e, testPhone)
	fs.failDelete = true
	assert.Equal(t, MsgGenericError, e.HandleMessage(context.Background(), testPhone, "delete account"))
}

func TestPanicIsRecovered(t *testing.T) {
	e, _, fa := newTestEngine(t)
	onboardUser(t, e, testPhone)
	fa.panicOn = "article"
	assert.Equal(t, MsgGenericError, e.HandleMessage(context.Background(), testPhone, "article"))
	// The per-phone lock must have been released.
	assert.Equal(t, MainMenu, e.HandleMessage(context.Background(), testPhone, "main menu"))
}

func TestUsersAreIndependent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	onboardUser(t, e, testPhone)
	reply := e.HandleMessage(context.Background(), "15550000000", "main menu")
	assert.True(t, strings.Contains(reply, MsgWelcome))
}

func TestPickLearned(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	term, err := e.PickLearned(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, term)

	seedLearned(t, st, testPhone, "chair", "table")
	term, err = e.PickLearned(ctx, testPhone)
	require.NoError(t, err)
	assert.Contains(t, []string{"chair", "table"}, term)
}
