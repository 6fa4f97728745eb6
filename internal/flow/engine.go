// Package flow holds the conversation logic: the onboarding questionnaire,
// the command router, the feature handlers and the quiz sub-session.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/Palabra/internal/models"
	"github.com/BTreeMap/Palabra/internal/store"
)

// LanguageAssistant is the subset of the assistant the engine calls.
// *assistant.Assistant satisfies it.
type LanguageAssistant interface {
	TranslateExplainExample(ctx context.Context, term string) (string, error)
	RecommendWords(ctx context.Context, profile *models.UserProfile, exclusions []string) (string, error)
	WriteArticle(ctx context.Context, profile *models.UserProfile, date time.Time) (string, error)
	TranslateOnly(ctx context.Context, term string) (string, error)
	Distractors(ctx context.Context, term string) (string, error)
}

// Engine turns one inbound message into exactly one reply. All conversation
// state lives in the store, so any number of engines may share one store.
type Engine struct {
	store     store.Store
	assistant LanguageAssistant
	locks     *KeyLock
	now       func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option defines a configuration option for the engine.
type Option func(*Engine)

// WithRand sets the source used to pick quiz targets and shuffle options.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithClock overrides the clock used for article dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the engine to its store and language assistant.
func NewEngine(st store.Store, asst LanguageAssistant, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		assistant: asst,
		locks:     NewKeyLock(),
		now:       time.Now,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage processes body sent by phone and returns the reply. It never
// returns an empty reply and never panics.
func (e *Engine) HandleMessage(ctx context.Context, phone, body string) (reply string) {
	log := slog.With("request_id", uuid.NewString(), "phone", phone)
	start := time.Now()

	unlock := e.locks.Lock(phone)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Engine.HandleMessage: panic recovered", "panic", r, "stack", string(debug.Stack()))
			reply = MsgGenericError
		}
		log.Debug("Engine.HandleMessage: reply ready", "elapsed", time.Since(start), "reply_len", len(reply))
	}()

	profile, err := e.store.GetOrCreateUser(ctx, phone)
	if err != nil {
		log.Error("Engine.HandleMessage: failed to load user", "error", err)
		return MsgGenericError
	}
	log = log.With("stage", profile.Stage.String())

	if !profile.Onboarded() {
		return e.onboard(ctx, log, profile, body)
	}
	if profile.QuizActive {
		return e.gradeQuiz(ctx, log, profile, body)
	}

	cmd := ParseCommand(body)
	log.Debug("Engine.HandleMessage: command parsed", "command", cmd.Kind.String())
	switch cmd.Kind {
	case CmdMainMenu:
		return MainMenu
	case CmdLearn:
		return e.learn(ctx, log, phone, cmd.Arg)
	case CmdSuggest:
		return e.suggest(ctx, log, profile)
	case CmdQuiz:
		return e.issueQuiz(ctx, log, phone)
	case CmdArticle:
		return e.article(ctx, log, profile)
	case CmdDeleteAccount:
		return e.deleteAccount(ctx, log, phone)
	default:
		return MsgUnrecognized
	}
}

func (e *Engine) onboard(ctx context.Context, log *slog.Logger, profile *models.UserProfile, body string) string {
	t := Advance(profile.Stage, body)
	if !t.Advanced() {
		log.Debug("Engine.onboard: input rejected", "stage", profile.Stage.String())
		return t.Reply
	}

	err := e.store.UpdateUser(ctx, profile.Phone, t.Update)
	switch {
	case err == nil:
		log.Info("Engine.onboard: stage advanced", "from", profile.Stage.String(), "to", t.Next.String())
		return t.Reply
	case errors.Is(err, store.ErrStageConflict), errors.Is(err, store.ErrStageRegression):
		// Another delivery already moved the learner; answer for where they are now.
		current, rerr := e.store.GetOrCreateUser(ctx, profile.Phone)
		if rerr != nil {
			log.Error("Engine.onboard: failed to reload user after conflict", "error", rerr)
			return MsgGenericError
		}
		log.Warn("Engine.onboard: stale stage, not advancing", "stored", current.Stage.String())
		return PromptFor(current.Stage)
	default:
		log.Error("Engine.onboard: failed to persist answer", "error", err)
		return MsgGenericError
	}
}

func (e *Engine) intn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.IntN(n)
}

func (e *Engine) shuffle(n int, swap func(i, j int)) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	e.rng.Shuffle(n, swap)
}

// PickLearned returns a random learned term for phone, or "" if there is none.
func (e *Engine) PickLearned(ctx context.Context, phone string) (string, error) {
	learned, err := e.store.ListLearned(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("list learned for %s: %w", phone, err)
	}
	if len(learned) == 0 {
		return "", nil
	}
	return learned[e.intn(len(learned))], nil
}
