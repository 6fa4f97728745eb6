package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/Palabra/internal/assistant"
	"github.com/BTreeMap/Palabra/internal/models"
)

// MinQuizWords is how many learned terms a learner needs before a quiz.
const MinQuizWords = 4

// ErrNotEnoughDistractors is returned when the assistant's answer yields fewer
// than three usable wrong options.
var ErrNotEnoughDistractors = errors.New("not enough distinct distractors")

const distractorCount = models.QuizOptionCount - 1

func (e *Engine) issueQuiz(ctx context.Context, log *slog.Logger, phone string) string {
	learned, err := e.store.ListLearned(ctx, phone)
	if err != nil {
		log.Error("Engine.issueQuiz: failed to list learned terms", "error", err)
		return MsgGenericError
	}
	if len(learned) < MinQuizWords {
		log.Debug("Engine.issueQuiz: not eligible", "learned", len(learned))
		return fmt.Sprintf(MsgQuizNotEligible, MinQuizWords)
	}
	target := learned[e.intn(len(learned))]

	var translation, rawDistractors string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		translation, err = e.assistant.TranslateOnly(gctx, target)
		return err
	})
	g.Go(func() error {
		var err error
		rawDistractors, err = e.assistant.Distractors(gctx, target)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error("Engine.issueQuiz: assistant failed", "target", target, "error", err)
		return MsgGenericError
	}

	distractors, err := parseDistractors(rawDistractors, target)
	if err != nil {
		log.Error("Engine.issueQuiz: unusable distractors", "target", target, "raw", rawDistractors, "error", err)
		return MsgGenericError
	}
	round := e.buildRound(target, distractors)

	if err := e.store.UpdateUser(ctx, phone, models.ProfileUpdate{StartQuiz: &round}); err != nil {
		log.Error("Engine.issueQuiz: failed to store round", "error", err)
		return MsgGenericError
	}
	log.Info("Engine.issueQuiz: quiz issued", "target", target, "answer", round.Answer)
	return formatQuestion(translation, round)
}

// parseDistractors lower-cases and de-duplicates the assistant's list, drops
// the target itself and keeps the first three.
func parseDistractors(raw, target string) ([]string, error) {
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(target)): true}
	var out []string
	for _, item := range assistant.ParseList(raw) {
		w := strings.ToLower(item)
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	if len(out) < distractorCount {
		return nil, fmt.Errorf("%w: got %d", ErrNotEnoughDistractors, len(out))
	}
	return out[:distractorCount], nil
}

func (e *Engine) buildRound(target string, distractors []string) models.QuizRound {
	round := models.QuizRound{Target: target}
	round.Options[0] = target
	copy(round.Options[1:], distractors)
	e.shuffle(len(round.Options), func(i, j int) {
		round.Options[i], round.Options[j] = round.Options[j], round.Options[i]
	})
	for i, opt := range round.Options {
		if opt == target {
			round.Answer = i + 1
			break
		}
	}
	return round
}

func formatQuestion(translation string, round models.QuizRound) string {
	var b strings.Builder
	for i, opt := range round.Options {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, opt)
	}
	return fmt.Sprintf(MsgQuizQuestion, translation, b.String())
}

var quizDigits = map[string]int{"1": 1, "2": 2, "3": 3, "4": 4}

func (e *Engine) gradeQuiz(ctx context.Context, log *slog.Logger, profile *models.UserProfile, body string) string {
	choice, ok := quizDigits[strings.TrimSpace(body)]
	if !ok {
		log.Debug("Engine.gradeQuiz: not a quiz answer")
		return MsgQuizReprompt
	}

	// The round is over whatever the outcome; a failed clear is only logged.
	if err := e.store.UpdateUser(ctx, profile.Phone, models.ProfileUpdate{ClearQuiz: true}); err != nil {
		log.Error("Engine.gradeQuiz: failed to clear quiz", "error", err)
	}

	round := profile.Quiz
	if round == nil {
		log.Error("Engine.gradeQuiz: quiz active without a stored round")
		return MsgGenericError
	}
	if choice == round.Answer {
		log.Info("Engine.gradeQuiz: correct", "target", round.Target)
		return MsgQuizCorrect
	}
	log.Info("Engine.gradeQuiz: incorrect", "target", round.Target, "choice", choice)
	return fmt.Sprintf(MsgQuizIncorrect, round.Answer, round.Target)
}
