package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/Palabra/internal/assistant"
	"github.com/BTreeMap/Palabra/internal/models"
)

func (e *Engine) learn(ctx context.Context, log *slog.Logger, phone, term string) string {
	explanation, err := e.assistant.TranslateExplainExample(ctx, term)
	if err != nil {
		log.Error("Engine.learn: lookup failed", "term", term, "error", err)
		return MsgLookupFailed
	}
	added, err := e.store.AppendLearned(ctx, phone, term)
	if err != nil {
		log.Error("Engine.learn: failed to record term", "term", term, "error", err)
		return MsgGenericError
	}
	log.Info("Engine.learn: term looked up", "term", term, "new", added)
	return explanation
}

func (e *Engine) suggest(ctx context.Context, log *slog.Logger, profile *models.UserProfile) string {
	var learned, suggested []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		learned, err = e.store.ListLearned(gctx, profile.Phone)
		return err
	})
	g.Go(func() error {
		var err error
		suggested, err = e.store.ListSuggested(gctx, profile.Phone)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error("Engine.suggest: failed to read history", "error", err)
		return MsgGenericError
	}

	raw, err := e.assistant.RecommendWords(ctx, profile, exclusionList(learned, suggested))
	if err != nil {
		log.Error("Engine.suggest: recommendation failed", "error", err)
		return MsgGenericError
	}
	words := assistant.ParseList(raw)
	if len(words) == 0 {
		log.Error("Engine.suggest: recommendation had no words", "raw", raw)
		return MsgGenericError
	}
	if len(words) > assistant.SuggestionCount {
		log.Debug("Engine.suggest: trimming recommendation", "returned", len(words))
		words = words[:assistant.SuggestionCount]
	}
	batch := strings.Join(words, ", ")
	if err := e.store.AppendSuggested(ctx, profile.Phone, batch); err != nil {
		log.Error("Engine.suggest: failed to record suggestions", "error", err)
		return MsgGenericError
	}
	log.Info("Engine.suggest: suggestions sent", "count", len(words))
	return fmt.Sprintf(MsgSuggestHeader, batch)
}

// exclusionList merges learned terms with every word of past suggestion
// batches, keeping first occurrences only.
func exclusionList(learned, suggested []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(w string) {
		key := strings.ToLower(w)
		if !seen[key] {
			seen[key] = true
			out = append(out, w)
		}
	}
	for _, w := range learned {
		add(w)
	}
	for _, batch := range suggested {
		for _, w := range assistant.ParseList(batch) {
			add(w)
		}
	}
	return out
}

func (e *Engine) article(ctx context.Context, log *slog.Logger, profile *models.UserProfile) string {
	text, err := e.assistant.WriteArticle(ctx, profile, e.now())
	if err != nil {
		log.Error("Engine.article: generation failed", "error", err)
		return MsgGenericError
	}
	return text
}

func (e *Engine) deleteAccount(ctx context.Context, log *slog.Logger, phone string) string {
	if err := e.store.DeleteUser(ctx, phone); err != nil {
		log.Error("Engine.deleteAccount: delete failed", "error", err)
		return MsgGenericError
	}
	log.Info("Engine.deleteAccount: account deleted")
	return MsgAccountDeleted
}
