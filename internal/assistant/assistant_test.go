package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/Palabra/internal/models"
)

type call struct {
	system string
	user   string
}

// fakeGenerator records prompts and answers with a fixed reply.
type fakeGenerator struct {
	reply string
	err   error
	calls []call
}

func (f *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls = append(f.calls, call{systemPrompt, userPrompt})
	return f.reply, f.err
}

func newTestAssistant(t *testing.T, gen Generator, opts ...Option) *Assistant {
	t.Helper()
	a, err := New(gen, opts...)
	require.NoError(t, err)
	return a
}

func TestNewRequiresGenerator(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestDefaultLanguage(t *testing.T) {
	a := newTestAssistant(t, &fakeGenerator{reply: "x"}, WithTargetLanguage("  "))
	assert.Equal(t, DefaultTargetLanguage, a.Language())
}

func TestTranslateExplainExamplePrompt(t *testing.T) {
	gen := &fakeGenerator{reply: "  silla: a chair.  "}
	a := newTestAssistant(t, gen, WithTargetLanguage("French"))

	out, err := a.TranslateExplainExample(context.Background(), "chair")
	require.NoError(t, err)
	assert.Equal(t, "silla: a chair.", out)
	require.Len(t, gen.calls, 1)
	assert.Contains(t, gen.calls[0].user, `"chair"`)
	assert.Contains(t, gen.calls[0].user, "French")
	assert.Contains(t, gen.calls[0].system, "French")
}

func TestRecommendWordsIncludesProfileAndExclusions(t *testing.T) {
	gen := &fakeGenerator{reply: "a, b, c"}
	a := newTestAssistant(t, gen)
	profile := &models.UserProfile{
		Name: "Ana", Location: "Lima", Age: 30,
		Proficiency: models.ProficiencyBeginner, Interests: []string{"music", "food"},
	}

	_, err := a.RecommendWords(context.Background(), profile, []string{"chair", "table"})
	require.NoError(t, err)
	user := gen.calls[0].user
	assert.Contains(t, user, "Ana")
	assert.Contains(t, user, "Lima")
	assert.Contains(t, user, "30 year old beginner")
	assert.Contains(t, user, "music, food")
	assert.Contains(t, user, "chair, table")
	assert.Contains(t, user, "Recommend exactly 3 English words")

	_, err = a.RecommendWords(context.Background(), profile, nil)
	require.NoError(t, err)
	assert.NotContains(t, gen.calls[1].user, "already seen")
}

func TestWriteArticleIncludesDate(t *testing.T) {
	gen := &fakeGenerator{reply: "Hola.\n\nHello."}
	a := newTestAssistant(t, gen)
	profile := &models.UserProfile{Age: 12, Proficiency: models.ProficiencyAdvanced, Interests: []string{"space"}}

	_, err := a.WriteArticle(context.Background(), profile, time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, gen.calls[0].user, "March 4, 2026")
	assert.Contains(t, gen.calls[0].user, "advanced")
	assert.Contains(t, gen.calls[0].user, "space")
}

func TestTranslateOnlyIsMemoized(t *testing.T) {
	gen := &fakeGenerator{reply: "silla"}
	a := newTestAssistant(t, gen)

	for i := 0; i < 3; i++ {
		out, err := a.TranslateOnly(context.Background(), "Chair")
		require.NoError(t, err)
		assert.Equal(t, "silla", out)
	}
	_, err := a.TranslateOnly(context.Background(), " chair ")
	require.NoError(t, err)
	assert.Len(t, gen.calls, 1)
}

func TestTranslateOnlyDoesNotCacheFailures(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	a := newTestAssistant(t, gen)

	_, err := a.TranslateOnly(context.Background(), "chair")
	require.Error(t, err)
	gen.err = nil
	gen.reply = "silla"
	out, err := a.TranslateOnly(context.Background(), "chair")
	require.NoError(t, err)
	assert.Equal(t, "silla", out)
}

func TestDistractorsPrompt(t *testing.T) {
	gen := &fakeGenerator{reply: "cheer, share, hair"}
	a := newTestAssistant(t, gen)
	out, err := a.Distractors(context.Background(), "chair")
	require.NoError(t, err)
	assert.Equal(t, "cheer, share, hair", out)
	assert.Contains(t, gen.calls[0].user, "'chair'")
}

func TestEmptyCompletionIsError(t *testing.T) {
	a := newTestAssistant(t, &fakeGenerator{reply: "  \n "})
	_, err := a.TranslateExplainExample(context.Background(), "chair")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestGeneratorErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	a := newTestAssistant(t, &fakeGenerator{err: boom})
	_, err := a.Distractors(context.Background(), "chair")
	assert.ErrorIs(t, err, boom)
	assert.True(t, strings.HasPrefix(err.Error(), "distractors"))
}

func TestParseList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a, b, c", []string{"a", "b", "c"}},
		{" Foo, ,bar ,BAZ ", []string{"Foo", "bar", "BAZ"}},
		{"single", []string{"single"}},
		{" , ,", nil},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseList(tt.in), "ParseList(%q)", tt.in)
	}
}

func TestLoadPromptsRejectsMissingEntry(t *testing.T) {
	_, err := loadPrompts([]byte("translate_only:\n  system: x\n  user: y\n"))
	assert.Error(t, err)
}
