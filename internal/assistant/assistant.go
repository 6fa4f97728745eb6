// Package assistant is the language-assistant gateway. It renders prompts
// from an embedded catalog and sends them to a text generator.
package assistant

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/Palabra/internal/models"
)

// Defaults for the assistant.
const (
	DefaultTargetLanguage = "Spanish"
	DefaultCacheSize      = 512
	// SuggestionCount is how many words RecommendWords asks for.
	SuggestionCount = 3
)

// ErrEmptyCompletion is returned when the generator answers with blank text.
var ErrEmptyCompletion = errors.New("assistant returned an empty completion")

//go:embed prompts.yaml
var promptsYAML []byte

// Generator produces a completion for a system and a user prompt.
// *genai.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type promptDef struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type prompt struct {
	system *template.Template
	user   *template.Template
}

// Prompt catalog keys.
const (
	promptTranslateExplain = "translate_explain_example"
	promptRecommendWords   = "recommend_words"
	promptWriteArticle     = "write_article"
	promptTranslateOnly    = "translate_only"
	promptDistractors      = "distractors"
)

var requiredPrompts = []string{
	promptTranslateExplain,
	promptRecommendWords,
	promptWriteArticle,
	promptTranslateOnly,
	promptDistractors,
}

// Assistant performs the five language operations the bot needs.
type Assistant struct {
	gen      Generator
	language string
	prompts  map[string]prompt
	memo     *lru.Cache[string, string]
}

// Opts holds assistant configuration.
type Opts struct {
	TargetLanguage string
	CacheSize      int
}

// Option defines a configuration option for the assistant.
type Option func(*Opts)

// WithTargetLanguage sets the language being learned.
func WithTargetLanguage(lang string) Option {
	return func(o *Opts) { o.TargetLanguage = lang }
}

// WithCacheSize bounds the translate-only memo. Non-positive sizes are ignored.
func WithCacheSize(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.CacheSize = n
		}
	}
}

// New builds an Assistant around gen using the embedded prompt catalog.
func New(gen Generator, opts ...Option) (*Assistant, error) {
	if gen == nil {
		return nil, fmt.Errorf("assistant: generator is nil")
	}
	cfg := Opts{TargetLanguage: DefaultTargetLanguage, CacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.TargetLanguage) == "" {
		cfg.TargetLanguage = DefaultTargetLanguage
	}
	prompts, err := loadPrompts(promptsYAML)
	if err != nil {
		return nil, err
	}
	memo, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("assistant: failed to create translation cache: %w", err)
	}
	slog.Debug("Assistant initialized", "language", cfg.TargetLanguage, "cache_size", cfg.CacheSize)
	return &Assistant{gen: gen, language: cfg.TargetLanguage, prompts: prompts, memo: memo}, nil
}

func loadPrompts(raw []byte) (map[string]prompt, error) {
	var defs map[string]promptDef
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("error parsing prompt yaml: %w", err)
	}
	out := make(map[string]prompt, len(defs))
	for _, name := range requiredPrompts {
		def, ok := defs[name]
		if !ok || def.User == "" {
			return nil, fmt.Errorf("prompt %q missing from catalog", name)
		}
		sys, err := template.New(name + ".system").Option("missingkey=error").Parse(def.System)
		if err != nil {
			return nil, fmt.Errorf("prompt %q system template: %w", name, err)
		}
		usr, err := template.New(name + ".user").Option("missingkey=error").Parse(def.User)
		if err != nil {
			return nil, fmt.Errorf("prompt %q user template: %w", name, err)
		}
		out[name] = prompt{system: sys, user: usr}
	}
	return out, nil
}

// Language returns the target language.
func (a *Assistant) Language() string { return a.language }

// promptData is the value every template is executed with.
type promptData struct {
	Language    string
	Term        string
	Name        string
	Location    string
	Age         int
	Proficiency string
	Interests   string
	Exclusions  string
	Count       int
	Date        string
}

func (a *Assistant) dataFor(profile *models.UserProfile) promptData {
	d := promptData{Language: a.language}
	if profile != nil {
		d.Name = profile.Name
		d.Location = profile.Location
		d.Age = profile.Age
		d.Proficiency = string(profile.Proficiency)
		d.Interests = strings.Join(profile.Interests, ", ")
	}
	return d
}

func (a *Assistant) run(ctx context.Context, name string, data promptData) (string, error) {
	p := a.prompts[name]
	var sys, usr bytes.Buffer
	if err := p.system.Execute(&sys, data); err != nil {
		return "", fmt.Errorf("render %s system prompt: %w", name, err)
	}
	if err := p.user.Execute(&usr, data); err != nil {
		return "", fmt.Errorf("render %s user prompt: %w", name, err)
	}
	out, err := a.gen.Generate(ctx, strings.TrimSpace(sys.String()), strings.TrimSpace(usr.String()))
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%s: %w", name, ErrEmptyCompletion)
	}
	return out, nil
}

// TranslateExplainExample returns a translation, a short explanation and an
// example sentence for term.
func (a *Assistant) TranslateExplainExample(ctx context.Context, term string) (string, error) {
	d := a.dataFor(nil)
	d.Term = term
	return a.run(ctx, promptTranslateExplain, d)
}

// RecommendWords asks for a comma-separated list of new words tailored to
// profile, avoiding everything in exclusions.
func (a *Assistant) RecommendWords(ctx context.Context, profile *models.UserProfile, exclusions []string) (string, error) {
	d := a.dataFor(profile)
	d.Exclusions = strings.Join(exclusions, ", ")
	d.Count = SuggestionCount
	return a.run(ctx, promptRecommendWords, d)
}

// WriteArticle returns a short article in the target language followed by its
// English translation.
func (a *Assistant) WriteArticle(ctx context.Context, profile *models.UserProfile, date time.Time) (string, error) {
	d := a.dataFor(profile)
	d.Date = date.Format("January 2, 2006")
	return a.run(ctx, promptWriteArticle, d)
}

// TranslateOnly returns the bare translation of term. Results are memoized.
func (a *Assistant) TranslateOnly(ctx context.Context, term string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(term))
	if v, ok := a.memo.Get(key); ok {
		return v, nil
	}
	d := a.dataFor(nil)
	d.Term = term
	out, err := a.run(ctx, promptTranslateOnly, d)
	if err != nil {
		return "", err
	}
	a.memo.Add(key, out)
	return out, nil
}

// Distractors asks for a comma-separated list of three words easily confused with term.
func (a *Assistant) Distractors(ctx context.Context, term string) (string, error) {
	d := a.dataFor(nil)
	d.Term = term
	return a.run(ctx, promptDistractors, d)
}

// ParseList splits a comma-separated completion, trimming each item and
// dropping empty ones.
func ParseList(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
