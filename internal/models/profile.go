package models

import (
	"fmt"
	"strings"
	"time"
)

// Stage is a learner's position in the onboarding questionnaire.
// Stages are ordered and only ever move forward.
type Stage int

// Onboarding stages, in order.
const (
	StageNotStarted Stage = iota
	StageNeedName
	StageNeedLocation
	StageNeedAge
	StageNeedProficiency
	StageNeedInterests
	StageCompleted
)

var stageNames = [...]string{
	StageNotStarted:      "NOT_STARTED",
	StageNeedName:        "NEED_NAME",
	StageNeedLocation:    "NEED_LOCATION",
	StageNeedAge:         "NEED_AGE",
	StageNeedProficiency: "NEED_PROFICIENCY",
	StageNeedInterests:   "NEED_INTERESTS",
	StageCompleted:       "COMPLETED",
}

func (s Stage) String() string {
	if s < StageNotStarted || s > StageCompleted {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is one of the defined stages.
func (s Stage) Valid() bool {
	return s >= StageNotStarted && s <= StageCompleted
}

// Proficiency is the learner's self-reported language level.
type Proficiency string

const (
	ProficiencyBeginner     Proficiency = "beginner"
	ProficiencyIntermediate Proficiency = "intermediate"
	ProficiencyAdvanced     Proficiency = "advanced"
)

// ParseProficiency matches text case-insensitively against the known levels.
func ParseProficiency(text string) (Proficiency, bool) {
	switch p := Proficiency(strings.ToLower(strings.TrimSpace(text))); p {
	case ProficiencyBeginner, ProficiencyIntermediate, ProficiencyAdvanced:
		return p, true
	default:
		return "", false
	}
}

// QuizOptionCount is the number of choices shown in a quiz round.
const QuizOptionCount = 4

// QuizRound is the pending multiple-choice question for a learner.
type QuizRound struct {
	Target  string                  `json:"target"`
	Options [QuizOptionCount]string `json:"options"`
	Answer  int                     `json:"answer"` // 1-indexed position of Target in Options
}

// Validate checks that the answer key points at the target term.
func (q QuizRound) Validate() error {
	if q.Target == "" {
		return fmt.Errorf("quiz round has no target")
	}
	if q.Answer < 1 || q.Answer > QuizOptionCount {
		return fmt.Errorf("quiz answer %d out of range", q.Answer)
	}
	if q.Options[q.Answer-1] != q.Target {
		return fmt.Errorf("quiz answer %d does not point at target %q", q.Answer, q.Target)
	}
	return nil
}

// UserProfile is the durable per-phone-number learner record.
type UserProfile struct {
	Phone       string      `json:"phone"`
	Name        string      `json:"name,omitempty"`
	Location    string      `json:"location,omitempty"`
	Age         int         `json:"age,omitempty"`
	Proficiency Proficiency `json:"proficiency,omitempty"`
	Interests   []string    `json:"interests,omitempty"`
	Stage       Stage       `json:"stage"`
	QuizActive  bool        `json:"quiz_active"`
	Quiz        *QuizRound  `json:"quiz,omitempty"` // set iff QuizActive
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Onboarded reports whether the learner finished the questionnaire.
func (p *UserProfile) Onboarded() bool {
	return p.Stage == StageCompleted
}

// ProfileUpdate is a partial update of a UserProfile. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name        *string
	Location    *string
	Age         *int
	Proficiency *Proficiency
	Interests   []string
	Stage       *Stage

	// ExpectStage makes the update conditional on the stored stage.
	ExpectStage *Stage

	// StartQuiz sets quiz-active and stores the round; ClearQuiz resets both.
	StartQuiz *QuizRound
	ClearQuiz bool
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Location == nil && u.Age == nil && u.Proficiency == nil &&
		u.Interests == nil && u.Stage == nil && u.StartQuiz == nil && !u.ClearQuiz
}

// Apply copies the update onto p. It does not check ExpectStage or stage order.
func (u ProfileUpdate) Apply(p *UserProfile) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Location != nil {
		p.Location = *u.Location
	}
	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.Proficiency != nil {
		p.Proficiency = *u.Proficiency
	}
	if u.Interests != nil {
		p.Interests = append([]string(nil), u.Interests...)
	}
	if u.Stage != nil {
		p.Stage = *u.Stage
	}
	if u.StartQuiz != nil {
		round := *u.StartQuiz
		p.Quiz = &round
		p.QuizActive = true
	}
	if u.ClearQuiz {
		p.Quiz = nil
		p.QuizActive = false
	}
}
