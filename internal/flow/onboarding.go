package flow

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/Palabra/internal/assistant"
	"github.com/BTreeMap/Palabra/internal/models"
)

// Transition is the outcome of feeding one inbound message to the onboarding
// machine. Update already carries the next stage and an ExpectStage guard for
// the stage the decision was made against.
type Transition struct {
	Next     models.Stage
	Reply    string
	Update   models.ProfileUpdate
	Consumed bool // text was accepted as the answer to the current question
}

// Advanced reports whether the transition moves the learner forward.
func (t Transition) Advanced() bool {
	return !t.Update.Empty()
}

// onboardingStep describes how one stage collects its field.
type onboardingStep struct {
	prompt  string
	invalid string
	// validate parses text and writes the accepted value into the update.
	validate func(text string, u *models.ProfileUpdate) bool
}

var onboardingSteps = map[models.Stage]onboardingStep{
	models.StageNeedName: {
		prompt:  MsgAskName,
		invalid: MsgInvalidName,
		validate: func(text string, u *models.ProfileUpdate) bool {
			if text == "" {
				return false
			}
			u.Name = &text
			return true
		},
	},
	models.StageNeedLocation: {
		prompt:  MsgAskLocation,
		invalid: MsgInvalidLocation,
		validate: func(text string, u *models.ProfileUpdate) bool {
			if text == "" {
				return false
			}
			u.Location = &text
			return true
		},
	},
	models.StageNeedAge: {
		prompt:  MsgAskAge,
		invalid: MsgInvalidAge,
		validate: func(text string, u *models.ProfileUpdate) bool {
			age, err := strconv.Atoi(text)
			if err != nil || age <= 0 {
				return false
			}
			u.Age = &age
			return true
		},
	},
	models.StageNeedProficiency: {
		prompt:  MsgAskProficiency,
		invalid: MsgInvalidProficiency,
		validate: func(text string, u *models.ProfileUpdate) bool {
			p, ok := models.ParseProficiency(text)
			if !ok {
				return false
			}
			u.Proficiency = &p
			return true
		},
	},
	models.StageNeedInterests: {
		prompt:  MsgAskInterests,
		invalid: MsgInvalidInterests,
		validate: func(text string, u *models.ProfileUpdate) bool {
			tags := assistant.ParseList(text)
			if len(tags) == 0 {
				return false
			}
			u.Interests = tags
			return true
		},
	},
}

// PromptFor returns the question asked at stage, or the main menu once onboarding is done.
func PromptFor(stage models.Stage) string {
	if stage == models.StageNotStarted {
		return MsgWelcome + "\n" + MsgAskName
	}
	if step, ok := onboardingSteps[stage]; ok {
		return step.prompt
	}
	return MainMenu
}

// Advance decides what to do with text given the learner's stored stage. It is
// pure: the same stage and text always produce the same Transition.
//
// At NOT_STARTED the text is not consumed; the learner is greeted and moved to
// NEED_NAME. At a collecting stage the text is validated for that stage's field;
// invalid input re-prompts and leaves the stage alone.
func Advance(stored models.Stage, text string) Transition {
	expect := stored
	if stored == models.StageNotStarted {
		next := models.StageNeedName
		return Transition{
			Next:   next,
			Reply:  PromptFor(models.StageNotStarted),
			Update: models.ProfileUpdate{Stage: &next, ExpectStage: &expect},
		}
	}

	step, ok := onboardingSteps[stored]
	if !ok {
		// COMPLETED or unknown: nothing to collect.
		return Transition{Next: stored, Reply: MainMenu}
	}

	text = strings.TrimSpace(text)
	var update models.ProfileUpdate
	if !step.validate(text, &update) {
		return Transition{Next: stored, Reply: step.invalid}
	}

	next := stored + 1
	update.Stage = &next
	update.ExpectStage = &expect
	t := Transition{Next: next, Update: update, Consumed: true}
	if next == models.StageCompleted {
		t.Reply = MsgOnboardingDone + "\n\n" + MainMenu
	} else {
		t.Reply = onboardingSteps[next].prompt
	}
	return t
}
