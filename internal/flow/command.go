package flow

import "strings"

// CommandKind identifies a post-onboarding command.
type CommandKind int

const (
	CmdUnrecognized CommandKind = iota
	CmdMainMenu
	CmdLearn
	CmdSuggest
	CmdQuiz
	CmdArticle
	CmdDeleteAccount
)

func (k CommandKind) String() string {
	switch k {
	case CmdMainMenu:
		return "main menu"
	case CmdLearn:
		return "learn"
	case CmdSuggest:
		return "suggest"
	case CmdQuiz:
		return "quiz"
	case CmdArticle:
		return "article"
	case CmdDeleteAccount:
		return "delete account"
	default:
		return "unrecognized"
	}
}

// Command is a parsed inbound message. Arg is set only for CmdLearn.
type Command struct {
	Kind CommandKind
	Arg  string
}

const learnPrefix = "learn "

var exactCommands = map[string]CommandKind{
	"main menu":      CmdMainMenu,
	"suggest":        CmdSuggest,
	"quiz":           CmdQuiz,
	"article":        CmdArticle,
	"delete account": CmdDeleteAccount,
}

// ParseCommand classifies text. Matching is case-insensitive on the trimmed
// text; "learn " is a prefix whose remainder, trimmed, is the term.
func ParseCommand(text string) Command {
	norm := strings.ToLower(strings.TrimSpace(text))
	if kind, ok := exactCommands[norm]; ok {
		return Command{Kind: kind}
	}
	if strings.HasPrefix(norm, learnPrefix) {
		if arg := strings.TrimSpace(norm[len(learnPrefix):]); arg != "" {
			return Command{Kind: CmdLearn, Arg: arg}
		}
	}
	return Command{Kind: CmdUnrecognized}
}
