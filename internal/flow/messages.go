package flow

// Reply texts. Kept short: they are read on a phone.
const (
	MsgWelcome = "Hi! I'm Palabra, your vocabulary coach. Let's set up your profile."

	MsgAskName        = "What's your name?"
	MsgAskLocation    = "Where do you live?"
	MsgAskAge         = "How old are you? Please reply with a number."
	MsgAskProficiency = "What's your current level? Reply beginner, intermediate or advanced."
	MsgAskInterests   = "What are you interested in? Send a comma separated list, e.g. music, travel, cooking."

	MsgInvalidName        = "Please tell me your name."
	MsgInvalidLocation    = "Please tell me where you live."
	MsgInvalidAge         = "Sorry, I didn't get that. Please reply with your age as a whole number, e.g. 27."
	MsgInvalidProficiency = "Please reply with one of: beginner, intermediate, advanced."
	MsgInvalidInterests   = "Please send at least one interest, separated by commas."

	MsgOnboardingDone = "Thanks! You're all set."

	MainMenu = "Main menu:\n" +
		"- learn <word>: translate and explain a word or phrase\n" +
		"- suggest: get new words picked for you\n" +
		"- quiz: test yourself on words you've learned\n" +
		"- article: read a short article at your level\n" +
		"- delete account: erase your profile and history\n" +
		"- main menu: show this list"

	MsgUnrecognized = "Sorry, I didn't understand that. Text 'main menu' to see what I can do."

	MsgGenericError = "Sorry, something went wrong. Please try again later."
	MsgLookupFailed = "Sorry, I couldn't look that up right now. Please try again later."

	MsgSuggestHeader = "Here are some words to learn next: %s\nText 'learn <word>' to study one."

	MsgAccountDeleted = "Your account and learning history have been deleted. Send any message to start over."

	MsgQuizNotEligible = "You need at least %d learned words to take a quiz. Text 'learn <word>' to add more."
	MsgQuizQuestion    = "Which English word means \"%s\"?\n%s\nReply with 1, 2, 3 or 4."
	MsgQuizReprompt    = "Please answer the quiz with 1, 2, 3 or 4."
	MsgQuizCorrect     = "Correct!"
	MsgQuizIncorrect   = "Incorrect. The correct answer was %d (%s)."

	MsgReviewReminder = "Time to review: %s. Text 'quiz' to test yourself."
)
