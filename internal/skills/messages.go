package skills

import (
	"time"

	"golang.org/x/text/language"
)

// messages are the spoken texts of the built-in skills in one language.
type messages struct {
	timeLayout    string
	timeIs        string // formatted with the time
	greeting      string
	niceToMeet    string // formatted with the name
	niceToMeetNo  string
	stopped       string
	notUnderstood string
}

var catalog = map[language.Base]messages{
	mustBase("en"): {
		timeLayout:    "3:04 PM",
		timeIs:        "It is %s",
		greeting:      "Hello! What is your name?",
		niceToMeet:    "Nice to meet you, %s!",
		niceToMeetNo:  "Nice to meet you!",
		stopped:       "Okay",
		notUnderstood: "Sorry, I did not understand",
	},
	mustBase("it"): {
		timeLayout:    "15:04",
		timeIs:        "Sono le %s",
		greeting:      "Ciao! Come ti chiami?",
		niceToMeet:    "Piacere di conoscerti, %s!",
		niceToMeetNo:  "Piacere di conoscerti!",
		stopped:       "Va bene",
		notUnderstood: "Scusa, non ho capito",
	},
	mustBase("de"): {
		timeLayout:    "15:04 Uhr",
		timeIs:        "Es ist %s",
		greeting:      "Hallo! Wie heißt du?",
		niceToMeet:    "Schön, dich kennenzulernen, %s!",
		niceToMeetNo:  "Schön, dich kennenzulernen!",
		stopped:       "Okay",
		notUnderstood: "Entschuldigung, das habe ich nicht verstanden",
	},
}

// defaultTimeLayout is used for languages without a catalog entry.
const defaultTimeLayout = "15:04"

func mustBase(s string) language.Base {
	return language.MustParseBase(s)
}

// messagesFor returns the messages for the language of tag, English when
// the language has none.
func messagesFor(tag language.Tag) messages {
	base, _ := tag.Base()
	if m, ok := catalog[base]; ok {
		return m
	}
	m := catalog[mustBase("en")]
	m.timeLayout = defaultTimeLayout
	return m
}

// formatTime formats t in the layout of tag's language.
func formatTime(tag language.Tag, t time.Time) string {
	return t.Format(messagesFor(tag).timeLayout)
}
