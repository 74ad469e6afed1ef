package guard

import (
	"strings"
	"unicode"
)

// Reply is the interpretation of an operator's answer to a confirmation prompt.
type Reply int

const (
	ReplyAmbiguous Reply = iota
	ReplyAffirmative
	ReplyNegative
)

func (r Reply) String() string {
	switch r {
	case ReplyAffirmative:
		return "affirmative"
	case ReplyNegative:
		return "negative"
	default:
		return "ambiguous"
	}
}

var (
	affirmativeWords = map[string]bool{
		"yes": true, "y": true, "yep": true, "yeah": true, "yup": true,
		"confirm": true, "confirmed": true, "proceed": true, "ok": true, "okay": true,
		"sure": true, "approve": true, "approved": true,
	}
	negativeWords = map[string]bool{
		"no": true, "n": true, "nope": true, "nah": true, "cancel": true,
		"abort": true, "stop": true, "reject": true,
	}
	affirmativePhrases = []string{"go ahead", "do it"}
	negativePhrases    = []string{"never mind", "nevermind", "hold on"}
	negators           = map[string]bool{"not": true, "dont": true, "never": true}
)

func words(text string) []string {
	text = strings.ToLower(strings.ReplaceAll(text, "'", ""))
	text = strings.ReplaceAll(text, "’", "")
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// InterpretReply matches text against closed yes/no vocabularies. Case and
// surrounding words are ignored; a negator directly before an affirmative
// word makes it negative. Mixed or absent signals are ambiguous.
func InterpretReply(text string) Reply {
	ws := words(text)
	var yes, no int
	negated := false

	for i := 0; i < len(ws); i++ {
		if i+1 < len(ws) {
			pair := ws[i] + " " + ws[i+1]
			switch {
			case contains(negativePhrases, pair):
				no++
				negated = false
				i++
				continue
			case contains(affirmativePhrases, pair):
				if negated {
					no++
				} else {
					yes++
				}
				negated = false
				i++
				continue
			}
		}

		w := ws[i]
		switch {
		case negators[w]:
			negated = true
			// A trailing "don't" is a refusal on its own.
			if w == "dont" && i+1 == len(ws) {
				no++
				negated = false
			}
			continue
		case affirmativeWords[w]:
			if negated {
				// "not sure" is doubt, not refusal.
				if w != "sure" {
					no++
				}
			} else {
				yes++
			}
		case negativeWords[w]:
			no++
		}
		negated = false
	}

	switch {
	case yes > 0 && no == 0:
		return ReplyAffirmative
	case no > 0 && yes == 0:
		return ReplyNegative
	default:
		return ReplyAmbiguous
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
