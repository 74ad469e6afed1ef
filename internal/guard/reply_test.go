package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpretReply(t *testing.T) {
	tests := []struct {
		text string
		want Reply
	}{
		{"yes", ReplyAffirmative},
		{"YES", ReplyAffirmative},
		{"Yes, go ahead.", ReplyAffirmative},
		{"ok do it", ReplyAffirmative},
		{"please proceed with the removal", ReplyAffirmative},
		{"confirm", ReplyAffirmative},
		{"no", ReplyNegative},
		{"Nope!", ReplyNegative},
		{"cancel that", ReplyNegative},
		{"stop", ReplyNegative},
		{"never mind", ReplyNegative},
		{"don't proceed", ReplyNegative},
		{"do not do it", ReplyNegative},
		{"I don't", ReplyNegative},
		{"not sure", ReplyAmbiguous},
		{"I don't know", ReplyAmbiguous},
		{"maybe", ReplyAmbiguous},
		{"what will happen to the bookings?", ReplyAmbiguous},
		{"yes no", ReplyAmbiguous},
		{"", ReplyAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, InterpretReply(tt.text))
		})
	}
}
