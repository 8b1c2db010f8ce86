package provider

import (
	"fmt"
	"strconv"

	"github.com/twilio/twilio-go/twiml"
)

// ScriptOpts controls the answer-phase voice script.
type ScriptOpts struct {
	Company         string
	Voice           string
	RecordMaxLength int
}

// AnswerScript renders the TwiML played when the contact picks up: the
// delivery prompt, then a recording whose result is posted to recordingURL.
func AnswerScript(opts ScriptOpts, recordingURL string) (string, error) {
	maxLength := opts.RecordMaxLength
	if maxLength <= 0 {
		maxLength = 30
	}
	prompt := fmt.Sprintf("Hello, I am calling on behalf of %s. "+
		"We are delivering your courier today. At what time will you be available? "+
		"Please state your preferred time or any delivery instructions after the beep.", opts.Company)

	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: prompt, Voice: opts.Voice},
		&twiml.VoiceRecord{Action: recordingURL, MaxLength: strconv.Itoa(maxLength)},
	})
	if err != nil {
		return "", fmt.Errorf("provider: render answer script: %w", err)
	}
	return doc, nil
}

// AckScript renders the closing acknowledgment for a recording callback.
func AckScript() (string, error) {
	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: "Thank you. Your response has been recorded. Goodbye!"},
	})
	if err != nil {
		return "", fmt.Errorf("provider: render ack script: %w", err)
	}
	return doc, nil
}
