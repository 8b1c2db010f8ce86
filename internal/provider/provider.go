// Package provider is the telephony boundary: placing calls, listing
// verified caller ids, and rendering the TwiML returned to callbacks.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Client places outbound calls through a telephony provider.
type Client interface {
	// PlaceCall starts a call to `to` whose live script is fetched from
	// callbackURL. It returns the provider's call id.
	PlaceCall(ctx context.Context, to, callbackURL string) (string, error)
	// ListVerifiedNumbers returns caller ids the account may dial on a
	// trial plan.
	ListVerifiedNumbers(ctx context.Context) ([]string, error)
}

// CodeUnverifiedNumber is Twilio's error code for a trial account dialing a
// number that has not been verified.
const CodeUnverifiedNumber = 21219

// VerifyURL is where operators verify caller ids for a trial account.
const VerifyURL = "https://console.twilio.com/us1/develop/phone-numbers/manage/verified"

// CallPlacementError reports that the provider rejected or failed a call.
type CallPlacementError struct {
	To         string
	Code       int
	Message    string
	Unverified bool
	Err        error
}

func (e *CallPlacementError) Error() string {
	if e.Unverified {
		return fmt.Sprintf("provider: %s is not verified for this trial account; verify it at %s", e.To, VerifyURL)
	}
	if e.Code != 0 {
		return fmt.Sprintf("provider: call %s: %d %s", e.To, e.Code, e.Message)
	}
	return fmt.Sprintf("provider: call %s: %s", e.To, e.Message)
}

func (e *CallPlacementError) Unwrap() error { return e.Err }

// isUnverified reports whether a provider rejection is about an unverified
// destination.
func isUnverified(code int, msg string) bool {
	return code == CodeUnverifiedNumber || strings.Contains(strings.ToLower(msg), "unverified")
}

// NewPlacementError classifies a provider failure for destination to.
func NewPlacementError(to string, code int, msg string, err error) *CallPlacementError {
	return &CallPlacementError{
		To:         to,
		Code:       code,
		Message:    msg,
		Unverified: isUnverified(code, msg),
		Err:        err,
	}
}
