package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioAPI abstracts the Twilio REST methods we use, enabling test mocks.
type twilioAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	ListOutgoingCallerId(params *openapi.ListOutgoingCallerIdParams) ([]openapi.ApiV2010OutgoingCallerId, error)
}

// TwilioOpts holds the account credentials and caller id.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Twilio implements Client against the Twilio REST API.
type Twilio struct {
	api  twilioAPI
	from string
}

// NewTwilio creates a Twilio client. Credentials are not checked until the
// first request.
func NewTwilio(opts TwilioOpts) (*Twilio, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" {
		return nil, errors.New("provider: twilio account sid and auth token are required")
	}
	if opts.From == "" {
		return nil, errors.New("provider: twilio phone number is required")
	}
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return &Twilio{api: rc.Api, from: opts.From}, nil
}

// PlaceCall creates a call that fetches its TwiML from callbackURL via POST.
func (t *Twilio) PlaceCall(ctx context.Context, to, callbackURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetUrl(callbackURL)
	params.SetMethod(http.MethodPost)

	call, err := t.api.CreateCall(params)
	if err != nil {
		return "", classify(to, err)
	}
	if call == nil || call.Sid == nil {
		return "", nil
	}
	return *call.Sid, nil
}

// ListVerifiedNumbers returns the account's outgoing caller ids.
func (t *Twilio) ListVerifiedNumbers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := t.api.ListOutgoingCallerId(&openapi.ListOutgoingCallerIdParams{})
	if err != nil {
		return nil, fmt.Errorf("provider: list verified numbers: %w", err)
	}
	numbers := make([]string, 0, len(ids))
	for _, id := range ids {
		if id.PhoneNumber != nil {
			numbers = append(numbers, *id.PhoneNumber)
		}
	}
	return numbers, nil
}

func classify(to string, err error) *CallPlacementError {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		return NewPlacementError(to, restErr.Code, restErr.Message, err)
	}
	return NewPlacementError(to, 0, err.Error(), err)
}
