package provider

import (
	"context"
	"sync"
)

// FakeCall is one call placed through Fake.
type FakeCall struct {
	To          string
	CallbackURL string
}

// Fake is an in-memory Client for tests and dry runs. Numbers present in
// Fail are rejected with the mapped error.
type Fake struct {
	mu       sync.Mutex
	Calls    []FakeCall
	Fail     map[string]error
	Verified []string
}

// PlaceCall records the call, or returns the configured failure.
func (f *Fake) PlaceCall(_ context.Context, to, callbackURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, FakeCall{To: to, CallbackURL: callbackURL})
	if err, ok := f.Fail[to]; ok {
		return "", err
	}
	return "CA" + to, nil
}

// ListVerifiedNumbers returns Verified.
func (f *Fake) ListVerifiedNumbers(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Verified...), nil
}

// Placed returns a copy of the calls placed so far.
func (f *Fake) Placed() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.Calls...)
}
