package dispatch

import "fmt"

// ConfigurationError reports a pass that cannot start: no callback base URL,
// or no provider credentials. Nothing has been placed when it is returned.
type ConfigurationError struct {
	Field string // "base_url" or "credentials"
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("dispatch: configuration: %s", e.Msg)
}

// MissingBaseURL reports whether the error is about the callback base URL.
func (e *ConfigurationError) MissingBaseURL() bool {
	return e.Field == "base_url"
}
