package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAvailableProviders is returned when every provider is blocked or over quota.
	// The caller owns backoff.
	ErrNoAvailableProviders = errors.New("no available providers")

	// ErrUnknownProvider is returned by Probe for a name the manager does not hold.
	ErrUnknownProvider = errors.New("unknown provider")
)

// RequestFailedError reports a transport failure on the selected provider.
// The provider has already been blocked when this error is returned.
type RequestFailedError struct {
	Provider string
	Proxy    string
	Err      error
}

func (e *RequestFailedError) Error() string {
	if e.Proxy != "" {
		return fmt.Sprintf("request via provider %s (proxy %s) failed: %v", e.Provider, e.Proxy, e.Err)
	}
	return fmt.Sprintf("request via provider %s failed: %v", e.Provider, e.Err)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// ProviderBlockedError is returned by Probe when the named provider is not available.
type ProviderBlockedError struct {
	Provider string
}

func (e *ProviderBlockedError) Error() string {
	return fmt.Sprintf("provider %s is blocked or over quota", e.Provider)
}

// ProxyError is returned by Probe when the request failed through a proxy.
// The proxy has already been blocked when this error is returned.
type ProxyError struct {
	Proxy  string
	Reason string
	Err    error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s: %s", e.Proxy, e.Reason)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}
