// Package identity resolves the process-wide instance identity used as the
// desync seed. It is read once at startup and never mutated.
package identity

import (
	"errors"
	"os"
	"strings"
)

// Identity distinguishes this process from its siblings. Two instances of the
// same service on different hosts (or two services on one host) get different
// desync splays because App/Host feed the stable hash.
type Identity struct {
	App  string
	Host string
}

// Resolve builds the identity from config values. App is required. Host falls
// back to $HOSTNAME, then os.Hostname(), then "unknown".
func Resolve(app, host string) (Identity, error) {
	app = strings.TrimSpace(app)
	if app == "" {
		return Identity{}, errors.New("identity: application name is required")
	}
	host = strings.TrimSpace(host)
	if host == "" {
		host = strings.TrimSpace(os.Getenv("HOSTNAME"))
	}
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = strings.TrimSpace(h)
		}
	}
	if host == "" {
		host = "unknown"
	}
	return Identity{App: app, Host: host}, nil
}
