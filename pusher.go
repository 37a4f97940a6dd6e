// Package push delivers push notifications to mobile devices through
// Firebase Cloud Messaging, authenticating with a service-account credential.
//
// One Pusher instance serves a whole application: it keeps a short-lived
// access token continuously valid in the background and can handle any number
// of concurrent Push calls.
package push

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultEndpoint is the production FCM HTTP v1 endpoint.
const DefaultEndpoint = "https://fcm.googleapis.com"

const (
	DefaultTokenTTL      = 45 * time.Minute
	DefaultRefreshMargin = 3 * time.Minute
)

// Pusher pushes messages to a remote provider.
//
// Push tries to deliver immediately and reports failure in the Result if that
// is not possible; there is no queueing of undeliverable messages.
type Pusher interface {
	// Push delivers one message to all its recipients. Delivery errors are
	// reported in the Result, never as a panic or error past the call.
	Push(ctx context.Context, msg Message) Result
	// IsReady reports whether the pusher holds a valid access token.
	// Non-blocking, safe from any goroutine.
	IsReady() bool
	// Stop shuts down the background token refresh. Idempotent; returns
	// once the background work has fully terminated.
	Stop(ctx context.Context) error
}

// Config configures a Google pusher.
type Config struct {
	// CredentialsFile is the path to the service-account JSON file
	// downloaded from the Firebase console. Required.
	CredentialsFile string
	// TokenTTL is the requested lifetime of each signed assertion.
	// Defaults to 45 minutes.
	TokenTTL time.Duration
	// RefreshMargin is how long before expiry the access token is
	// proactively refreshed. Defaults to 3 minutes.
	RefreshMargin time.Duration
	// Endpoint overrides the FCM endpoint, for tests.
	Endpoint string
	// HTTPClient overrides the transport used for both the token exchange
	// and message sends.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = DefaultRefreshMargin
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return c
}

// NewGooglePusher loads the credential, starts the background token refresh
// and returns a ready-to-use Pusher. A bad credential file is fatal: no
// partial pusher is ever returned. Poll IsReady before the first Push.
func NewGooglePusher(cfg Config, logger *zap.Logger) (Pusher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newGooglePusher(cfg.withDefaults(), logger)
}
