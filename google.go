package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jgaa/go-push/internal/credential"
	"github.com/jgaa/go-push/internal/jwt"
	"github.com/jgaa/go-push/internal/metrics"
	"github.com/jgaa/go-push/internal/oauth"
	"github.com/jgaa/go-push/internal/token"
)

// googlePusher sends through the FCM HTTP v1 API.
type googlePusher struct {
	account    credential.ServiceAccount
	manager    *token.Manager
	httpClient *http.Client
	sendURL    string
	logger     *zap.Logger
}

func newGooglePusher(cfg Config, logger *zap.Logger) (*googlePusher, error) {
	account, err := credential.Load(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	logger.Info("service account loaded", zap.String("project_id", account.ProjectID))

	signer := jwt.NewSigner(account, cfg.TokenTTL)
	exchanger := oauth.NewHTTPExchanger(cfg.HTTPClient, account.TokenURI)
	manager := token.NewManager(signer, exchanger, token.Options{
		RefreshMargin: cfg.RefreshMargin,
		Logger:        logger,
	})
	manager.Run()

	return &googlePusher{
		account:    account,
		manager:    manager,
		httpClient: cfg.HTTPClient,
		sendURL:    strings.TrimSuffix(cfg.Endpoint, "/") + "/v1/projects/" + account.ProjectID + "/messages:send",
		logger:     logger,
	}, nil
}

func (p *googlePusher) IsReady() bool {
	return p.manager.IsReady()
}

func (p *googlePusher) Stop(ctx context.Context) error {
	return p.manager.Stop(ctx)
}

// Push fans the message out to its recipients in order, one request at a
// time, and short-circuits on the first failure. The token snapshot is taken
// once at call start; an in-flight push never re-reads it.
func (p *googlePusher) Push(ctx context.Context, msg Message) Result {
	if len(msg.To) == 0 {
		metrics.PushMessagesTotal.WithLabelValues("error").Inc()
		return failure("no recipients in message", 0)
	}
	if !p.manager.IsReady() {
		metrics.PushMessagesTotal.WithLabelValues("not_ready").Inc()
		return failure(fmt.Sprintf("pusher is not ready (state %s)", p.manager.State()), 0)
	}
	tok, ok := p.manager.Token()
	if !ok {
		metrics.PushMessagesTotal.WithLabelValues("not_ready").Inc()
		return failure("no access token available", 0)
	}

	reached := 0
	for _, recipient := range msg.To {
		if err := p.send(ctx, recipient, msg, tok.AccessToken); err != nil {
			metrics.PushRequestsTotal.WithLabelValues("error").Inc()
			metrics.PushMessagesTotal.WithLabelValues("error").Inc()
			p.logger.Warn("push send failed",
				zap.Int("reached", reached),
				zap.Int("recipients", len(msg.To)),
				zap.Error(err))
			return failure(err.Error(), reached)
		}
		metrics.PushRequestsTotal.WithLabelValues("ok").Inc()
		reached++
	}

	metrics.PushMessagesTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("push delivered", zap.Int("recipients", reached))
	return success(reached)
}

type fcmRequest struct {
	ValidateOnly bool       `json:"validate_only,omitempty"`
	Message      fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Data         map[string]string `json:"data,omitempty"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Android      *fcmAndroid       `json:"android,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type fcmAndroid struct {
	Priority     string          `json:"priority,omitempty"`
	TTL          string          `json:"ttl,omitempty"`
	Notification *fcmAndroidHint `json:"notification,omitempty"`
}

type fcmAndroidHint struct {
	Sound string `json:"sound,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// buildRequest constructs the provider request body for one recipient.
func buildRequest(recipient string, msg Message) fcmRequest {
	out := fcmMessage{Token: recipient}
	if len(msg.Data) > 0 {
		out.Data = msg.Data
	}
	if n := msg.Notification; n != nil && (n.Title != "" || n.Body != "") {
		out.Notification = &fcmNotification{Title: n.Title, Body: n.Body}
	}

	android := &fcmAndroid{Priority: string(msg.priority())}
	if msg.TTL > 0 {
		android.TTL = fmt.Sprintf("%ds", int64(msg.TTL.Seconds()))
	}
	if n := msg.Notification; n != nil && (n.Sound != "" || n.Icon != "") {
		android.Notification = &fcmAndroidHint{Sound: n.Sound, Icon: n.Icon}
	}
	out.Android = android

	return fcmRequest{ValidateOnly: msg.DryRun, Message: out}
}

func (p *googlePusher) send(ctx context.Context, recipient string, msg Message, bearer string) error {
	body, err := json.Marshal(buildRequest(recipient, msg))
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("send rejected: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(detail)))
}
