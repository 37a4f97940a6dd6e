package push_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	push "github.com/jgaa/go-push"
)

// writeServiceAccount produces a credential file whose token endpoint points
// at the given test server.
func writeServiceAccount(t *testing.T, tokenURL string) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	account := map[string]string{
		"type":           "service_account",
		"project_id":     "demo-project",
		"private_key_id": "key-1",
		"private_key":    string(pemKey),
		"client_email":   "pusher@demo-project.iam.gserviceaccount.com",
		"client_id":      "1234567890",
		"auth_uri":       "https://accounts.google.com/o/oauth2/auth",
		"token_uri":      tokenURL,
	}
	raw, err := json.Marshal(account)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "service-account.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"test-bearer","expires_in":3600}`))
	}))
	t.Cleanup(server.Close)
	return server
}

// fcmRecorder is a fake FCM endpoint that records request bodies and fails
// from a configurable request number on.
type fcmRecorder struct {
	mu       sync.Mutex
	bodies   []string
	bearers  []string
	failFrom int // 1-based request number; 0 never fails
}

func (f *fcmRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.bearers = append(f.bearers, r.Header.Get("Authorization"))
		n := len(f.bodies)
		f.mu.Unlock()

		if f.failFrom > 0 && n >= f.failFrom {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"status":"INVALID_ARGUMENT"}}`))
			return
		}
		w.Write([]byte(`{"name":"projects/demo-project/messages/1"}`))
	}
}

func (f *fcmRecorder) recorded() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.bodies...), append([]string{}, f.bearers...)
}

func newReadyPusher(t *testing.T, recorder *fcmRecorder) push.Pusher {
	t.Helper()

	tokenServer := newTokenServer(t)
	fcmServer := httptest.NewServer(recorder.handler())
	t.Cleanup(fcmServer.Close)

	pusher, err := push.NewGooglePusher(push.Config{
		CredentialsFile: writeServiceAccount(t, tokenServer.URL),
		Endpoint:        fcmServer.URL,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pusher.Stop(ctx)
	})

	require.Eventually(t, pusher.IsReady, 5*time.Second, 10*time.Millisecond)
	return pusher
}

func TestPushAllRecipients(t *testing.T) {
	recorder := &fcmRecorder{}
	pusher := newReadyPusher(t, recorder)

	res := pusher.Push(context.Background(), push.Message{
		To:   []string{"device-1", "device-2", "device-3"},
		Data: map[string]string{"k": "v"},
	})

	require.True(t, res.OK)
	require.Empty(t, res.Message)
	require.Equal(t, 3, res.SuccessCount)

	bodies, bearers := recorder.recorded()
	require.Len(t, bodies, 3)
	for _, bearer := range bearers {
		require.Equal(t, "Bearer test-bearer", bearer)
	}
	for i, body := range bodies {
		require.Contains(t, body, fmt.Sprintf(`"token":"device-%d"`, i+1))
	}
}

func TestPushShortCircuitsOnFirstFailure(t *testing.T) {
	recorder := &fcmRecorder{failFrom: 3}
	pusher := newReadyPusher(t, recorder)

	res := pusher.Push(context.Background(), push.Message{
		To: []string{"device-1", "device-2", "device-3", "device-4"},
	})

	require.False(t, res.OK)
	require.Equal(t, 2, res.SuccessCount)
	require.Contains(t, res.Message, "status=400")

	// The remaining recipient is never attempted.
	bodies, _ := recorder.recorded()
	require.Len(t, bodies, 3)
}

func TestPushEmptyRecipients(t *testing.T) {
	recorder := &fcmRecorder{}
	pusher := newReadyPusher(t, recorder)

	res := pusher.Push(context.Background(), push.Message{})
	require.False(t, res.OK)
	require.Zero(t, res.SuccessCount)
	require.Contains(t, res.Message, "no recipients")
}

func TestPushWhileNotReady(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(tokenServer.Close)

	pusher, err := push.NewGooglePusher(push.Config{
		CredentialsFile: writeServiceAccount(t, tokenServer.URL),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pusher.Stop(ctx)
	})

	res := pusher.Push(context.Background(), push.Message{To: []string{"device-1"}})
	require.False(t, res.OK)
	require.Zero(t, res.SuccessCount)
	require.Contains(t, res.Message, "not ready")
}

func TestPushCancelledMidFanout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var once sync.Once
	blocking := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "" && !containsToken(string(body), "device-1") {
			// Second recipient: cancel the caller and stall until it gives up.
			once.Do(cancel)
			<-r.Context().Done()
			return
		}
		w.Write([]byte(`{"name":"projects/demo-project/messages/1"}`))
	}))
	t.Cleanup(blocking.Close)

	tokenServer := newTokenServer(t)
	pusher, err := push.NewGooglePusher(push.Config{
		CredentialsFile: writeServiceAccount(t, tokenServer.URL),
		Endpoint:        blocking.URL,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = pusher.Stop(stopCtx)
	})
	require.Eventually(t, pusher.IsReady, 5*time.Second, 10*time.Millisecond)

	res := pusher.Push(ctx, push.Message{To: []string{"device-1", "device-2", "device-3"}})
	require.False(t, res.OK)
	require.Equal(t, 1, res.SuccessCount)
}

func containsToken(body, token string) bool {
	return strings.Contains(body, `"token":"`+token+`"`)
}

func TestStopIsIdempotentThroughPusher(t *testing.T) {
	recorder := &fcmRecorder{}
	pusher := newReadyPusher(t, recorder)

	ctx := context.Background()
	require.NoError(t, pusher.Stop(ctx))
	require.NoError(t, pusher.Stop(ctx))
	require.False(t, pusher.IsReady())
}
