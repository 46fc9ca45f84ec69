package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-account-tokens/internal/application/account"
	"github.com/go-account-tokens/internal/application/tokens"
	"github.com/go-account-tokens/internal/config"
	"github.com/go-account-tokens/internal/domain"
	jwtinfra "github.com/go-account-tokens/internal/infrastructure/jwt"
	"github.com/go-account-tokens/internal/infrastructure/memory"
	"github.com/go-account-tokens/internal/pkg/clock"
	"github.com/go-account-tokens/internal/pkg/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const linkHost = "http://test"

type outbox struct {
	mu    sync.Mutex
	links map[domain.Purpose]string
}

func (o *outbox) SendLink(_ context.Context, _ string, purpose domain.Purpose, link string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.links[purpose] = link
	return nil
}

func (o *outbox) last(p domain.Purpose) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.links[p]
}

type testServer struct {
	srv    *httptest.Server
	outbox *outbox
	clock  *clock.Fake
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	users := memory.NewUserStore()
	box := &outbox{links: map[domain.Purpose]string{}}
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	tokenSvc := tokens.NewService(tokens.ServiceDeps{
		Store:    memory.NewTokenStore(),
		Users:    users,
		Notifier: box,
		Codec:    token.NewCodec(bcrypt.MinCost),
		Clock:    clk,
		TTL: map[domain.Purpose]time.Duration{
			domain.PurposeEmailVerification: 6 * time.Hour,
			domain.PurposePasswordReset:      time.Hour,
		},
		LinkBase: map[domain.Purpose]string{
			domain.PurposeEmailVerification: linkHost + "/user/verify",
			domain.PurposePasswordReset:      linkHost + "/reset",
		},
	})

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer := jwtinfra.NewProviderFromKeys(key, &key.PublicKey, time.Hour)

	reg := prometheus.NewRegistry()
	tokens.RegisterMetrics(reg)

	acct := account.NewService(account.ServiceDeps{
		Tokens:     tokenSvc,
		Users:      users,
		Signer:     signer,
		Clock:      clk,
		BcryptCost: bcrypt.MinCost,
	})
	cfg := &config.Config{AllowedOrigins: []string{"*"}, SigninRatePerHour: 3, SensitiveRatePerHour: 10}
	for _, o := range opts {
		o(cfg)
	}
	h := NewRouter(ctx, cfg, &Deps{Account: acct, Verifier: signer, Metrics: reg})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, outbox: box, clock: clk}
}

func (ts *testServer) noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func (ts *testServer) postJSON(t *testing.T, path string, v interface{}) (int, domain.Result) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	var res domain.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

func (ts *testServer) postWithForwardedFor(t *testing.T, path, xff string, v interface{}) int {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", xff)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

// follow requests the path part of an emailed link.
func (ts *testServer) follow(t *testing.T, link string) *http.Response {
	t.Helper()
	require.True(t, strings.HasPrefix(link, linkHost), link)
	resp, err := ts.noRedirectClient().Get(ts.srv.URL + strings.TrimPrefix(link, linkHost))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func signupReq() domain.SignupRequest {
	return domain.SignupRequest{
		Name:        "Ada Lovelace",
		Email:       "ada@example.com",
		Username:    "ada",
		Password:    "Str0ng!pass",
		DateOfBirth: "1990-12-10",
	}
}

func TestRouter_HealthCheck(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/health-check/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_SignupVerifySigninFlow(t *testing.T) {
	ts := newTestServer(t)

	code, res := ts.postJSON(t, "/user/signup", signupReq())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.StatusPending, res.Status)

	link := ts.outbox.last(domain.PurposeEmailVerification)
	require.NotEmpty(t, link)

	resp := ts.follow(t, link)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/user/verified", resp.Header.Get("Location"))

	// single use
	resp = ts.follow(t, link)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "error=true")

	code, res = ts.postJSON(t, "/user/signin", domain.SigninRequest{Email: "ada@example.com", Password: "Str0ng!pass"})
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, res.Bearer)
}

func TestRouter_ExpiredVerificationLink(t *testing.T) {
	ts := newTestServer(t)
	ts.postJSON(t, "/user/signup", signupReq())
	link := ts.outbox.last(domain.PurposeEmailVerification)

	ts.clock.Advance(6*time.Hour + time.Second)
	resp := ts.follow(t, link)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "expired")

	code, _ := ts.postJSON(t, "/user/signin", domain.SigninRequest{Email: "ada@example.com", Password: "Str0ng!pass"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRouter_PasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.postJSON(t, "/user/signup", signupReq())
	ts.follow(t, ts.outbox.last(domain.PurposeEmailVerification))

	code, res := ts.postJSON(t, "/user/forgotpassword", domain.ForgotPasswordRequest{Email: "ada@example.com"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.StatusPending, res.Status)

	link := strings.TrimPrefix(ts.outbox.last(domain.PurposePasswordReset), linkHost+"/reset/")
	parts := strings.Split(link, "/")
	require.Len(t, parts, 2)

	reset := domain.ResetPasswordRequest{UserID: parts[0], PasswordResetString: parts[1] + "x", NewPassword: "N3w!passwd"}
	code, _ = ts.postJSON(t, "/user/resetpassword", reset)
	assert.Equal(t, http.StatusBadRequest, code)

	reset.PasswordResetString = parts[1]
	code, res = ts.postJSON(t, "/user/resetpassword", reset)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.StatusSuccess, res.Status)

	code, _ = ts.postJSON(t, "/user/resetpassword", reset)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.postJSON(t, "/user/signin", domain.SigninRequest{Email: "ada@example.com", Password: "N3w!passwd"})
	assert.Equal(t, http.StatusOK, code)
}

func TestRouter_SigninRateLimited(t *testing.T) {
	ts := newTestServer(t)
	req := domain.SigninRequest{Email: "nobody@example.com", Password: "x"}
	for i := 0; i < 3; i++ {
		code, _ := ts.postJSON(t, "/user/signin", req)
		require.Equal(t, http.StatusUnauthorized, code)
	}
	code, res := ts.postJSON(t, "/user/signin", req)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, domain.StatusFailed, res.Status)
}

func TestRouter_SigninRotatingForwardedForStillLimited(t *testing.T) {
	ts := newTestServer(t)
	req := domain.SigninRequest{Email: "nobody@example.com", Password: "x"}
	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		codes = append(codes, ts.postWithForwardedFor(t, "/user/signin", fmt.Sprintf("198.51.100.%d", i), req))
	}
	assert.Equal(t, []int{
		http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized,
		http.StatusTooManyRequests, http.StatusTooManyRequests,
	}, codes)
}

func TestRouter_TrustedProxyHeadersSeparateClients(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.SigninRatePerHour = 1
		c.TrustProxyHeaders = true
	})
	req := domain.SigninRequest{Email: "nobody@example.com", Password: "x"}
	assert.Equal(t, http.StatusUnauthorized, ts.postWithForwardedFor(t, "/user/signin", "198.51.100.1", req))
	assert.Equal(t, http.StatusUnauthorized, ts.postWithForwardedFor(t, "/user/signin", "198.51.100.2", req))
	assert.Equal(t, http.StatusTooManyRequests, ts.postWithForwardedFor(t, "/user/signin", "198.51.100.1", req))
}

func TestRouter_SensitiveRoutesRateLimited(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.SensitiveRatePerHour = 2 })

	for i := 0; i < 2; i++ {
		code, _ := ts.postJSON(t, "/user/forgotpassword", domain.ForgotPasswordRequest{Email: "nobody@example.com"})
		require.NotEqual(t, http.StatusTooManyRequests, code)
	}
	code, res := ts.postJSON(t, "/user/forgotpassword", domain.ForgotPasswordRequest{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, domain.StatusFailed, res.Status)

	// signup shares the bucket
	code, _ = ts.postJSON(t, "/user/signup", signupReq())
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestRouter_DeleteMeRequiresBearer(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/user/me", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_Metrics(t *testing.T) {
	ts := newTestServer(t)
	ts.postJSON(t, "/user/signup", signupReq())

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `account_tokens_issued_total{outcome="issued",purpose="email_verification"}`)
}
