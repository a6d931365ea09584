package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/account-lifecycle-service/internal/config"
	"github.com/sandeepkv93/account-lifecycle-service/internal/database"
	"github.com/sandeepkv93/account-lifecycle-service/internal/http/handler"
	"github.com/sandeepkv93/account-lifecycle-service/internal/http/router"
	"github.com/sandeepkv93/account-lifecycle-service/internal/repository"
	"github.com/sandeepkv93/account-lifecycle-service/internal/security"
	"github.com/sandeepkv93/account-lifecycle-service/internal/service"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type captureNotifier struct {
	mu        sync.Mutex
	verify    []service.VerificationNotification
	reset     []service.PasswordResetNotification
	verifyErr error
	resetErr  error
}

func (n *captureNotifier) SendEmailVerification(_ context.Context, notification service.VerificationNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.verifyErr != nil {
		return n.verifyErr
	}
	n.verify = append(n.verify, notification)
	return nil
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, notification service.PasswordResetNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resetErr != nil {
		return n.resetErr
	}
	n.reset = append(n.reset, notification)
	return nil
}

func (n *captureNotifier) LastToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.verify) == 0 {
		return ""
	}
	return n.verify[len(n.verify)-1].Token
}

func (n *captureNotifier) LastResetToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.reset) == 0 {
		return ""
	}
	return n.reset[len(n.reset)-1].Token
}

func (n *captureNotifier) LastReset() (service.PasswordResetNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.reset) == 0 {
		return service.PasswordResetNotification{}, false
	}
	return n.reset[len(n.reset)-1], true
}

var dbSeq atomic.Int64

type authTestServerOptions struct {
	cfgOverride func(cfg *config.Config)
	notifier    service.Notifier
	now         func() time.Time
}

type authTestServer struct {
	baseURL  string
	client   *http.Client
	db       *gorm.DB
	notifier *captureNotifier
}

func TestAuthLifecycleRegisterVerifyLoginRefreshMe(t *testing.T) {
	srv := newAuthTestServer(t)

	resp, env := doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/register", map[string]string{
		"name":     "Ada Lovelace",
		"email":    "Ada@Example.com",
		"password": "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d env=%+v", resp.StatusCode, env.Error)
	}
	var registered struct {
		Account struct {
			ID       string `json:"id"`
			Email    string `json:"email"`
			Verified bool   `json:"verified"`
		} `json:"account"`
		VerificationSent bool `json:"verificationEmailSent"`
	}
	mustDecode(t, env.Data, &registered)
	if registered.Account.Email != "ada@example.com" || registered.Account.Verified || !registered.VerificationSent {
		t.Fatalf("unexpected register payload: %+v", registered)
	}
	if bytes.Contains(env.Data, []byte("passwordHash")) || bytes.Contains(env.Data, []byte("SecretHash")) {
		t.Fatalf("register response leaked credential fields: %s", env.Data)
	}

	verifyToken := srv.notifier.LastToken()
	if len(verifyToken) != 64 {
		t.Fatalf("expected 64 hex char verification secret, got %q", verifyToken)
	}

	resp, env = doJSON(t, srv.client, http.MethodGet, srv.baseURL+"/auth/verify-email/"+verifyToken, nil, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("verify failed: status=%d", resp.StatusCode)
	}
	resp, env = doJSON(t, srv.client, http.MethodGet, srv.baseURL+"/auth/verify-email/"+verifyToken, nil, nil)
	if resp.StatusCode != http.StatusBadRequest || env.Error == nil || env.Error.Code != "INVALID_TOKEN" {
		t.Fatalf("replayed verification should fail: status=%d", resp.StatusCode)
	}

	pair := login(t, srv, "ADA@example.com", "correct horse")

	resp, env = doJSON(t, srv.client, http.MethodGet, srv.baseURL+"/api/me", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me failed: status=%d", resp.StatusCode)
	}
	var me struct {
		ID       string `json:"id"`
		Verified bool   `json:"verified"`
	}
	mustDecode(t, env.Data, &me)
	if me.ID != registered.Account.ID || !me.Verified {
		t.Fatalf("unexpected me payload: %+v", me)
	}

	resp, env = doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/refresh", map[string]string{"token": pair.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh failed: status=%d", resp.StatusCode)
	}
	var refreshed service.AccessTokenResult
	mustDecode(t, env.Data, &refreshed)
	if refreshed.AccessToken == "" {
		t.Fatal("expected new access token")
	}
	resp, _ = doJSON(t, srv.client, http.MethodGet, srv.baseURL+"/api/me", nil, map[string]string{
		"Authorization": "Bearer " + refreshed.AccessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refreshed access token rejected: status=%d", resp.StatusCode)
	}

	resp, env = doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/refresh", map[string]string{"token": pair.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh token should stay usable until expiry, got %d", resp.StatusCode)
	}
}

func TestAuthLifecycleDuplicateRegistration(t *testing.T) {
	srv := newAuthTestServer(t)
	register(t, srv, "dup@example.com", "pw-one")

	resp, env := doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/register", map[string]string{
		"name":     "Other",
		"email":    " DUP@example.com ",
		"password": "pw-two",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest || env.Error == nil || env.Error.Code != "DUPLICATE_ACCOUNT" {
		t.Fatalf("expected DUPLICATE_ACCOUNT, got status=%d err=%+v", resp.StatusCode, env.Error)
	}

	var count int64
	if err := srv.db.Table("accounts").Count(&count).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one account, got %d", count)
	}
}

func TestAuthLifecycleStoredCredentialsAreDigests(t *testing.T) {
	srv := newAuthTestServer(t)
	register(t, srv, "stored@example.com", "plain-password")
	raw := srv.notifier.LastToken()

	var row struct {
		PasswordHash           string
		VerificationSecretHash *string
	}
	if err := srv.db.Table("accounts").Select("password_hash, verification_secret_hash").Where("email = ?", "stored@example.com").Scan(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.PasswordHash == "plain-password" || bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte("plain-password")) != nil {
		t.Fatal("expected a bcrypt hash of the password to be stored")
	}
	if row.VerificationSecretHash == nil || *row.VerificationSecretHash == raw || *row.VerificationSecretHash != security.HashSecret(raw) {
		t.Fatalf("expected the verification secret digest to be stored, got %v", row.VerificationSecretHash)
	}
}

func TestAuthLifecycleLoginFailuresAreIndistinguishable(t *testing.T) {
	srv := newAuthTestServer(t)
	register(t, srv, "known@example.com", "right-password")

	_, unknown := doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/login", map[string]string{
		"email": "nobody@example.com", "password": "whatever",
	}, nil)
	_, wrong := doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/login", map[string]string{
		"email": "known@example.com", "password": "wrong-password",
	}, nil)
	if unknown.Error == nil || wrong.Error == nil {
		t.Fatal("expected both logins to fail")
	}
	if unknown.Error.Code != "INVALID_CREDENTIALS" || unknown.Error.Code != wrong.Error.Code || unknown.Error.Message != wrong.Error.Message {
		t.Fatalf("login failures differ: unknown=%+v wrong=%+v", unknown.Error, wrong.Error)
	}
}

func TestAuthLifecycleUnverifiedLoginConfigurable(t *testing.T) {
	srv := newAuthTestServer(t)
	register(t, srv, "open@example.com", "pw")
	login(t, srv, "open@example.com", "pw")

	strict := newAuthTestServerWithOptions(t, authTestServerOptions{
		cfgOverride: func(cfg *config.Config) { cfg.AuthRequireVerifiedLogin = true },
	})
	register(t, strict, "strict@example.com", "pw")
	resp, env := doJSON(t, strict.client, http.MethodPost, strict.baseURL+"/auth/login", map[string]string{
		"email": "strict@example.com", "password": "pw",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest || env.Error == nil || env.Error.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected unverified login rejected, got status=%d", resp.StatusCode)
	}
}

func TestAuthLifecycleRegisterSurvivesNotificationFailure(t *testing.T) {
	notifier := &captureNotifier{verifyErr: fmt.Errorf("%w: smtp down", service.ErrDelivery)}
	srv := newAuthTestServerWithOptions(t, authTestServerOptions{notifier: notifier})

	resp, env := doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/register", map[string]string{
		"name": "Quiet", "email": "quiet@example.com", "password": "pw",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 despite delivery failure, got %d", resp.StatusCode)
	}
	var registered struct {
		VerificationSent bool `json:"verificationEmailSent"`
	}
	mustDecode(t, env.Data, &registered)
	if registered.VerificationSent {
		t.Fatal("expected verificationEmailSent=false")
	}
	login(t, srv, "quiet@example.com", "pw")
}

func TestAuthLifecycleListUsersRequiresBearer(t *testing.T) {
	srv := newAuthTestServer(t)
	register(t, srv, "lister@example.com", "pw")
	register(t, srv, "other@example.com", "pw")

	resp, env := doJSON(t, srv.client, http.MethodGet, srv.baseURL+"/api/users", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	pair := login(t, srv, "lister@example.com", "pw")
	resp, env = doJSON(t, srv.client, http.MethodGet, srv.baseURL+"/api/users", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var accounts []map[string]any
	mustDecode(t, env.Data, &accounts)
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	for _, a := range accounts {
		for _, forbidden := range []string{"PasswordHash", "passwordHash", "VerificationSecretHash", "ResetSecretHash"} {
			if _, ok := a[forbidden]; ok {
				t.Fatalf("account listing leaked %s", forbidden)
			}
		}
	}
}

func TestAuthLifecycleRefreshRejectsAccessToken(t *testing.T) {
	srv := newAuthTestServer(t)
	register(t, srv, "swap@example.com", "pw")
	pair := login(t, srv, "swap@example.com", "pw")

	resp, env := doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/refresh", map[string]string{"token": pair.AccessToken}, nil)
	if resp.StatusCode != http.StatusForbidden || env.Error == nil || env.Error.Code != "INVALID_TOKEN" {
		t.Fatalf("expected 403 INVALID_TOKEN, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, srv.client, http.MethodGet, srv.baseURL+"/api/me", nil, map[string]string{
		"Authorization": "Bearer " + pair.RefreshToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh token must not authorize api calls, got %d", resp.StatusCode)
	}
}

func newAuthTestServer(t *testing.T) *authTestServer {
	return newAuthTestServerWithOptions(t, authTestServerOptions{})
}

func newAuthTestServerWithOptions(t *testing.T, opts authTestServerOptions) *authTestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		JWTIssuer:            "iss",
		JWTAudience:          "aud",
		JWTAccessTTL:         15 * time.Minute,
		JWTRefreshTTL:        7 * 24 * time.Hour,
		AuthBcryptCost:       bcrypt.MinCost,
		AuthPasswordResetTTL: time.Hour,
		AuthFrontendURL:      "http://localhost:5173",
		AuthRateLimitPerMin:  1000,
		APIRateLimitPerMin:   1000,
	}
	if opts.cfgOverride != nil {
		opts.cfgOverride(cfg)
	}

	notifier := opts.notifier
	capture, _ := notifier.(*captureNotifier)
	if notifier == nil {
		capture = &captureNotifier{}
		notifier = capture
	}

	accounts := repository.NewAccountRepository(db)
	jwtMgr := security.NewJWTManager(
		cfg.JWTIssuer,
		cfg.JWTAudience,
		"abcdefghijklmnopqrstuvwxyz123456",
		"abcdefghijklmnopqrstuvwxyz654321",
	)
	if opts.now != nil {
		jwtMgr = jwtMgr.WithClock(opts.now)
	}
	authSvc := service.NewAuthService(cfg, accounts, jwtMgr, security.NewPasswordHasher(cfg.AuthBcryptCost), notifier, notifier, slog.Default())
	if opts.now != nil {
		authSvc = authSvc.WithClock(opts.now)
	}
	userSvc := service.NewUserService(accounts)

	r := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc),
		UserHandler:      handler.NewUserHandler(userSvc),
		JWTManager:       jwtMgr,
		CORSOrigins:      []string{"http://localhost:5173"},
		AuthRateLimitRPM: cfg.AuthRateLimitPerMin,
		APIRateLimitRPM:  cfg.APIRateLimitPerMin,
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &authTestServer{baseURL: srv.URL, client: srv.Client(), db: db, notifier: capture}
}

func register(t *testing.T, srv *authTestServer, email, password string) {
	t.Helper()
	resp, env := doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/register", map[string]string{
		"email":    email,
		"name":     "Test User",
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed status=%d success=%v", resp.StatusCode, env.Success)
	}
}

func login(t *testing.T, srv *authTestServer, email, password string) service.TokenPair {
	t.Helper()
	resp, env := doJSON(t, srv.client, http.MethodPost, srv.baseURL+"/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed status=%d success=%v", resp.StatusCode, env.Success)
	}
	var pair service.TokenPair
	mustDecode(t, env.Data, &pair)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token pair, got %+v", pair)
	}
	return pair
}

func mustDecode(t *testing.T, raw json.RawMessage, dst any) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	resp, raw := doRawText(t, client, method, url, body, headers)
	var env apiEnvelope
	if len(raw) > 0 {
		_ = json.Unmarshal([]byte(raw), &env)
	}
	return resp, env
}

func doRawText(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, string) {
	t.Helper()
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.String()
}
