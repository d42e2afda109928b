package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/duynhne/session-service/internal/core/domain"
	"github.com/duynhne/session-service/internal/core/password"
	"github.com/duynhne/session-service/internal/core/repository"
	"github.com/duynhne/session-service/internal/core/token"
	logicv1 "github.com/duynhne/session-service/internal/logic/v1"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := password.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	codec, err := token.NewJWTCodec([]byte("handler-test-key-handler-test-key"))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	svc := logicv1.NewAuthService(
		repository.NewMemoryUserRepository(),
		repository.NewMemorySessionRepository(),
		hasher, codec,
	)

	r := gin.New()
	NewHandler(svc, logicv1.DefaultSessionTTL, false).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func do(r *gin.Engine, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signUpAndLogin(t *testing.T, r *gin.Engine) (domain.AuthResponse, *http.Cookie) {
	t.Helper()
	creds := gin.H{"email": "a@x.com", "password": "pw"}

	if w := do(r, http.MethodPost, "/api/v1/auth/signup", creds); w.Code != http.StatusCreated {
		t.Fatalf("signup: status %d body %s", w.Code, w.Body)
	}

	w := do(r, http.MethodPost, "/api/v1/auth/login", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", w.Code, w.Body)
	}
	var resp domain.AuthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == AuthCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != resp.Token {
		t.Fatalf("expected %s cookie carrying the token, got %+v", AuthCookieName, cookie)
	}
	if !cookie.HttpOnly {
		t.Fatal("auth cookie must be HttpOnly")
	}
	return resp, cookie
}

func TestLoginValidateLogoutFlow(t *testing.T) {
	r := newTestRouter(t)
	resp, cookie := signUpAndLogin(t, r)

	w := do(r, http.MethodPost, "/api/v1/auth/validate", gin.H{"token": resp.Token, "user_id": resp.User.ID})
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"ACTIVE"`)) {
		t.Fatalf("validate: status %d body %s", w.Code, w.Body)
	}

	// Token from cookie only.
	w = do(r, http.MethodPost, "/api/v1/auth/logout", gin.H{"user_id": resp.User.ID}, func(req *http.Request) {
		req.AddCookie(cookie)
	})
	if w.Code != http.StatusOK {
		t.Fatalf("logout: status %d body %s", w.Code, w.Body)
	}

	// Token from bearer header only.
	w = do(r, http.MethodPost, "/api/v1/auth/validate", gin.H{"user_id": resp.User.ID}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+resp.Token)
	})
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"ENDED"`)) {
		t.Fatalf("validate after logout: status %d body %s", w.Code, w.Body)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	r := newTestRouter(t)
	resp, _ := signUpAndLogin(t, r)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"duplicate signup", "/api/v1/auth/signup", gin.H{"email": "a@x.com", "password": "pw"}, http.StatusConflict},
		{"signup bad email", "/api/v1/auth/signup", gin.H{"email": "nope", "password": "pw"}, http.StatusBadRequest},
		{"signup password over 72 bytes", "/api/v1/auth/signup", gin.H{"email": "c@x.com", "password": strings.Repeat("p", 73)}, http.StatusBadRequest},
		{"wrong password", "/api/v1/auth/login", gin.H{"email": "a@x.com", "password": "bad"}, http.StatusUnauthorized},
		{"unknown user", "/api/v1/auth/login", gin.H{"email": "b@x.com", "password": "pw"}, http.StatusUnauthorized},
		{"unknown session", "/api/v1/auth/validate", gin.H{"token": "nope", "user_id": resp.User.ID}, http.StatusNotFound},
		{"missing token", "/api/v1/auth/logout", gin.H{"user_id": resp.User.ID}, http.StatusBadRequest},
		{"missing user", "/api/v1/auth/logout", gin.H{"token": resp.Token}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, http.MethodPost, tt.path, tt.body); w.Code != tt.status {
				t.Fatalf("status %d, want %d (body %s)", w.Code, tt.status, w.Body)
			}
		})
	}
}

func TestSessionLimitIsTooManyRequests(t *testing.T) {
	r := newTestRouter(t)
	signUpAndLogin(t, r)
	creds := gin.H{"email": "a@x.com", "password": "pw"}

	if w := do(r, http.MethodPost, "/api/v1/auth/login", creds); w.Code != http.StatusOK {
		t.Fatalf("second login: status %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/auth/login", creds); w.Code != http.StatusTooManyRequests {
		t.Fatalf("third login: status %d, want 429", w.Code)
	}
}

func bearer(token string) func(*http.Request) {
	return func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }
}

func TestListSessionsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	resp, cookie := signUpAndLogin(t, r)
	path := fmt.Sprintf("/api/v1/users/%d/sessions", resp.User.ID)

	w := do(r, http.MethodGet, path, nil, bearer(resp.Token))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body)
	}
	var views []domain.SessionView
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Status != domain.SessionActive || !views[0].ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected sessions: %+v", views)
	}
	if bytes.Contains(w.Body.Bytes(), []byte(resp.Token)) {
		t.Fatal("session listing must not expose tokens")
	}

	w = do(r, http.MethodGet, path, nil, func(req *http.Request) { req.AddCookie(cookie) })
	if w.Code != http.StatusOK {
		t.Fatalf("cookie auth: status %d body %s", w.Code, w.Body)
	}

	if w := do(r, http.MethodGet, "/api/v1/users/abc/sessions", nil, bearer(resp.Token)); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status %d", w.Code)
	}
}

func TestListSessionsRequiresOwnActiveSession(t *testing.T) {
	r := newTestRouter(t)
	resp, _ := signUpAndLogin(t, r)
	path := fmt.Sprintf("/api/v1/users/%d/sessions", resp.User.ID)

	other := gin.H{"email": "b@x.com", "password": "pw"}
	if w := do(r, http.MethodPost, "/api/v1/auth/signup", other); w.Code != http.StatusCreated {
		t.Fatalf("signup other: status %d", w.Code)
	}
	w := do(r, http.MethodPost, "/api/v1/auth/login", other)
	if w.Code != http.StatusOK {
		t.Fatalf("login other: status %d", w.Code)
	}
	var otherResp domain.AuthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &otherResp); err != nil {
		t.Fatalf("decode other login: %v", err)
	}

	t.Run("anonymous", func(t *testing.T) {
		if w := do(r, http.MethodGet, path, nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("status %d, want 401", w.Code)
		}
	})

	t.Run("another user's token", func(t *testing.T) {
		if w := do(r, http.MethodGet, path, nil, bearer(otherResp.Token)); w.Code != http.StatusNotFound {
			t.Fatalf("status %d, want 404 (body %s)", w.Code, w.Body)
		}
	})

	t.Run("ended session", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/v1/auth/logout", gin.H{"token": resp.Token, "user_id": resp.User.ID})
		if w.Code != http.StatusOK {
			t.Fatalf("logout: status %d", w.Code)
		}
		if w := do(r, http.MethodGet, path, nil, bearer(resp.Token)); w.Code != http.StatusUnauthorized {
			t.Fatalf("status %d, want 401", w.Code)
		}
	})
}
