package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/truespace/backend/internal/models"
	"github.com/truespace/backend/pkg/database"
	"github.com/truespace/backend/pkg/utils"
)

type memCredentialStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{users: make(map[uuid.UUID]*models.User)}
}

func (s *memCredentialStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memCredentialStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memCredentialStore) Create(_ context.Context, p CreateUserParams) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := NormalizeEmail(p.Email)
	for _, u := range s.users {
		if u.Email == email {
			return nil, ErrDuplicateEmail
		}
	}
	u := &models.User{
		ID:           uuid.New(),
		Name:         p.Name,
		Email:        email,
		PasswordHash: p.PasswordHash,
		Role:         p.Role,
		CreatedAt:    time.Now(),
	}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *memCredentialStore) SetAccess(_ context.Context, _ database.Querier, id uuid.UUID, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.AllowedAccess = allowed
	return nil
}

func (s *memCredentialStore) List(_ context.Context) ([]models.UserPublic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UserPublic, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.ToPublic())
	}
	return out, nil
}

func newAuthRouter(t *testing.T, store *memCredentialStore) (*gin.Engine, *JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := NewJWTService("secret", 7*24*time.Hour)
	sessions := NewSessions(svc, nil, nil)
	h := NewHandler(store, svc, sessions, false, nil)

	withIdentity := func(c *gin.Context) {
		if id := sessions.Resolve(c.Request.Context(), TokenFromRequest(c)); id != nil {
			SetIdentity(c, id)
		}
		c.Next()
	}

	r := gin.New()
	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/logout", h.Logout)
	r.GET("/api/auth/me", withIdentity, h.Me)
	r.GET("/api/admin/users", h.List)
	r.PATCH("/api/admin/users/:id/access", h.SetAccess)
	return r, svc
}

func doJSON(r http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestRegister_SetsCookieAndHidesHash(t *testing.T) {
	store := newMemCredentialStore()
	r, _ := newAuthRouter(t, store)

	w := doJSON(r, http.MethodPost, "/api/auth/register", `{"name":"Ada","email":" Ada@Example.com ","password":"secret1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	cookie := sessionCookie(t, w)
	if !cookie.HttpOnly || cookie.Path != "/" || cookie.MaxAge != 7*24*60*60 {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("response leaks password material: %s", w.Body.String())
	}

	var body struct {
		Data TokenResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.User.Email != "ada@example.com" || body.Data.User.Role != models.RoleMember || body.Data.User.AllowedAccess {
		t.Fatalf("unexpected user %+v", body.Data.User)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	store := newMemCredentialStore()
	r, _ := newAuthRouter(t, store)

	doJSON(r, http.MethodPost, "/api/auth/register", `{"name":"Ada","email":"ada@example.com","password":"secret1"}`)
	w := doJSON(r, http.MethodPost, "/api/auth/register", `{"name":"Ada 2","email":"ADA@example.com","password":"secret2"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	r, _ := newAuthRouter(t, newMemCredentialStore())
	w := doJSON(r, http.MethodPost, "/api/auth/register", `{"email":"ada@example.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRegister_MalformedEmail(t *testing.T) {
	store := newMemCredentialStore()
	r, _ := newAuthRouter(t, store)
	for _, email := range []string{"ada", " @example.com", "ada@"} {
		w := doJSON(r, http.MethodPost, "/api/auth/register", `{"name":"Ada","email":"`+email+`","password":"secret1"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", email, w.Code)
		}
	}
	if len(store.users) != 0 {
		t.Fatalf("expected no users, got %d", len(store.users))
	}
}

func TestVerifyPassword_UnknownUserUsesDummyHash(t *testing.T) {
	if VerifyPassword(nil, "truespace-no-such-user") {
		t.Fatal("nil user must never verify")
	}
	cost, err := bcrypt.Cost([]byte(dummyHash()))
	if err != nil || cost != bcrypt.DefaultCost {
		t.Fatalf("dummy hash must be a default-cost bcrypt hash, cost=%d err=%v", cost, err)
	}
}

func TestLogin(t *testing.T) {
	store := newMemCredentialStore()
	hash, err := utils.HashPassword("secret1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := store.Create(context.Background(), CreateUserParams{Name: "Ada", Email: "ada@example.com", PasswordHash: hash, Role: models.RoleMember}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r, _ := newAuthRouter(t, store)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"email":"ADA@example.com","password":"secret1"}`, http.StatusOK},
		{"wrong password", `{"email":"ada@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"padded email", `{"email":"  Ada@Example.com ","password":"secret1"}`, http.StatusOK},
		{"unknown email", `{"email":"bob@example.com","password":"secret1"}`, http.StatusUnauthorized},
		{"malformed email", `{"email":"not-an-email","password":"secret1"}`, http.StatusBadRequest},
		{"missing password", `{"email":"ada@example.com"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/auth/login", tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusUnauthorized && !strings.Contains(w.Body.String(), "invalid credentials") {
				t.Fatalf("unexpected body %s", w.Body.String())
			}
		})
	}
}

func TestMe_ReflectsStoredAccess(t *testing.T) {
	store := newMemCredentialStore()
	r, _ := newAuthRouter(t, store)

	w := doJSON(r, http.MethodPost, "/api/auth/register", `{"name":"Ada","email":"ada@example.com","password":"secret1"}`)
	cookie := sessionCookie(t, w)
	user, _ := store.FindByEmail(context.Background(), "ada@example.com")
	if err := store.SetAccess(context.Background(), nil, user.ID, true); err != nil {
		t.Fatalf("SetAccess: %v", err)
	}

	w = doJSON(r, http.MethodGet, "/api/auth/me", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"allowed_access":true`) {
		t.Fatalf("expected fresh access flag, got %s", w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/api/auth/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", w.Code)
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	r, _ := newAuthRouter(t, newMemCredentialStore())
	w := doJSON(r, http.MethodPost, "/api/auth/logout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	cookie := sessionCookie(t, w)
	if cookie.Value != "" || cookie.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cookie)
	}
}

func TestList_Envelope(t *testing.T) {
	store := newMemCredentialStore()
	r, _ := newAuthRouter(t, store)
	_, _ = store.Create(context.Background(), CreateUserParams{Name: "Ada", Email: "ada@example.com", PasswordHash: "x", Role: models.RoleMember})

	w := doJSON(r, http.MethodGet, "/api/admin/users", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Success bool                `json:"success"`
		Data    []models.UserPublic `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || len(body.Data) != 1 || body.Data[0].Email != "ada@example.com" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestSetAccess_Admin(t *testing.T) {
	store := newMemCredentialStore()
	r, _ := newAuthRouter(t, store)
	user, _ := store.Create(context.Background(), CreateUserParams{Name: "Ada", Email: "ada@example.com", PasswordHash: "x", Role: models.RoleMember})

	w := doJSON(r, http.MethodPatch, "/api/admin/users/"+user.ID.String()+"/access", `{"allowed":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got, _ := store.GetByID(context.Background(), user.ID)
	if !got.AllowedAccess {
		t.Fatal("expected access to be granted")
	}

	w = doJSON(r, http.MethodPatch, "/api/admin/users/"+uuid.NewString()+"/access", `{"allowed":true}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w = doJSON(r, http.MethodPatch, "/api/admin/users/"+user.ID.String()+"/access", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
