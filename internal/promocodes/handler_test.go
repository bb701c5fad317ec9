package promocodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/truespace/backend/internal/auth"
	"github.com/truespace/backend/internal/models"
)

type stubRedeemer struct {
	err      error
	identity *auth.Identity
	code     string
}

func (s *stubRedeemer) Redeem(_ context.Context, identity *auth.Identity, code string) (Outcome, error) {
	s.identity, s.code = identity, code
	if s.err != nil {
		return Outcome{}, s.err
	}
	return Outcome{Granted: true}, nil
}

type memAdminStore struct {
	codes map[uuid.UUID]*models.PromoCode
	err   error
}

func (s *memAdminStore) Create(_ context.Context, p CreateParams) (*models.PromoCode, error) {
	if s.err != nil {
		return nil, s.err
	}
	code := NormalizeCode(p.Code)
	for _, existing := range s.codes {
		if existing.Code == code {
			return nil, ErrDuplicateCode
		}
	}
	promo := &models.PromoCode{ID: uuid.New(), Code: code, Description: p.Description, ValidUntil: p.ValidUntil,
		IsActive: p.IsActive, MaxUses: p.MaxUses, CourseIDs: p.CourseIDs}
	s.codes[promo.ID] = promo
	return promo, nil
}

func (s *memAdminStore) List(context.Context) ([]*models.PromoCode, error) {
	out := make([]*models.PromoCode, 0, len(s.codes))
	for _, p := range s.codes {
		out = append(out, p)
	}
	return out, nil
}

func (s *memAdminStore) GetByID(_ context.Context, id uuid.UUID) (*models.PromoCode, error) {
	p, ok := s.codes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *memAdminStore) SetActive(_ context.Context, id uuid.UUID, active bool) (*models.PromoCode, error) {
	p, ok := s.codes[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.IsActive = active
	return p, nil
}

func (s *memAdminStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := s.codes[id]; !ok {
		return ErrNotFound
	}
	delete(s.codes, id)
	return nil
}

func newPromoRouter(redeemer Redeemer, store AdminStore, identity *auth.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(redeemer, store, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if identity != nil {
			auth.SetIdentity(c, identity)
		}
		c.Next()
	})
	r.POST("/api/promocodes/verify", h.Verify)
	r.GET("/api/admin/promocodes", h.List)
	r.GET("/api/admin/promocodes/:id", h.Get)
	r.POST("/api/admin/promocodes", h.Create)
	r.PATCH("/api/admin/promocodes/:id/active", h.SetActive)
	r.DELETE("/api/admin/promocodes/:id", h.Delete)
	return r
}

func postJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVerify_StatusTable(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		valid   bool
		message string
	}{
		{"success", nil, http.StatusOK, true, "promo code verified successfully"},
		{"missing", ErrMissingInput, http.StatusBadRequest, false, "promo code is required"},
		{"unauthenticated", ErrUnauthenticated, http.StatusUnauthorized, false, "not authenticated"},
		{"invalid", ErrInvalidOrExpired, http.StatusBadRequest, false, "invalid or expired promo code"},
		{"exhausted", ErrUsageExhausted, http.StatusBadRequest, false, "invalid or expired promo code"},
		{"internal", fmt.Errorf("%w: find promo code: %w", ErrInternal, errors.New("pq: connection refused")), http.StatusInternalServerError, false, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newPromoRouter(&stubRedeemer{err: tt.err}, &memAdminStore{codes: map[uuid.UUID]*models.PromoCode{}}, nil)
			w := postJSON(r, http.MethodPost, "/api/promocodes/verify", `{"code":"LAUNCH2023"}`)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			var body VerifyResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Valid != tt.valid || body.Message != tt.message {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestVerify_PassesIdentityAndRawCode(t *testing.T) {
	identity := &auth.Identity{UserID: uuid.New(), Role: models.RoleMember}
	redeemer := &stubRedeemer{}
	r := newPromoRouter(redeemer, &memAdminStore{codes: map[uuid.UUID]*models.PromoCode{}}, identity)

	postJSON(r, http.MethodPost, "/api/promocodes/verify", `{"code":" launch2023 "}`)
	if redeemer.identity != identity {
		t.Fatal("identity not forwarded")
	}
	if redeemer.code != " launch2023 " {
		t.Fatalf("unexpected code %q", redeemer.code)
	}
}

func TestVerify_MalformedBody(t *testing.T) {
	r := newPromoRouter(&stubRedeemer{}, &memAdminStore{codes: map[uuid.UUID]*models.PromoCode{}}, nil)
	w := postJSON(r, http.MethodPost, "/api/promocodes/verify", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestVerify_EndToEndWithService(t *testing.T) {
	store := newMemStore()
	store.addCode("LAUNCH2023", 100, 45, true, testNow.Add(time.Hour))
	user := store.addUser()
	svc := newTestService(store)

	r := newPromoRouter(svc, &memAdminStore{codes: map[uuid.UUID]*models.PromoCode{}}, nil)
	w := postJSON(r, http.MethodPost, "/api/promocodes/verify", `{"code":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing code without session: expected 400, got %d", w.Code)
	}
	w = postJSON(r, http.MethodPost, "/api/promocodes/verify", `{"code":"LAUNCH2023"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no session: expected 401, got %d", w.Code)
	}

	r = newPromoRouter(svc, &memAdminStore{codes: map[uuid.UUID]*models.PromoCode{}}, user)
	w = postJSON(r, http.MethodPost, "/api/promocodes/verify", `{"code":"launch2023"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !store.allowed(user.UserID) {
		t.Fatal("expected access to be granted")
	}
}

func TestAdminCreate(t *testing.T) {
	store := &memAdminStore{codes: map[uuid.UUID]*models.PromoCode{}}
	r := newPromoRouter(&stubRedeemer{}, store, nil)
	future := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	w := postJSON(r, http.MethodPost, "/api/admin/promocodes", `{"code":" launch2023 ","description":"<b>Launch</b> promo","valid_until":"`+future+`","max_uses":100}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Data models.PromoCode `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Code != "LAUNCH2023" || !body.Data.IsActive || body.Data.Description != "Launch promo" {
		t.Fatalf("unexpected promo code %+v", body.Data)
	}

	w = postJSON(r, http.MethodPost, "/api/admin/promocodes", `{"code":"LAUNCH2023","valid_until":"`+future+`"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w = postJSON(r, http.MethodPost, "/api/admin/promocodes", `{"code":"OLD","valid_until":"`+past+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for past valid_until, got %d", w.Code)
	}
	w = postJSON(r, http.MethodPost, "/api/admin/promocodes", `{"code":"NEG","valid_until":"`+future+`","max_uses":-1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative max_uses, got %d", w.Code)
	}
}

func TestAdminSetActive(t *testing.T) {
	store := &memAdminStore{codes: map[uuid.UUID]*models.PromoCode{}}
	promo, _ := store.Create(context.Background(), CreateParams{Code: "X", IsActive: true, ValidUntil: time.Now().Add(time.Hour)})
	r := newPromoRouter(&stubRedeemer{}, store, nil)

	w := postJSON(r, http.MethodPatch, "/api/admin/promocodes/"+promo.ID.String()+"/active", `{"active":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if store.codes[promo.ID].IsActive {
		t.Fatal("expected code to be deactivated")
	}
	w = postJSON(r, http.MethodPatch, "/api/admin/promocodes/"+uuid.NewString()+"/active", `{"active":true}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w = postJSON(r, http.MethodGet, "/api/admin/promocodes/"+promo.ID.String(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAdminDelete(t *testing.T) {
	store := &memAdminStore{codes: map[uuid.UUID]*models.PromoCode{}}
	promo, _ := store.Create(context.Background(), CreateParams{Code: "GONE", IsActive: true, ValidUntil: time.Now().Add(time.Hour)})
	r := newPromoRouter(&stubRedeemer{}, store, nil)
	path := "/api/admin/promocodes/" + promo.ID.String()

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"existing", path, http.StatusOK},
		{"already deleted", path, http.StatusNotFound},
		{"bad id", "/api/admin/promocodes/nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(r, http.MethodDelete, tt.path, "")
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}
	if _, ok := store.codes[promo.ID]; ok {
		t.Fatal("expected code to be removed")
	}
}
