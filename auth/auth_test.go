package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/pagemark/dbopen"
	"github.com/hazyhaar/pagemark/kit"
)

var secret = []byte(strings.Repeat("k", 32))

func TestGenerateValidate(t *testing.T) {
	tok, err := GenerateToken(secret, &Claims{UserID: "u1", Handle: "ada", Role: "reviewer"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c, err := ValidateToken(secret, tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.UserID != "u1" || c.Author().Name != "ada" || !c.CanWrite() {
		t.Errorf("claims = %+v", c)
	}
}

func TestGenerateToken_ShortSecret(t *testing.T) {
	if _, err := GenerateToken([]byte("short"), &Claims{UserID: "u1"}, time.Hour); err == nil {
		t.Fatal("short secret accepted")
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	expired, _ := GenerateToken(secret, &Claims{UserID: "u1"}, -time.Minute)
	other, _ := GenerateToken([]byte(strings.Repeat("z", 32)), &Claims{UserID: "u1"}, time.Hour)
	noUser, _ := GenerateToken(secret, &Claims{}, time.Hour)
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{UserID: "u1"}).SignedString(secret)

	for name, tok := range map[string]string{
		"expired":   expired,
		"foreign":   other,
		"no user":   noUser,
		"wrong alg": hs512,
		"garbage":   "not.a.jwt",
	} {
		if _, err := ValidateToken(secret, tok); err == nil {
			t.Errorf("%s token accepted", name)
		}
	}
}

func TestMiddleware(t *testing.T) {
	tok, _ := GenerateToken(secret, &Claims{UserID: "u7", Name: "Grace"}, time.Hour)
	var gotUser, gotHandle string
	var gotClaims *Claims
	h := Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotHandle = kit.GetUserID(r.Context()), kit.GetHandle(r.Context())
		gotClaims = GetClaims(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotUser != "u7" || gotHandle != "Grace" || gotClaims == nil {
		t.Errorf("bearer: user=%q handle=%q claims=%v", gotUser, gotHandle, gotClaims)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: tok})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotUser != "u7" {
		t.Error("cookie token ignored")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer junk")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotClaims != nil || gotUser != "" {
		t.Error("invalid token produced identity")
	}
}

func TestRequireAuthAndWriter(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(secret)(RequireAuth(RequireWriter(ok)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", rec.Code)
	}

	viewer, _ := GenerateToken(secret, &Claims{UserID: "v", Role: "viewer"}, time.Hour)
	req := httptest.NewRequest(http.MethodPut, "/", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer = %d, want 403", rec.Code)
	}

	writer, _ := GenerateToken(secret, &Claims{UserID: "w"}, time.Hour)
	req = httptest.NewRequest(http.MethodPut, "/", nil)
	req.Header.Set("Authorization", "Bearer "+writer)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("writer = %d, want 204", rec.Code)
	}
}

func newUsers(t *testing.T) *Users {
	t.Helper()
	u, err := NewUsers(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	u.cost = bcrypt.MinCost
	return u
}

func TestUsers_CreateAuthenticate(t *testing.T) {
	u := newUsers(t)
	ctx := context.Background()

	c, err := u.Create(ctx, " Ada ", "Ada Lovelace", "correct horse", "reviewer")
	if err != nil {
		t.Fatal(err)
	}
	if c.Handle != "ada" || !strings.HasPrefix(c.UserID, "usr_") {
		t.Errorf("claims = %+v", c)
	}
	if _, err := u.Create(ctx, "ada", "", "another password", "viewer"); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate err = %v", err)
	}

	got, err := u.Authenticate(ctx, "ADA", "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != c.UserID || got.Author().Name != "Ada Lovelace" || !got.CanWrite() {
		t.Errorf("authenticated = %+v", got)
	}
	if _, err := u.Authenticate(ctx, "ada", "wrong horse!"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	if _, err := u.Authenticate(ctx, "bob", "correct horse"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("unknown user err = %v", err)
	}

	if err := u.Disable(ctx, "ada"); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Authenticate(ctx, "ada", "correct horse"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("disabled user err = %v", err)
	}
	if err := u.Disable(ctx, "nobody"); err == nil {
		t.Error("disabling a missing account succeeded")
	}
}

func TestUsers_CreateRejects(t *testing.T) {
	u := newUsers(t)
	tests := []struct {
		name, handle, password, role string
	}{
		{"empty handle", "  ", "long enough pw", "reviewer"},
		{"bad role", "ada", "long enough pw", "admin"},
		{"short password", "ada", "short", "viewer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := u.Create(context.Background(), tt.handle, "", tt.password, tt.role); err == nil {
				t.Error("accepted")
			}
		})
	}
}
