package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/me", func(c *gin.Context) {
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})
	return r
}

func do(r http.Handler, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	r := newRouter(Middleware([]byte("secret"), nil))
	if w := do(r, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareAcceptsValidJWT(t *testing.T) {
	r := newRouter(Middleware([]byte("secret"), nil))

	signed, err := IssueJWT("user-123", "USER", []byte("secret"), time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	w := do(r, "Bearer "+signed)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if w := do(r, "Bearer "+signed+"x"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", w.Code)
	}
}

func TestMiddlewareResolvesAPIKey(t *testing.T) {
	resolver := KeyResolverFunc(func(_ context.Context, key string) (string, error) {
		if key == "good-key" {
			return "user-7", nil
		}
		return "", ErrUnknownCredential
	})
	r := newRouter(Middleware(nil, resolver))

	w := do(r, "TOKEN good-key")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != `{"user_id":"user-7"}` {
		t.Fatalf("unexpected body %s", body)
	}

	if w := do(r, "TOKEN bad-key"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := do(r, "Bearer whatever"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with jwt disabled, got %d", w.Code)
	}
}

func TestAdminMiddleware(t *testing.T) {
	r := newRouter(AdminMiddleware("admin-secret"))

	if w := do(r, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := do(r, "TOKEN nope"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := do(r, "token admin-secret"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestSplitAuthorization(t *testing.T) {
	scheme, cred := SplitAuthorization("  bearer abc ")
	if scheme != SchemeBearer || cred != "abc" {
		t.Fatalf("unexpected split %q %q", scheme, cred)
	}
	if scheme, _ := SplitAuthorization("Basic abc"); scheme != "" {
		t.Fatalf("unexpected scheme %q", scheme)
	}
	if ExtractBearer("TOKEN abc") != "" {
		t.Fatalf("TOKEN is not a bearer credential")
	}
}
