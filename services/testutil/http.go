package testutil

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
)

// MakeAuthRequest sends body as JSON with "Bearer <token>" when token is set.
func MakeAuthRequest(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	authorization := ""
	if token != "" {
		authorization = "Bearer " + token
	}
	return MakeRequest(router, method, path, body, authorization)
}

// MakeTokenRequest authenticates with "TOKEN <key>", the scheme used for API
// keys and the admin token.
func MakeTokenRequest(router *gin.Engine, method, path string, body any, key string) *httptest.ResponseRecorder {
	authorization := ""
	if key != "" {
		authorization = "TOKEN " + key
	}
	return MakeRequest(router, method, path, body, authorization)
}

func MakeRequest(router *gin.Engine, method, path string, body any, authorization string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func MakeAPIRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	return MakeRequest(router, method, path, body, "")
}

// DecodeJSON unmarshals the recorded body into T.
func DecodeJSON[T any](resp *httptest.ResponseRecorder) (T, error) {
	var out T
	err := json.Unmarshal(resp.Body.Bytes(), &out)
	return out, err
}
