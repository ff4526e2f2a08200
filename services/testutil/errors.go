package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest      = "INVALID_REQUEST"
	ErrorCodeUnauthorized        = "UNAUTHORIZED"
	ErrorCodeForbidden           = "FORBIDDEN"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeOrderNotFound       = "ORDER_NOT_FOUND"
	ErrorCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrorCodeInvalidState        = "INVALID_STATE"
	ErrorCodeConflict            = "CONFLICT"
	ErrorCodeRateLimited         = "RATE_LIMITED"
	ErrorCodeInternalError       = "INTERNAL_ERROR"
)

// statusByCode is the HTTP status the exchange API pairs with each code.
var statusByCode = map[string]int{
	ErrorCodeInvalidRequest:      http.StatusBadRequest,
	ErrorCodeUnauthorized:        http.StatusUnauthorized,
	ErrorCodeForbidden:           http.StatusForbidden,
	ErrorCodeNotFound:            http.StatusNotFound,
	ErrorCodeOrderNotFound:       http.StatusNotFound,
	ErrorCodeInsufficientBalance: http.StatusBadRequest,
	ErrorCodeInvalidState:        http.StatusBadRequest,
	ErrorCodeConflict:            http.StatusConflict,
	ErrorCodeRateLimited:         http.StatusTooManyRequests,
	ErrorCodeInternalError:       http.StatusInternalServerError,
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fields  []struct {
		Field string `json:"field"`
	} `json:"fields"`
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error response %q: %v", resp.Body.String(), err)
	}
	return body
}

// AssertErrorCode checks both the code in the body and the status it implies.
func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	status, ok := statusByCode[expectedCode]
	if !ok {
		t.Fatalf("unknown error code %q", expectedCode)
	}
	if resp.Code != status {
		t.Fatalf("expected status %d for %s, got %d: %s", status, expectedCode, resp.Code, resp.Body.String())
	}
	if body := decodeError(t, resp); body.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, body.Code)
	}
}

// AssertFieldErrors checks that a validation failure names exactly fields, in
// order.
func AssertFieldErrors(t *testing.T, resp *httptest.ResponseRecorder, fields ...string) {
	t.Helper()
	AssertErrorCode(t, resp, ErrorCodeInvalidRequest)
	body := decodeError(t, resp)
	if len(body.Fields) != len(fields) {
		t.Fatalf("expected field errors %v, got %+v", fields, body.Fields)
	}
	for i, f := range fields {
		if body.Fields[i].Field != f {
			t.Fatalf("expected field error %d on %q, got %q", i, f, body.Fields[i].Field)
		}
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.Code, resp.Body.String())
	}
}
