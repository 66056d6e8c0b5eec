package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// echoUser writes the authenticated user ID, or "-" when anonymous.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id := GetUserID(r.Context())
	if id == "" {
		id = "-"
	}
	w.Write([]byte(id))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth(testSecret)(echoUser)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization header")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1"))
	rec = serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	h := OptionalAuth(testSecret)(echoUser)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "-", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-2"))
	assert.Equal(t, "user-2", serve(h, req).Body.String())
}

func TestRequireScope(t *testing.T) {
	h := Auth(testSecret)(RequireScope("domains:write")(echoUser))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1", "chat"))
	assert.Equal(t, http.StatusForbidden, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "admin", "chat", "domains:write"))
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestLoggingPropagatesCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "corr-1")
	rec := serve(h, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "corr-1", rec.Header().Get(CorrelationHeader))
	assert.Equal(t, "corr-1", seen)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(CorrelationHeader))
	assert.Equal(t, rec.Header().Get(CorrelationHeader), seen)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(echoUser)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		assert.Equal(t, http.StatusOK, serve(h, req).Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := serve(h, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(echoUser)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(h, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidateChatRequest(t *testing.T) {
	temp := func(v float64) *float64 { return &v }
	tokens := func(v int) *int { return &v }

	tests := []struct {
		name    string
		req     model.ChatRequest
		wantErr bool
	}{
		{name: "minimal", req: model.ChatRequest{Message: "hola"}},
		{name: "long message is a guardrail concern", req: model.ChatRequest{Message: strings.Repeat("a", 900)}},
		{name: "blank", req: model.ChatRequest{Message: " \n "}, wantErr: true},
		{name: "oversized", req: model.ChatRequest{Message: strings.Repeat("a", MaxMessageBytes+1)}, wantErr: true},
		{name: "invalid utf8", req: model.ChatRequest{Message: "\xff\xfe"}, wantErr: true},
		{name: "uuid conversation", req: model.ChatRequest{Message: "hola", ConversationID: "0190c6a2-7d2e-7c3a-9a1b-2f1e5d6c7b8a"}},
		{name: "bad conversation", req: model.ChatRequest{Message: "hola", ConversationID: "conv.1"}, wantErr: true},
		{name: "temperature", req: model.ChatRequest{Message: "hola", Temperature: temp(0.7)}},
		{name: "temperature too high", req: model.ChatRequest{Message: "hola", Temperature: temp(2.5)}, wantErr: true},
		{name: "zero max tokens", req: model.ChatRequest{Message: "hola", MaxTokens: tokens(0)}, wantErr: true},
		{name: "long user id", req: model.ChatRequest{Message: "hola", Metadata: &model.RequestMetadata{UserID: strings.Repeat("u", 200)}}, wantErr: true},
		{name: "metadata", req: model.ChatRequest{Message: "hola", Metadata: &model.RequestMetadata{Mode: "EVENT", DomainID: "baby-shower"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatRequest(&tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateKeyword(t *testing.T) {
	assert.NoError(t, ValidateKeyword("baby shower"))
	assert.ErrorIs(t, ValidateKeyword("  "), model.ErrValidation)
	assert.ErrorIs(t, ValidateKeyword(strings.Repeat("k", MaxKeywordLength+1)), model.ErrValidation)
}
