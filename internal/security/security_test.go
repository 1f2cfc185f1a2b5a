package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/ratelimit"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityConfig(t *testing.T) {
	config := DefaultSecurityConfig()

	assert.Equal(t, 1000, config.MaxTitleLength)
	assert.Equal(t, 20000, config.MaxAbstractLength)
	assert.Contains(t, config.AllowedOrigins, "http://localhost:3000")
	assert.Equal(t, 30*time.Second, config.RequestTimeout)
	assert.False(t, config.EnableHSTS)
}

func TestValidateText(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		limit       int
		expectError bool
		errorMsg    string
	}{
		{name: "valid input", input: "Quantum sensing for GPS-denied navigation", limit: 100},
		{name: "no limit", input: strings.Repeat("a", 5000), limit: 0},
		{name: "runes not bytes", input: strings.Repeat("é", 10), limit: 10},
		{
			name:        "input too long",
			input:       strings.Repeat("a", 101),
			limit:       100,
			expectError: true,
			errorMsg:    "title exceeds maximum length",
		},
		{
			name:        "null bytes",
			input:       "test\x00input",
			limit:       100,
			expectError: true,
			errorMsg:    "title contains invalid characters",
		},
		{
			name:        "invalid UTF-8",
			input:       "test\xff\xfeinput",
			limit:       100,
			expectError: true,
			errorMsg:    "title contains invalid UTF-8 encoding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateText("title", tt.input, tt.limit)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "normal text", input: "Hypersonic flow control", expected: "Hypersonic flow control"},
		{name: "whitespace trimming", input: "  padded\n\ttext  ", expected: "padded text"},
		{name: "paragraph markup", input: "<p>Phase I</p><p>will demonstrate</p>", expected: "Phase I will demonstrate"},
		{name: "script removal", input: "before<script>alert('xss')</script>after", expected: "before after"},
		{name: "entities decoded after tags", input: "gain &gt; 10 dB &amp; &lt;b&gt;", expected: "gain > 10 dB & <b>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeText(tt.input))
		})
	}
}

func TestValidateAward(t *testing.T) {
	sm := NewSecurityMiddleware(SecurityConfig{MaxTitleLength: 10, MaxAbstractLength: 20, MaxKeywords: 2})

	assert.Nil(t, sm.ValidateAward(types.Award{ID: "A-1", Title: "Short", Abstract: "Also short"}))

	problems := sm.ValidateAward(types.Award{
		ID:              " ",
		Title:           strings.Repeat("t", 11),
		Abstract:        "bad\x00",
		Keywords:        []string{"a", "b", "c"},
		ObligatedAmount: -1,
	})
	assert.Len(t, problems, 5)
	assert.Equal(t, "award id is required", problems["id"])
	assert.Contains(t, problems, "title")
	assert.Contains(t, problems, "abstract")
	assert.Contains(t, problems, "keywords")
	assert.Contains(t, problems, "obligated_amount")
}

func TestSanitizeAward(t *testing.T) {
	sm := NewSecurityMiddleware(DefaultSecurityConfig())

	got := sm.SanitizeAward(types.Award{
		ID:       " A-1 ",
		Title:    "<b>Quantum</b> sensing",
		Abstract: "Line one<br/>line two",
		Keywords: []string{" quantum ", "<i></i>", "navigation"},
	})

	assert.Equal(t, "A-1", got.ID)
	assert.Equal(t, "Quantum sensing", got.Title)
	assert.Equal(t, "Line one line two", got.Abstract)
	assert.Equal(t, []string{"quantum", "navigation"}, got.Keywords)
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(SecurityHeadersMiddleware(true))
	router.GET("/api/v1/categories", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/swagger/index.html", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/categories", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))

	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "script-src 'self' 'unsafe-inline'")
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestValidateContentType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sm := NewSecurityMiddleware(DefaultSecurityConfig())

	tests := []struct {
		name           string
		method         string
		contentType    string
		body           string
		expectedStatus int
	}{
		{name: "valid JSON", method: http.MethodPost, contentType: "application/json", body: "{}", expectedStatus: http.StatusOK},
		{name: "JSON with charset", method: http.MethodPost, contentType: "application/json; charset=utf-8", body: "{}", expectedStatus: http.StatusOK},
		{name: "form rejected", method: http.MethodPost, contentType: "application/x-www-form-urlencoded", body: "a=b", expectedStatus: http.StatusUnsupportedMediaType},
		{name: "plain text rejected", method: http.MethodPost, contentType: "text/plain", body: "x", expectedStatus: http.StatusUnsupportedMediaType},
		{name: "empty body passes", method: http.MethodPost, contentType: "", body: "", expectedStatus: http.StatusOK},
		{name: "GET passes", method: http.MethodGet, contentType: "text/plain", body: "", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(sm.ValidateContentType)
			router.Handle(tt.method, "/test", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/test", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sm := NewSecurityMiddleware(SecurityConfig{RequestTimeout: 2 * time.Second})

	router := gin.New()
	router.Use(sm.RequestTimeout)
	router.GET("/test", func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Timeout"))
}

func TestCORSConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sm := NewSecurityMiddleware(DefaultSecurityConfig())

	router := gin.New()
	router.Use(sm.CORSConfig())
	router.GET("/api/v1/summary", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name           string
		origin         string
		expectedOrigin string
		expectedStatus int
	}{
		{name: "allowed origin", origin: "http://localhost:3000", expectedOrigin: "http://localhost:3000", expectedStatus: http.StatusOK},
		{name: "disallowed origin", origin: "https://evil.example", expectedOrigin: "", expectedStatus: http.StatusForbidden},
		{name: "same origin request", origin: "", expectedOrigin: "", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestClaimsHasRole(t *testing.T) {
	var none *Claims
	assert.False(t, none.HasRole(RoleExport))

	basic := &Claims{Roles: []string{RoleExport}}
	assert.True(t, basic.HasRole(RoleExport))
	assert.False(t, basic.HasRole(RoleExportFull))

	full := &Claims{Roles: []string{RoleExportFull}}
	assert.True(t, full.HasRole(RoleExport))
	assert.True(t, full.HasRole(RoleExportFull))
}

func TestAuthenticatorTokens(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	fixed := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return fixed }

	token, err := auth.IssueToken("analyst-1", []string{RoleExport}, time.Hour)
	require.NoError(t, err)

	claims, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "analyst-1", claims.Subject)
	assert.Equal(t, []string{RoleExport}, claims.Roles)

	t.Run("expired", func(t *testing.T) {
		auth.now = func() time.Time { return fixed.Add(2 * time.Hour) }
		defer func() { auth.now = func() time.Time { return fixed } }()

		_, err := auth.ParseToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewAuthenticator("other-secret")
		other.now = auth.now
		_, err := other.ParseToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("disabled", func(t *testing.T) {
		disabled := NewAuthenticator("")
		assert.False(t, disabled.Enabled())
		_, err := disabled.IssueToken("analyst-1", nil, time.Hour)
		assert.Error(t, err)
		_, err = disabled.ParseToken(token)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		_, err := auth.IssueToken("", nil, time.Hour)
		assert.Error(t, err)
	})
}

func TestRequireAuthAndRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuthenticator("test-secret")

	router := gin.New()
	router.POST("/api/v1/export", auth.RequireAuth(), RequireRole(RoleExport), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"subject": c.GetString(ratelimit.SubjectKey),
			"full":    GetClaims(c).HasRole(RoleExportFull),
		})
	})

	exportToken, err := auth.IssueToken("analyst-1", []string{RoleExport}, time.Hour)
	require.NoError(t, err)
	fullToken, err := auth.IssueToken("analyst-2", []string{RoleExportFull}, time.Hour)
	require.NoError(t, err)
	noRoleToken, err := auth.IssueToken("viewer", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedBody   string
	}{
		{name: "missing header", header: "", expectedStatus: http.StatusUnauthorized, expectedBody: `"category":"unauthorized"`},
		{name: "wrong scheme", header: "Basic abc", expectedStatus: http.StatusUnauthorized, expectedBody: `"category":"unauthorized"`},
		{name: "garbage token", header: "Bearer not.a.jwt", expectedStatus: http.StatusUnauthorized, expectedBody: `"category":"unauthorized"`},
		{name: "missing role", header: "Bearer " + noRoleToken, expectedStatus: http.StatusForbidden, expectedBody: `"category":"forbidden"`},
		{name: "export role", header: "Bearer " + exportToken, expectedStatus: http.StatusOK, expectedBody: `{"full":false,"subject":"analyst-1"}`},
		{name: "full export role", header: "bearer " + fullToken, expectedStatus: http.StatusOK, expectedBody: `{"full":true,"subject":"analyst-2"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/export", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
		})
	}
}
