package security

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/ZanzyTHEbar/sbir-cet-classifier/internal/errors"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxTitleLength    int           `json:"max_title_length"`
	MaxAbstractLength int           `json:"max_abstract_length"`
	MaxKeywords       int           `json:"max_keywords"`
	AllowedOrigins    []string      `json:"allowed_origins"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	EnableHSTS        bool          `json:"enable_hsts"`
}

// DefaultSecurityConfig returns secure defaults
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxTitleLength:    1000,
		MaxAbstractLength: 20000,
		MaxKeywords:       100,
		AllowedOrigins:    []string{"http://localhost:3000"},
		TrustedProxies:    []string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		RequestTimeout:    30 * time.Second,
	}
}

var (
	scriptPattern  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// SecurityMiddleware validates inbound award payloads and sets transport-level protections
type SecurityMiddleware struct {
	config SecurityConfig
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig) *SecurityMiddleware {
	return &SecurityMiddleware{config: config}
}

// Config returns the active configuration
func (sm *SecurityMiddleware) Config() SecurityConfig {
	return sm.config
}

// ValidateText rejects text longer than limit runes, with null bytes or invalid UTF-8
func ValidateText(field, input string, limit int) error {
	if !utf8.ValidString(input) {
		return fmt.Errorf("%s contains invalid UTF-8 encoding", field)
	}
	if strings.Contains(input, "\x00") {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	if limit > 0 && utf8.RuneCountInString(input) > limit {
		return fmt.Errorf("%s exceeds maximum length of %d characters", field, limit)
	}
	return nil
}

// SanitizeText strips markup that award abstracts are often exported with and
// collapses whitespace. Entities are decoded after tags are removed so encoded
// angle brackets survive as text.
func SanitizeText(input string) string {
	input = scriptPattern.ReplaceAllString(input, " ")
	input = htmlTagPattern.ReplaceAllString(input, " ")
	input = html.UnescapeString(input)
	input = spacePattern.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// ValidateAward checks one inbound award and returns a field-keyed map of problems
func (sm *SecurityMiddleware) ValidateAward(award types.Award) map[string]string {
	problems := make(map[string]string)

	if strings.TrimSpace(award.ID) == "" {
		problems["id"] = "award id is required"
	} else if err := ValidateText("id", award.ID, 128); err != nil {
		problems["id"] = err.Error()
	}
	if err := ValidateText("title", award.Title, sm.config.MaxTitleLength); err != nil {
		problems["title"] = err.Error()
	}
	if err := ValidateText("abstract", award.Abstract, sm.config.MaxAbstractLength); err != nil {
		problems["abstract"] = err.Error()
	}
	if sm.config.MaxKeywords > 0 && len(award.Keywords) > sm.config.MaxKeywords {
		problems["keywords"] = fmt.Sprintf("at most %d keywords are accepted", sm.config.MaxKeywords)
	}
	if award.ObligatedAmount < 0 {
		problems["obligated_amount"] = "obligated amount cannot be negative"
	}

	if len(problems) == 0 {
		return nil
	}
	return problems
}

// SanitizeAward returns a copy of award with cleaned free-text fields
func (sm *SecurityMiddleware) SanitizeAward(award types.Award) types.Award {
	award.ID = strings.TrimSpace(award.ID)
	award.Title = SanitizeText(award.Title)
	award.Abstract = SanitizeText(award.Abstract)
	if len(award.Keywords) > 0 {
		keywords := make([]string, 0, len(award.Keywords))
		for _, k := range award.Keywords {
			if k = SanitizeText(k); k != "" {
				keywords = append(keywords, k)
			}
		}
		award.Keywords = keywords
	}
	return award
}

// ValidateContentType validates request content type
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions || c.Request.ContentLength == 0 {
		c.Next()
		return
	}

	contentType := strings.ToLower(c.GetHeader("Content-Type"))
	if !strings.Contains(contentType, "application/json") {
		appErr := apperrors.NewValidationError("unsupported content type", contentType)
		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, appErr.Response())
		return
	}

	c.Next()
}

// RequestTimeout bounds the request context. Handlers observe the deadline
// through c.Request.Context(); batch scoring stops between awards.
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	if sm.config.RequestTimeout <= 0 {
		c.Next()
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}

// CORSConfig builds the CORS handler for internal dashboards
func (sm *SecurityMiddleware) CORSConfig() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(sm.config.AllowedOrigins) == 0 {
		slog.Warn("No CORS origins configured, cross-origin requests will be refused")
		cfg.AllowOriginFunc = func(string) bool { return false }
	} else {
		cfg.AllowOrigins = sm.config.AllowedOrigins
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	cfg.ExposeHeaders = []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"}
	cfg.AllowCredentials = true
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}
