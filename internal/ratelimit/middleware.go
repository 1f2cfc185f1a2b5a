package ratelimit

import (
	"fmt"
	"log/slog"
	"strconv"

	apperrors "github.com/ZanzyTHEbar/sbir-cet-classifier/internal/errors"
	"github.com/gin-gonic/gin"
)

// SubjectKey is the gin context key holding the authenticated subject, if any
const SubjectKey = "auth_subject"

func setHeaders(c *gin.Context, prefix string, result *Result) {
	c.Header(prefix+"-Limit", strconv.Itoa(result.Limit))
	c.Header(prefix+"-Remaining", strconv.Itoa(result.Remaining))
	c.Header(prefix+"-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func reject(c *gin.Context, result *Result) {
	retry := int(result.RetryAfter.Seconds())
	if retry < 1 {
		retry = 1
	}
	c.Header("Retry-After", strconv.Itoa(retry))
	appErr := apperrors.NewRateLimitError(strconv.Itoa(retry))
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
}

// IPRateLimitMiddleware limits requests per client IP
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.Allow(c.Request.Context(), "ratelimit:ip:"+ip, rl.IPRate())
		if err != nil {
			// a limiter failure never blocks traffic
			slog.Error("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		setHeaders(c, "X-RateLimit", result)
		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitIPBlock()
			}
			reject(c, result)
			return
		}
		c.Next()
	}
}

// SubjectRateLimitMiddleware limits requests per authenticated subject. It
// must run after authentication; requests without a subject pass through.
func (rl *RateLimiter) SubjectRateLimitMiddleware(scope string, limit Rate) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetString(SubjectKey)
		if subject == "" {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s:subject:%s", scope, subject)
		result, err := rl.Allow(c.Request.Context(), key, limit)
		if err != nil {
			slog.Error("Subject rate limit check failed", "scope", scope, "error", err)
			c.Next()
			return
		}

		setHeaders(c, "X-RateLimit-Subject", result)
		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitUserBlock()
			}
			reject(c, result)
			return
		}
		c.Next()
	}
}

// ChargeBatch consumes extra tokens for a batch of n awards on top of the one
// already taken by IPRateLimitMiddleware. It writes the 429 and returns false
// when the client is over its allowance.
func (rl *RateLimiter) ChargeBatch(c *gin.Context, n int) bool {
	extra := rl.BatchCost(n) - 1
	if extra <= 0 {
		return true
	}

	ip := c.ClientIP()
	result, err := rl.AllowN(c.Request.Context(), "ratelimit:ip:"+ip, rl.IPRate(), extra)
	if err != nil {
		slog.Error("Batch rate limit check failed", "ip", ip, "error", err)
		return true
	}

	setHeaders(c, "X-RateLimit", result)
	if !result.Allowed {
		if rl.metrics != nil {
			rl.metrics.IncrementRateLimitIPBlock()
		}
		reject(c, result)
		return false
	}
	return true
}
