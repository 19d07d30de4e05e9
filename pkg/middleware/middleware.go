package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/winubot/trading-engine/pkg/response"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.Mutex

	// Per-endpoint-class limits. Webhooks are generous: providers retry in
	// bursts and a throttled webhook is a lost payment notification.
	authLimit    = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	webhookLimit = rate.Limit(600.0 / 60.0)  // 600 requests per minute
	adminLimit   = rate.Limit(120.0 / 60.0)  // 120 requests per minute
	signalLimit  = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

func init() {
	go cleanupVisitors()
}

func getLimiter(path, clientKey string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientKey + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/webhooks"):
			limit = webhookLimit
		case strings.HasPrefix(path, "/api/v1/admin"):
			limit = adminLimit
		case strings.HasPrefix(path, "/api/v1/internal"):
			limit = signalLimit
		default:
			limit = rate.Inf
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 5),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimit throttles requests per client and endpoint class.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := c.GetString("clientID")
		if clientKey == "" {
			clientKey = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), clientKey)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates a bearer token signed with the given secret and places
// its claims into the request context.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseBearer(c, secret)
		if !ok {
			return
		}

		for key, value := range claims {
			c.Set(key, value)
		}
		c.Set("claims", claims)
		if clientID, ok := claims["client_id"].(string); ok {
			c.Set("clientID", clientID)
		}

		c.Next()
	}
}

// AdminAuth validates a bearer token and additionally requires the "admin"
// permission. Gap recovery and manual activation sit behind this.
func AdminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseBearer(c, secret)
		if !ok {
			return
		}

		if !hasPermission(claims, "admin") {
			response.Unauthorized(c, "Admin permission required")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		if clientID, ok := claims["client_id"].(string); ok {
			c.Set("clientID", clientID)
		}

		c.Next()
	}
}

func parseBearer(c *gin.Context, secret string) (jwt.MapClaims, bool) {
	authHeader := c.GetHeader("Authorization")
	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
		response.Unauthorized(c, "Invalid authorization header")
		c.Abort()
		return nil, false
	}

	token, err := jwt.Parse(bearerToken[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		response.Unauthorized(c, "Invalid token claims")
		c.Abort()
		return nil, false
	}

	for _, required := range []string{"client_id", "exp"} {
		if _, exists := claims[required]; !exists {
			response.Unauthorized(c, fmt.Sprintf("Missing required claim: %s", required))
			c.Abort()
			return nil, false
		}
	}

	return claims, true
}

func hasPermission(claims jwt.MapClaims, perm string) bool {
	raw, ok := claims["permissions"].([]interface{})
	if !ok {
		return false
	}
	for _, p := range raw {
		if s, ok := p.(string); ok && s == perm {
			return true
		}
	}
	return false
}
