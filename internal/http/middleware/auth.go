package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cardpipe/cardpipe/internal/http/response"
	"github.com/cardpipe/cardpipe/internal/platform/apierr"
	"github.com/cardpipe/cardpipe/internal/platform/logger"
)

// AuthMiddleware enforces the shared-secret scheme of spec.md §6.2:
// constant-time X-API-Key comparison. HMAC signature verification for
// POST /jobs is performed by VerifySignature directly in the submit
// handler, since it needs the parsed upload body rather than just headers.
type AuthMiddleware struct {
	log    *logger.Logger
	apiKey string
}

func NewAuthMiddleware(log *logger.Logger, apiKey string) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "auth"), apiKey: apiKey}
}

func (am *AuthMiddleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if got == "" || !constantTimeEqual(got, am.apiKey) {
			response.RespondError(c, apierr.New(apierr.KindUnauthorized, nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// VerifySignature recomputes hex(hmac_sha256(secret, sha256_hex(fileBytes)
// || canonicalOptionsJSON || timestamp)) and compares it to sigHex in
// constant time (spec.md §6.2).
func VerifySignature(secret string, fileBytes []byte, canonicalOptionsJSON []byte, timestamp string, sigHex string) bool {
	fileHash := sha256.Sum256(fileBytes)
	fileHashHex := hex.EncodeToString(fileHash[:])

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fileHashHex))
	mac.Write(canonicalOptionsJSON)
	mac.Write([]byte(timestamp))
	expected := hex.EncodeToString(mac.Sum(nil))

	return constantTimeEqual(strings.ToLower(strings.TrimSpace(sigHex)), expected)
}
