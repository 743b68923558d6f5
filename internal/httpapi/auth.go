package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xenking/storefront-api/internal/domain/auth"
)

const identityKey = "identity"

// Auth authenticates requests via HMAC-SHA256 hashed API keys and stores the
// resolved identity on the gin context. The key is read from the X-API-Key
// header.
func Auth(apikeys auth.Repository, pepper []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		mac := hmac.New(sha256.New, pepper)
		mac.Write([]byte(key))
		hash := mac.Sum(nil)

		id, err := apikeys.FindByHash(c.Request.Context(), hex.EncodeToString(hash))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		// Constant-time compare guards against a stale or wrong row from the
		// lookup leaking timing information.
		stored, err := hex.DecodeString(id.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// identity returns the authenticated identity set by Auth.
func identity(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*auth.Identity)
	return id, ok
}
