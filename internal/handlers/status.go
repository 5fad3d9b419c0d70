package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mluukkai/gptwrapper/internal/models"
	"github.com/mluukkai/gptwrapper/internal/store"
	"github.com/mluukkai/gptwrapper/pkg/auth"
)

const statusCacheTTL = 30 * time.Second

// GetStatus returns the authenticated user's quota view for one course.
// When Redis is configured, responses are cached briefly so UI polling
// across replicas does not hammer the database.
func GetStatus(c *gin.Context) {
	claims, ok := auth.CurrentClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	user := userFromClaims(claims)

	courseID := c.Query("course_id")
	if courseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "course_id is required"})
		return
	}

	cacheKey := fmt.Sprintf("status:%s:%s", user.ID, courseID)
	if cached, ok := statusCacheGet(c, cacheKey); ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
		return
	}

	status, err := engine.UserStatus(c.Request.Context(), user, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No chat instance configured for course"})
			return
		}
		logger.WithError(err).WithField("course_id", courseID).Error("Failed to resolve user status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	statusCacheSet(c, cacheKey, status)
	c.JSON(http.StatusOK, status)
}

func statusCacheGet(c *gin.Context, key string) ([]byte, bool) {
	if statusCache == nil {
		return nil, false
	}

	data, err := statusCache.Get(c.Request.Context(), key).Bytes()
	if err != nil {
		observeStatusCache("miss")
		return nil, false
	}
	observeStatusCache("hit")
	return data, true
}

func statusCacheSet(c *gin.Context, key string, status models.UserStatus) {
	if statusCache == nil {
		return
	}

	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := statusCache.Set(c.Request.Context(), key, data, statusCacheTTL).Err(); err != nil {
		// cache is best-effort
		logger.WithError(err).Debug("Failed to cache user status")
	}
}

func observeStatusCache(result string) {
	if metrics != nil && metrics.StatusCache != nil {
		metrics.StatusCache.WithLabelValues(result).Inc()
	}
}

func userFromClaims(claims *auth.Claims) models.User {
	return models.User{
		ID:          claims.UserID,
		Username:    claims.Username,
		IsAdmin:     claims.IsAdmin,
		IsPowerUser: claims.IsPowerUser,
		IamGroups:   claims.IamGroups,
	}
}
