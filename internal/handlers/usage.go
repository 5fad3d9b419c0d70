package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mluukkai/gptwrapper/internal/store"
	"github.com/mluukkai/gptwrapper/pkg/logging"
)

// PrecheckUsage answers whether a user may proceed on a course-scoped chat
// instance with a model. Called by the chat handler before the model call.
// Store failures deny: quota integrity beats availability here.
func PrecheckUsage(c *gin.Context) {
	var req PrecheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, PrecheckResponse{Error: err.Error()})
		return
	}

	allowed, err := engine.Precheck(c.Request.Context(), req.User, req.CourseID, req.Model)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, PrecheckResponse{Error: err.Error()})
			return
		}
		logger.WithError(err).WithFields(logging.Fields{
			"user_id":   req.User.ID,
			"course_id": req.CourseID,
		}).Error("Precheck failed, denying request")
		c.JSON(http.StatusInternalServerError, PrecheckResponse{Error: "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, PrecheckResponse{Allowed: allowed})
}

// RecordTokenUsage accounts the messages of a completed request against
// both the global and the course-scoped counter.
func RecordTokenUsage(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, RecordResponse{Error: err.Error()})
		return
	}

	encode := encoderFor(req.Options.Model)
	tokenCount, err := engine.RecordUsage(c.Request.Context(), req.User, req.CourseID, req.Options, encode)
	if err != nil {
		fields := logging.Fields{
			"user_id":   req.User.ID,
			"course_id": req.CourseID,
		}
		switch {
		case errors.Is(err, store.ErrInconsistentState):
			logger.WithError(err).WithFields(fields).Error("Accounting failed: usage row was never provisioned")
			c.JSON(http.StatusConflict, RecordResponse{Error: err.Error()})
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, RecordResponse{Error: err.Error()})
		default:
			logger.WithError(err).WithFields(fields).Error("Accounting failed")
			c.JSON(http.StatusInternalServerError, RecordResponse{Error: "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, RecordResponse{TokenCount: tokenCount})
}
