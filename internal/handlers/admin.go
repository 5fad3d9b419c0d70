package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mluukkai/gptwrapper/pkg/logging"
)

// GetChatInstances lists every configured chat instance with its limit.
func GetChatInstances(c *gin.Context) {
	instances, err := adminStore.ListServices(c.Request.Context())
	if err != nil {
		observeAdminOp("list_services", "error")
		logger.WithError(err).Error("Failed to list chat instances")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	observeAdminOp("list_services", "success")
	c.JSON(http.StatusOK, gin.H{"chat_instances": instances})
}

// GetUsageRecords lists every per-user per-instance usage counter.
func GetUsageRecords(c *gin.Context) {
	records, err := adminStore.ListUsage(c.Request.Context())
	if err != nil {
		observeAdminOp("list_usage", "error")
		logger.WithError(err).Error("Failed to list usage records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	observeAdminOp("list_usage", "success")
	c.JSON(http.StatusOK, gin.H{"usage_records": records})
}

// UpdateChatInstanceLimit sets a chat instance's usage limit and flushes
// the resolver cache so the new limit takes effect immediately.
func UpdateChatInstanceLimit(c *gin.Context) {
	instanceID := c.Param("id")

	var req UpdateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := adminStore.UpdateServiceLimit(c.Request.Context(), instanceID, *req.UsageLimit); err != nil {
		observeAdminOp("update_limit", "error")
		logger.WithError(err).WithField("chat_instance_id", instanceID).Error("Failed to update usage limit")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	serviceReg.Flush()
	observeAdminOp("update_limit", "success")
	logger.WithFields(logging.Fields{
		"chat_instance_id": instanceID,
		"usage_limit":      *req.UsageLimit,
	}).Info("Updated chat instance usage limit")
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// ResetUsage zeroes a user's counter on one chat instance.
func ResetUsage(c *gin.Context) {
	userID := c.Param("userId")
	instanceID := c.Param("serviceId")

	if err := adminStore.ResetUsage(c.Request.Context(), userID, instanceID); err != nil {
		observeAdminOp("reset_usage", "error")
		logger.WithError(err).WithFields(logging.Fields{
			"user_id":          userID,
			"chat_instance_id": instanceID,
		}).Error("Failed to reset usage")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	observeAdminOp("reset_usage", "success")
	logger.WithFields(logging.Fields{
		"user_id":          userID,
		"chat_instance_id": instanceID,
	}).Info("Reset user usage")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func observeAdminOp(operation, status string) {
	if metrics != nil && metrics.AdminOperations != nil {
		metrics.AdminOperations.WithLabelValues(operation, status).Inc()
	}
}
