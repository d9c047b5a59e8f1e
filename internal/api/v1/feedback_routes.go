package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type feedbackRequest struct {
	Rating     int    `json:"rating" binding:"required"`
	Suggestion string `json:"suggestion"`
}

func (h *Handlers) submitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "rating is required")
		return
	}
	id, err := h.repos.Feedback.Save(c.GetString("tenant_id"), req.Rating, req.Suggestion)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handlers) listFeedback(c *gin.Context) {
	entries, err := h.repos.Feedback.List()
	if err != nil {
		internalError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": entries})
}

type feedbackResponseRequest struct {
	Response string `json:"response" binding:"required"`
}

func (h *Handlers) respondFeedback(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid feedback id")
		return
	}
	var req feedbackResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "response is required")
		return
	}
	found, err := h.repos.Feedback.Respond(id, req.Response)
	if err != nil {
		internalError(c, err.Error())
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "feedback not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "admin_response": req.Response})
}
