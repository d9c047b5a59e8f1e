package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nexuseval/pkg/prompts"
)

func (h *Handlers) listPrompts(c *gin.Context) {
	entries, err := h.registry.List()
	if err != nil {
		internalError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": entries})
}

func (h *Handlers) getPrompt(c *gin.Context) {
	entry, err := h.registry.Get(c.Param("key"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "prompt not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handlers) updatePrompt(c *gin.Context) {
	var update prompts.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "invalid prompt update payload")
		return
	}
	found, err := h.registry.UpdateEntry(c.Param("key"), update)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "prompt not found"})
		return
	}
	entry, err := h.registry.Get(c.Param("key"))
	if err != nil {
		internalError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, entry)
}
