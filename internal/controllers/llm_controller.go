package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/autolog/logsentinel/internal/services"
)

type LLMController struct {
	llm services.LLMClient
}

func NewLLMController(llm services.LLMClient) *LLMController {
	return &LLMController{llm: llm}
}

// GetLLMStatus reports provider reachability and the models it offers
func (lc *LLMController) GetLLMStatus(c *gin.Context) {
	ctx := c.Request.Context()
	healthError := lc.llm.CheckLLMHealth(ctx)
	models, modelsError := lc.llm.GetAvailableModels(ctx)

	status := "healthy"
	if healthError != nil {
		status = "unhealthy"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"provider":        lc.llm.Provider(),
		"healthError":     errString(healthError),
		"embeddingModel":  lc.llm.EmbeddingModel(),
		"availableModels": models,
		"modelsError":     errString(modelsError),
	})
}

func (lc *LLMController) GetLLMAPICalls(c *gin.Context) {
	calls := lc.llm.GetAPICalls()
	c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}

func (lc *LLMController) ClearLLMAPICalls(c *gin.Context) {
	lc.llm.ClearAPICalls()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
