package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/kg-sidecar/internal/config"
	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/kg"
)

type TurnHandler struct {
	orchestrator *kg.Orchestrator
	defaults     *config.PipelineDefaults
}

func NewTurnHandler(orchestrator *kg.Orchestrator, defaults *config.PipelineDefaults) *TurnHandler {
	return &TurnHandler{orchestrator: orchestrator, defaults: defaults}
}

func turnStatusCode(result *domain.TurnResult) int {
	if result.OK {
		return http.StatusOK
	}
	switch result.Commit.ReasonCode {
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	case domain.CodeInProgress:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// POST /turn/commit
func (h *TurnHandler) CommitTurn(c *gin.Context) {
	var req domain.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, domain.CodeInvalidRequest, err)
		return
	}
	h.defaults.Apply(&req.Config)

	result := h.orchestrator.CommitTurn(c.Request.Context(), &req, kg.CommitOptions{})
	c.JSON(turnStatusCode(result), result)
}

// GET /turn/status/:turnId
func (h *TurnHandler) GetTurnStatus(c *gin.Context) {
	status := h.orchestrator.GetTurnStatus(c.Request.Context(), c.Param("turnId"))
	if status == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "reason": "Turn not found."})
		return
	}
	RespondOK(c, gin.H{"ok": true, "status": status})
}

// POST /turn/retry
func (h *TurnHandler) RetryTurn(c *gin.Context) {
	var body struct {
		TurnID string `json:"turn_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, domain.CodeInvalidRequest, err)
		return
	}

	result := h.orchestrator.RetryTurn(c.Request.Context(), strings.TrimSpace(body.TurnID))
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /db/clear
func (h *TurnHandler) ClearDatabase(c *gin.Context) {
	var body struct {
		Confirm bool `json:"confirm"`
		Config  struct {
			DB *domain.DBConfig `json:"db"`
		} `json:"config"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, domain.CodeInvalidRequest, err)
		return
	}
	if !body.Confirm {
		RespondError(c, http.StatusBadRequest, domain.CodeInvalidRequest,
			errors.New("clear requires confirm=true"))
		return
	}

	outcome := h.orchestrator.ClearDatabase(c.Request.Context(), body.Config.DB)
	if !outcome.OK {
		c.JSON(http.StatusUnprocessableEntity, outcome)
		return
	}
	RespondOK(c, outcome)
}
