package controller

import (
	"errors"
	"net/http"

	"logsight-backend/internal/dto"
	"logsight-backend/internal/model"
	"logsight-backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type AnalysisController struct {
	analysisService service.AnalysisService
}

func NewAnalysisController(analysisService service.AnalysisService) *AnalysisController {
	return &AnalysisController{
		analysisService: analysisService,
	}
}

func RegisterAnalysisRoutes(router *gin.Engine, controller *AnalysisController) {
	v1 := router.Group("/api/v1/analysis")
	{
		v1.POST("/query", controller.HandleAnalyzeQuery)
	}
}

// HandleAnalyzeQuery runs one analysis turn. Omitting threadId starts a new
// conversation; passing one continues it.
func (c *AnalysisController) HandleAnalyzeQuery(ctx *gin.Context) {
	var req dto.AnalyzeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid analysis request body")
		ctx.JSON(http.StatusBadRequest, model.NewResponse("Invalid request body: "+err.Error(), nil))
		return
	}

	resp, err := c.analysisService.Analyze(ctx.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			ctx.JSON(http.StatusConflict, model.NewResponse("No log session loaded, call /api/v1/logs/load first", nil))
			return
		}
		log.Error().Err(err).Str("query", req.Query).Msg("Internal error processing analysis query")
		ctx.JSON(http.StatusInternalServerError, model.NewResponse("Internal server error", nil))
		return
	}

	ctx.JSON(http.StatusOK, resp)
}
