package controller

import (
	"net/http"

	"logsight-backend/internal/dto"
	"logsight-backend/internal/model"
	"logsight-backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type LogController struct {
	ingestService service.IngestService
}

func NewLogController(ingestService service.IngestService) *LogController {
	return &LogController{
		ingestService: ingestService,
	}
}

func RegisterLogRoutes(router *gin.Engine, controller *LogController) {
	v1 := router.Group("/api/v1/logs")
	{
		v1.POST("/load", controller.HandleLoadLogs)
		v1.GET("/statistics", controller.HandleGetStatistics)
		v1.DELETE("/session/:id", controller.HandleClearSession)
	}
}

// HandleLoadLogs ingests one logcat file end to end and returns the session
// id plus ingestion counters.
func (c *LogController) HandleLoadLogs(ctx *gin.Context) {
	var req dto.LoadLogsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid load logs request body")
		ctx.JSON(http.StatusBadRequest, model.NewResponse("Invalid request body: "+err.Error(), nil))
		return
	}

	stats, err := c.ingestService.LoadLogs(ctx.Request.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("file", req.FilePath).Msg("Failed to load log file")
		ctx.JSON(http.StatusInternalServerError, dto.LoadLogsResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, dto.LoadLogsResponse{
		Success:    true,
		Message:    "Log file loaded",
		Statistics: stats,
	})
}

// HandleGetStatistics reports counts for the given session, or the current
// one when the query parameter is absent.
func (c *LogController) HandleGetStatistics(ctx *gin.Context) {
	sessionID := ctx.Query("sessionId")

	stats, err := c.ingestService.GetStatistics(ctx.Request.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to read statistics")
		ctx.JSON(http.StatusInternalServerError, model.NewResponse("Internal server error", nil))
		return
	}

	ctx.JSON(http.StatusOK, model.NewResponse("Statistics retrieved", stats))
}

func (c *LogController) HandleClearSession(ctx *gin.Context) {
	sessionID := ctx.Param("id")
	if sessionID == "" {
		ctx.JSON(http.StatusBadRequest, model.NewResponse("Session id is required", nil))
		return
	}

	if err := c.ingestService.ClearSession(ctx.Request.Context(), sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to clear session")
		ctx.JSON(http.StatusInternalServerError, model.NewResponse("Internal server error", nil))
		return
	}

	ctx.JSON(http.StatusOK, model.NewResponse("Session cleared", nil))
}
