package api

import (
	"ytaudio/config"
	"ytaudio/job"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func SetupRouter(jobs *job.Manager, meta job.MetadataFetcher, cfg *config.Config, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(logger), AccessLog(), gin.Recovery())
	h := NewHandler(jobs, meta, cfg)

	// Health check
	r.GET("/health", h.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/video-info", h.handleVideoInfo)
		api.GET("/video-info", h.handleVideoInfoQuery)
		api.POST("/debug-url", h.handleDebugURL)

		// Audio downloads block until the job finishes.
		api.POST("/download-mp3", h.handleDownloadMP3)
		api.GET("/download", h.handleDownload)

		api.GET("/jobs", h.handleListJobs)
		api.GET("/jobs/:jobId", h.handleGetJob)
		api.PATCH("/jobs/:jobId/cancel", h.handleCancelJob)
	}
	return r
}
