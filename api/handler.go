package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ytaudio/config"
	"ytaudio/job"
	"ytaudio/video"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	jobs *job.Manager
	meta job.MetadataFetcher
	cfg  *config.Config
}

func NewHandler(jobs *job.Manager, meta job.MetadataFetcher, cfg *config.Config) *Handler {
	return &Handler{
		jobs: jobs,
		meta: meta,
		cfg:  cfg,
	}
}

// URLRequest is the body accepted by the POST endpoints. Older clients send
// videoUrl instead of youtubeUrl.
type URLRequest struct {
	YoutubeURL string `json:"youtubeUrl"`
	VideoURL   string `json:"videoUrl"`
}

func (r URLRequest) url() string {
	if r.YoutubeURL != "" {
		return r.YoutubeURL
	}
	return r.VideoURL
}

// bindURL reads the video URL from the JSON body and writes a 400 when it
// is missing.
func bindURL(c *gin.Context) (string, bool) {
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return "", false
	}
	if req.url() == "" {
		respondMessage(c, http.StatusBadRequest, "YouTube URL is required")
		return "", false
	}
	return req.url(), true
}

func queryURL(c *gin.Context) (string, bool) {
	raw := c.Query("url")
	if raw == "" {
		respondMessage(c, http.StatusBadRequest, "URL parameter is required")
		return "", false
	}
	return raw, true
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"message":    "YouTube to MP3 converter is running",
		"activeJobs": h.jobs.Active(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// handleVideoInfo answers POST /api/video-info.
func (h *Handler) handleVideoInfo(c *gin.Context) {
	if raw, ok := bindURL(c); ok {
		h.videoInfo(c, raw)
	}
}

// handleVideoInfoQuery answers GET /api/video-info?url=.
func (h *Handler) handleVideoInfoQuery(c *gin.Context) {
	if raw, ok := queryURL(c); ok {
		h.videoInfo(c, raw)
	}
}

func (h *Handler) videoInfo(c *gin.Context, raw string) {
	id, ok := video.ExtractID(raw)
	if !ok {
		respondError(c, fmt.Errorf("%w: Invalid YouTube URL format", video.ErrInvalidInput))
		return
	}

	ctx := c.Request.Context()
	if h.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.ProviderTimeout)
		defer cancel()
	}

	meta, err := h.meta.FetchMetadata(ctx, id)
	if err != nil {
		requestLogger(c).Warn().Err(err).Str("video_id", id.String()).Msg("video info lookup failed")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "video": meta})
}

// handleDownloadMP3 answers POST /api/download-mp3 with the audio stream.
func (h *Handler) handleDownloadMP3(c *gin.Context) {
	if raw, ok := bindURL(c); ok {
		h.download(c, raw)
	}
}

// handleDownload answers GET /api/download?url=.
func (h *Handler) handleDownload(c *gin.Context) {
	if raw, ok := queryURL(c); ok {
		h.download(c, raw)
	}
}

// download runs a job against the response. Once audio bytes have gone out
// the job owns the connection and nothing more is written here.
func (h *Handler) download(c *gin.Context, raw string) {
	j, err := h.jobs.Run(c.Request.Context(), raw, c.Writer)
	log := requestLogger(c).With().Str("job_id", j.ID).Logger()
	if err == nil {
		log.Info().Str("video_id", j.Snapshot().VideoID).Msg("download served")
		return
	}
	if j.HeadersSent() {
		log.Warn().Err(err).Msg("download ended after response started")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, video.ErrDelivery) {
		log.Info().Err(err).Msg("client went away before download started")
		return
	}
	respondError(c, err)
}

// handleDebugURL reports how a URL is parsed without touching the network.
func (h *Handler) handleDebugURL(c *gin.Context) {
	raw, ok := bindURL(c)
	if !ok {
		return
	}
	resp := gin.H{
		"success":          true,
		"originalUrl":      raw,
		"extractedVideoId": nil,
		"constructedUrl":   nil,
	}
	if id, ok := video.ExtractID(raw); ok {
		resp["extractedVideoId"] = id.String()
		resp["constructedUrl"] = id.URL()
	}
	c.JSON(http.StatusOK, resp)
}

// handleListJobs lists all known jobs, newest first.
func (h *Handler) handleListJobs(c *gin.Context) {
	jobs := h.jobs.List()
	snaps := make([]job.Snapshot, 0, len(jobs))
	for _, j := range jobs {
		snaps = append(snaps, j.Snapshot())
	}
	c.JSON(http.StatusOK, snaps)
}

// handleGetJob retrieves the status of a single job.
func (h *Handler) handleGetJob(c *gin.Context) {
	j, found := h.jobs.Get(c.Param("jobId"))
	if !found {
		respondMessage(c, http.StatusNotFound, "Job not found")
		return
	}
	c.JSON(http.StatusOK, j.Snapshot())
}

// handleCancelJob cancels a running job.
func (h *Handler) handleCancelJob(c *gin.Context) {
	if err := h.jobs.Cancel(c.Param("jobId")); err != nil {
		respondMessage(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Job cancellation requested"})
}
