package infrastructure

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/usecase"
)

// WebhookHandlers receive worker callbacks. Duplicates and stale deliveries
// answer 200 so the worker does not retry them.
type WebhookHandlers struct {
	Ingestor *usecase.WebhookIngestor
}

func NewWebhookHandlers(ingestor *usecase.WebhookIngestor) *WebhookHandlers {
	return &WebhookHandlers{Ingestor: ingestor}
}

type startedWebhook struct {
	VideoID snowflake.ID `json:"videoId" binding:"required"`
	AIJobID string       `json:"aiJobId"`
}

type progressWebhook struct {
	VideoID                  snowflake.ID `json:"videoId" binding:"required"`
	AIJobID                  string       `json:"aiJobId"`
	ProgressPercentage       int          `json:"progressPercentage"`
	EstimatedTimeLeftSeconds *int         `json:"estimatedTimeLeftSeconds"`
	CurrentStep              string       `json:"currentStep"`
}

type completedWebhook struct {
	VideoID                  snowflake.ID `json:"videoId" binding:"required"`
	AIJobID                  string       `json:"aiJobId"`
	ProcessedS3Key           string       `json:"processedS3Key" binding:"required"`
	ProcessedFileSizeBytes   int64        `json:"processedFileSizeBytes"`
	ProcessedDurationSeconds float64      `json:"processedDurationSeconds"`
	ProcessedWidth           int          `json:"processedWidth"`
	ProcessedHeight          int          `json:"processedHeight"`
	ProcessedCodec           string       `json:"processedCodec"`
	ProcessedBitrate         int64        `json:"processedBitrate"`
	ProcessedFrameRate       float64      `json:"processedFrameRate"`
	ThumbnailS3Key           string       `json:"thumbnailS3Key"`
}

type failedWebhook struct {
	VideoID      snowflake.ID `json:"videoId" binding:"required"`
	AIJobID      string       `json:"aiJobId"`
	ErrorMessage string       `json:"errorMessage"`
	ErrorCode    string       `json:"errorCode"`
}

func (h *WebhookHandlers) StartedHandler(c *gin.Context) {
	var req startedWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	outcome, err := h.Ingestor.OnProcessingStarted(c.Request.Context(), usecase.ProcessingStartedInput{
		VideoID: req.VideoID,
		AIJobID: req.AIJobID,
	})
	respondWebhook(c, outcome, err)
}

func (h *WebhookHandlers) ProgressHandler(c *gin.Context) {
	var req progressWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	outcome, err := h.Ingestor.OnProcessingProgress(c.Request.Context(), usecase.ProcessingProgressInput{
		VideoID:                  req.VideoID,
		AIJobID:                  req.AIJobID,
		ProgressPercentage:       req.ProgressPercentage,
		EstimatedTimeLeftSeconds: req.EstimatedTimeLeftSeconds,
		CurrentStep:              req.CurrentStep,
	})
	respondWebhook(c, outcome, err)
}

func (h *WebhookHandlers) CompletedHandler(c *gin.Context) {
	var req completedWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	outcome, err := h.Ingestor.OnProcessingCompleted(c.Request.Context(), usecase.ProcessingCompletedInput{
		VideoID: req.VideoID,
		AIJobID: req.AIJobID,
		Processed: domain.ProcessedFile{
			File: domain.FileDescriptor{
				Name:       req.ProcessedS3Key,
				SizeBytes:  req.ProcessedFileSizeBytes,
				StorageKey: req.ProcessedS3Key,
			},
			Metadata: domain.VideoMetadata{
				DurationSeconds: req.ProcessedDurationSeconds,
				Width:           req.ProcessedWidth,
				Height:          req.ProcessedHeight,
				Codec:           req.ProcessedCodec,
				BitrateKbps:     req.ProcessedBitrate,
				FrameRate:       req.ProcessedFrameRate,
			},
			ThumbnailKey: req.ThumbnailS3Key,
		},
	})
	respondWebhook(c, outcome, err)
}

func (h *WebhookHandlers) FailedHandler(c *gin.Context) {
	var req failedWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	outcome, err := h.Ingestor.OnProcessingFailed(c.Request.Context(), usecase.ProcessingFailedInput{
		VideoID:      req.VideoID,
		AIJobID:      req.AIJobID,
		ErrorMessage: req.ErrorMessage,
		ErrorCode:    req.ErrorCode,
	})
	respondWebhook(c, outcome, err)
}

func respondWebhook(c *gin.Context, outcome usecase.WebhookOutcome, err error) {
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": outcome})
}
