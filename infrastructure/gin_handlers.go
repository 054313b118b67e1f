// infrastructure/gin_handlers.go
package infrastructure

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/usecase"
)

type VideoHandlers struct {
	UploadVideoUC *usecase.UploadVideoUseCase
	Videos        *usecase.VideoService
}

func NewVideoHandlers(uploadUC *usecase.UploadVideoUseCase, videos *usecase.VideoService) *VideoHandlers {
	return &VideoHandlers{
		UploadVideoUC: uploadUC,
		Videos:        videos,
	}
}

type initiateUploadRequest struct {
	FileName       string `json:"fileName" binding:"required"`
	SizeBytes      int64  `json:"sizeBytes" binding:"required,gt=0"`
	ContentType    string `json:"contentType"`
	ProcessingType string `json:"processingType" binding:"required"`
}

type completeUploadRequest struct {
	DurationSeconds float64 `json:"durationSeconds" binding:"required,gt=0"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Codec           string  `json:"codec"`
	Bitrate         int64   `json:"bitrate"`
	FrameRate       float64 `json:"frameRate"`
}

type videoView struct {
	ID                       snowflake.ID          `json:"id"`
	Status                   domain.VideoStatus    `json:"status"`
	ProcessingType           domain.ProcessingType `json:"processingType"`
	Original                 domain.FileDescriptor `json:"original"`
	OriginalMetadata         domain.VideoMetadata  `json:"originalMetadata"`
	OriginalDeleted          bool                  `json:"originalDeleted"`
	Processed                *domain.ProcessedFile `json:"processed,omitempty"`
	JobID                    string                `json:"jobId,omitempty"`
	AIJobID                  string                `json:"aiJobId,omitempty"`
	RetryCount               int                   `json:"retryCount"`
	ProgressPercentage       *int                  `json:"progressPercentage,omitempty"`
	EstimatedTimeLeftSeconds *int                  `json:"estimatedTimeLeftSeconds,omitempty"`
	CurrentStep              string                `json:"currentStep,omitempty"`
	ErrorMessage             string                `json:"errorMessage,omitempty"`
	CreatedAt                time.Time             `json:"createdAt"`
	UpdatedAt                time.Time             `json:"updatedAt"`
}

func toVideoView(v domain.Video) videoView {
	return videoView{
		ID:                       v.ID,
		Status:                   v.Status,
		ProcessingType:           v.ProcessingType,
		Original:                 v.Original,
		OriginalMetadata:         v.OriginalMetadata,
		OriginalDeleted:          v.OriginalDeleted,
		Processed:                v.Processed,
		JobID:                    v.JobID,
		AIJobID:                  v.ExternalJobID,
		RetryCount:               v.RetryCount,
		ProgressPercentage:       v.ProgressPercentage,
		EstimatedTimeLeftSeconds: v.EstimatedTimeLeftSeconds,
		CurrentStep:              v.CurrentStep,
		ErrorMessage:             v.ErrorMessage,
		CreatedAt:                v.CreatedAt,
		UpdatedAt:                v.UpdatedAt,
	}
}

func (h *VideoHandlers) InitiateUploadHandler(c *gin.Context) {
	var req initiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	pt, err := domain.ParseProcessingType(req.ProcessingType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	output, err := h.UploadVideoUC.Execute(c.Request.Context(), usecase.UploadVideoInput{
		MemberID:         memberID(c),
		OriginalFilename: req.FileName,
		SizeBytes:        req.SizeBytes,
		ContentType:      req.ContentType,
		ProcessingType:   pt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"video":     toVideoView(output.Video),
		"uploadUrl": output.UploadURL,
	})
}

func (h *VideoHandlers) CompleteUploadHandler(c *gin.Context) {
	videoID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req completeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	output, err := h.UploadVideoUC.CompleteUpload(c.Request.Context(), usecase.CompleteUploadInput{
		MemberID: memberID(c),
		VideoID:  videoID,
		Metadata: domain.VideoMetadata{
			DurationSeconds: req.DurationSeconds,
			Width:           req.Width,
			Height:          req.Height,
			Codec:           req.Codec,
			BitrateKbps:     req.Bitrate,
			FrameRate:       req.FrameRate,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"video":           toVideoView(output.Video),
		"jobId":           output.Job.ID,
		"dispatchStatus":  output.Job.Status,
		"creditsCharged":  output.CreditsCharged,
		"remainingCredit": output.RemainingCredit,
	})
}

func (h *VideoHandlers) ListVideosHandler(c *gin.Context) {
	limit, offset := pagination(c)
	videos, err := h.Videos.List(c.Request.Context(), memberID(c), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	items := make([]videoView, 0, len(videos))
	for _, v := range videos {
		items = append(items, toVideoView(v))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *VideoHandlers) GetVideoHandler(c *gin.Context) {
	videoID, ok := pathID(c, "id")
	if !ok {
		return
	}
	video, err := h.Videos.Get(c.Request.Context(), memberID(c), videoID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVideoView(video))
}

func (h *VideoHandlers) ArchiveVideoHandler(c *gin.Context) {
	videoID, ok := pathID(c, "id")
	if !ok {
		return
	}
	video, err := h.Videos.Archive(c.Request.Context(), memberID(c), videoID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVideoView(video))
}

func (h *VideoHandlers) DeleteOriginalHandler(c *gin.Context) {
	videoID, ok := pathID(c, "id")
	if !ok {
		return
	}
	video, err := h.Videos.MarkOriginalDeleted(c.Request.Context(), memberID(c), videoID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVideoView(video))
}

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}
