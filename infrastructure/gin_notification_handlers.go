package infrastructure

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/infrastructure/push"
	"github.com/vitovidale/video-pipeline/usecase"
	"go.uber.org/zap"
)

type NotificationHandlers struct {
	Notifications *usecase.NotificationService
	Hub           *push.Hub
	log           *zap.Logger
}

func NewNotificationHandlers(notifications *usecase.NotificationService, hub *push.Hub, log *zap.Logger) *NotificationHandlers {
	return &NotificationHandlers{
		Notifications: notifications,
		Hub:           hub,
		log:           log.Named("http.notifications"),
	}
}

func (h *NotificationHandlers) ListHandler(c *gin.Context) {
	limit, offset := pagination(c)
	unreadOnly := c.Query("unread") == "true"
	items, err := h.Notifications.List(c.Request.Context(), memberID(c), unreadOnly, limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	views := make([]domain.NotificationView, 0, len(items))
	for _, n := range items {
		views = append(views, n.View())
	}
	c.JSON(http.StatusOK, gin.H{"items": views})
}

func (h *NotificationHandlers) UnreadCountHandler(c *gin.Context) {
	count, err := h.Notifications.UnreadCount(c.Request.Context(), memberID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *NotificationHandlers) MarkReadHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Notifications.MarkRead(c.Request.Context(), memberID(c), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandlers) MarkAllReadHandler(c *gin.Context) {
	n, err := h.Notifications.MarkAllRead(c.Request.Context(), memberID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// StreamHandler holds an SSE connection open until the client leaves, the
// hub closes it (replacement, timeout, failed write) or the server stops.
func (h *NotificationHandlers) StreamHandler(c *gin.Context) {
	member := memberID(c)
	if err := startSSE(c); err != nil {
		return
	}

	conn, err := h.Hub.Connect(member, newSSEWriter(c.Writer, h.log))
	if err != nil {
		h.log.Info("stream closed before registration", zap.String("member_id", member.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	select {
	case <-c.Request.Context().Done():
	case <-conn.Done():
	}
}

func (h *NotificationHandlers) DisconnectHandler(c *gin.Context) {
	disconnected := h.Hub.Disconnect(memberID(c))
	c.JSON(http.StatusOK, gin.H{"disconnected": disconnected})
}
