package infrastructure

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sseWriteTimeout = 10 * time.Second

// sseWriter frames hub events as server-sent events on a gin response.
type sseWriter struct {
	w          gin.ResponseWriter
	rc         *http.ResponseController
	log        *zap.Logger
	noDeadline bool
}

func newSSEWriter(w gin.ResponseWriter, log *zap.Logger) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w), log: log}
}

func (s *sseWriter) WriteEvent(name string, data []byte) error {
	if !s.noDeadline {
		if err := s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
			// Without deadlines a stuck client is bounded by the connection timeout.
			s.noDeadline = errors.Is(err, http.ErrNotSupported)
			s.log.Debug("sse write deadline not set", zap.String("event", name), zap.Error(err))
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func startSSE(c *gin.Context) error {
	headers := c.Writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(c.Writer, "retry: 2000\n\n"); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
