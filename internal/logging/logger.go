package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

type Logger struct {
	*logrus.Logger
}

// NewLogger returns a JSON logger at level. An unknown level falls back to info.
func NewLogger(level string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.SetLevel(logrus.InfoLevel)
		log.WithField("level", level).Warn("unknown log level, using info")
	} else {
		log.SetLevel(lvl)
	}

	return &Logger{
		log,
	}
}

// LoggingMiddleWare tags each request with an id and logs it once it is served.
func (l *Logger) LoggingMiddleWare() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		statusCode := c.Writer.Status()
		fields := logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     statusCode,
			"duration":   time.Since(start),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		entry := l.WithFields(fields)
		switch {
		case statusCode >= 500:
			entry.Error("Request-Response")
		case statusCode >= 400:
			entry.Warn("Request-Response")
		default:
			entry.Info("Request-Response")
		}
	}
}
