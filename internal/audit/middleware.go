package audit

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gild/internal/auth"
)

// Middleware records one audit entry per request once the handler chain has
// finished, whether or not authentication succeeded.
func Middleware(rec *Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		draft := &Draft{
			Endpoint: c.Request.URL.Path,
			IP:       ClientIP(c.Request),
		}
		c.Set(draftContextKey, draft)

		c.Next()

		var handlerErr error
		if last := c.Errors.Last(); last != nil {
			handlerErr = last.Err
		}
		entry, err := draft.finalize(auth.CurrentUserID(c), handlerErr)
		if err != nil {
			rec.cfg.Logger.WithFields(logrus.Fields{
				"endpoint":   draft.Endpoint,
				"request_id": c.GetString("request_id"),
			}).WithError(err).Warn("audit payload not serializable")
		}
		rec.Submit(entry)
	}
}
