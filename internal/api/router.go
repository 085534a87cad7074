package api

import (
	"errors"
	"net/http"
	"time"

	"dashabr/internal/logger"
	"dashabr/internal/metrics"
	"dashabr/internal/queue"
	"dashabr/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// API serves player connections and the management endpoints.
type API struct {
	router        *gin.Engine
	sessionMgr    *session.Manager
	metrics       *metrics.Metrics
	logger        logger.Logger
	queueCapacity int
}

// New builds the router. queueCapacity sizes each player's output queue.
func New(log logger.Logger, sessionMgr *session.Manager, m *metrics.Metrics, queueCapacity int) *API {
	gin.SetMode(gin.ReleaseMode)
	a := &API{
		sessionMgr:    sessionMgr,
		metrics:       m,
		logger:        log,
		queueCapacity: queueCapacity,
	}
	a.setupRoutes()
	return a
}

func (a *API) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), a.requestLogger())

	router.GET("/healthz", a.handleHealth)
	router.GET("/stream/:name", a.handleStream)
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}

	api := router.Group("/api")
	{
		api.GET("/sessions", a.handleListSessions)
		api.GET("/sessions/:id", a.handleGetSession)
		api.DELETE("/sessions/:id", a.handleStopSession)
	}

	a.router = router
}

// Handler returns the http.Handler to mount on a server.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debugf("%s %s -> %d in %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": len(a.sessionMgr.Active()),
	})
}

// handleStream runs one session for the player on this connection and
// writes every segment to the response as it arrives, flushing per segment.
// The player disconnecting cancels the session.
func (a *API) handleStream(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()
	q := queue.New(a.queueCapacity)

	sess, err := a.sessionMgr.Start(ctx, name, q)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer sess.Stop()

	a.logger.Infof("Player %s connected to stream %s (session %s)", c.ClientIP(), name, sess.ID)
	c.Header("X-Session-ID", sess.ID.String())

	started := false
	for {
		item, err := q.Take(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) {
				a.logger.Infof("Player left stream %s: %v", name, err)
			}
			return
		}

		if item.IsEndOfStream() {
			if item.Err != nil && !started {
				c.JSON(http.StatusBadGateway, gin.H{"error": item.Err.Error()})
			}
			if item.Err != nil {
				a.logger.Warnf("Stream %s ended early: %v", name, item.Err)
			}
			return
		}

		if !started {
			c.Header("Content-Type", item.ContentType)
			c.Status(http.StatusOK)
			started = true
		}
		if _, err := c.Writer.Write(item.Data); err != nil {
			a.logger.Infof("Write to player failed on stream %s: %v", name, err)
			return
		}
		c.Writer.Flush()
	}
}

func (a *API) handleListSessions(c *gin.Context) {
	active := a.sessionMgr.Active()
	infos := make([]session.Info, len(active))
	for i, s := range active {
		infos[i] = s.Info()
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"total":    len(infos),
	})
}

func (a *API) lookup(c *gin.Context) (*session.Session, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return nil, false
	}
	s, ok := a.sessionMgr.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return s, true
}

func (a *API) handleGetSession(c *gin.Context) {
	s, ok := a.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

func (a *API) handleStopSession(c *gin.Context) {
	s, ok := a.lookup(c)
	if !ok {
		return
	}
	s.Stop()
	c.JSON(http.StatusOK, gin.H{"stopped": s.ID.String()})
}
