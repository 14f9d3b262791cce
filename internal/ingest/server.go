// Package ingest is a minimal ingestion server used to benchmark the agent: it
// accepts folded profiles on /ingest and records what it received.
package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

const (
	ModeFast = "fast"
	ModeSlow = "slow"

	DefaultAddr      = ":4040"
	DefaultSlowDelay = 5 * time.Second
	EnvMode          = "PUSHPROF_BENCHMARK_INGESTER_TYPE"

	maxBodySize = 32 << 20
)

type Server struct {
	store     Store
	mode      string
	slowDelay time.Duration
	log       logrus.FieldLogger
	engine    *gin.Engine
}

// NewServer builds the routes. In slow mode every ingest request is answered
// after slowDelay.
func NewServer(store Store, mode string, slowDelay time.Duration, log logrus.FieldLogger) *Server {
	if slowDelay <= 0 {
		slowDelay = DefaultSlowDelay
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		store:     store,
		mode:      mode,
		slowDelay: slowDelay,
		log:       log,
		engine:    gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.POST("/ingest", s.handleIngest)
	s.engine.GET("/windows", s.handleWindows)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.WithFields(logrus.Fields{"addr": addr, "mode": s.mode}).Info("ingester listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.slowDelay+time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIngest(c *gin.Context) {
	name := c.Query("name")
	from, errFrom := strconv.ParseInt(c.Query("from"), 10, 64)
	until, errUntil := strconv.ParseInt(c.Query("until"), 10, 64)
	if name == "" || errFrom != nil || errUntil != nil || until < from {
		c.String(http.StatusBadRequest, "name, from and until are required")
		return
	}

	var r io.Reader = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	if c.GetHeader("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r)
		if err != nil {
			c.String(http.StatusBadRequest, "bad gzip body: %v", err)
			return
		}
		defer zr.Close()
		r = zr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		c.String(http.StatusBadRequest, "read body: %v", err)
		return
	}
	stacks, total, err := parseFolded(body)
	if err != nil {
		c.String(http.StatusBadRequest, "bad folded profile: %v", err)
		return
	}

	if s.mode == ModeSlow {
		select {
		case <-time.After(s.slowDelay):
		case <-c.Request.Context().Done():
			return
		}
	}

	sampleRate, _ := strconv.Atoi(c.Query("sampleRate"))
	w := &Window{
		Name:       name,
		From:       from,
		Until:      until,
		Units:      c.Query("units"),
		SpyName:    c.Query("spyName"),
		SampleRate: sampleRate,
		UploadID:   c.GetHeader("X-Upload-Id"),
		Bytes:      len(body),
		Stacks:     stacks,
		Total:      total,
		ReceivedAt: time.Now(),
	}
	if err := s.store.Save(c.Request.Context(), w); err != nil {
		s.log.WithError(err).Error("save window failed")
		c.String(http.StatusInternalServerError, "store: %v", err)
		return
	}
	s.log.WithFields(logrus.Fields{
		"name":   name,
		"from":   from,
		"until":  until,
		"stacks": stacks,
		"bytes":  len(body),
	}).Debug("window ingested")
	c.Status(http.StatusOK)
}

func (s *Server) handleWindows(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	windows, err := s.store.List(c.Request.Context(), c.Query("name"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"windows": windows})
}
