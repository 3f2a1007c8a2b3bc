package core

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/e7canasta/tcam-core/internal/catalog"
	"github.com/e7canasta/tcam-core/internal/control"
)

const maxCommandBytes = 64 * 1024

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// FrameResponse is the display frame as served by /api/display
type FrameResponse struct {
	Seq       uint64   `json:"seq"`
	TsMs      int64    `json:"ts_ms"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Min       uint16   `json:"min"`
	Max       uint16   `json:"max"`
	Playback  bool     `json:"playback"`
	Pixels    []uint16 `json:"pixels"`
	Telemetry []uint16 `json:"telemetry"`
}

// Router builds the HTTP API.
func (c *Camera) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", c.LivenessHandler)
	r.GET("/readiness", c.ReadinessHandler)

	api := r.Group("/api")
	api.GET("/status", c.handleStatus)
	api.GET("/catalog", c.handleCatalog)
	api.GET("/files/:dir/:name", c.handleFile)
	api.GET("/display", c.handleDisplay)
	api.POST("/command", c.handleCommand)

	r.GET("/stream", gin.WrapH(c.hub))
	return r
}

// StartHTTPServer starts the HTTP API on addr. It does not block.
func (c *Camera) StartHTTPServer(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      c.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	c.mu.Lock()
	c.httpServer = server
	c.mu.Unlock()

	slog.Info("starting http server",
		"addr", addr,
		"endpoints", []string{"/health", "/readiness", "/api/status", "/api/catalog", "/api/files/:dir/:name", "/api/display", "/api/command", "/stream"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		slog.Debug("http request",
			"method", ctx.Request.Method,
			"path", ctx.FullPath(),
			"status", ctx.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (c *Camera) handleStatus(ctx *gin.Context) {
	st, err := c.Status(ctx.Request.Context())
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}

func (c *Camera) handleCatalog(ctx *gin.Context) {
	dirIndex := catalog.RootIndex
	if raw := ctx.Query("dir"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     "invalid_dir",
				Message:   "dir must be an integer index",
				Timestamp: time.Now(),
			})
			return
		}
		dirIndex = n
	}

	names, err := c.ListCatalog(ctx.Request.Context(), dirIndex)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	ctx.JSON(http.StatusOK, gin.H{"dir_index": dirIndex, "names": names})
}

func (c *Camera) handleFile(ctx *gin.Context) {
	dir, name := ctx.Param("dir"), ctx.Param("name")
	data, err := c.ReadFile(ctx.Request.Context(), dir, name)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	ctx.Data(http.StatusOK, "application/octet-stream", data)
}

func (c *Camera) handleDisplay(ctx *gin.Context) {
	cur, ok := c.screen.Latest()
	if !ok {
		ctx.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "no_frame",
			Message:   "no frame has been displayed yet",
			Timestamp: time.Now(),
		})
		return
	}
	f := cur.Frame
	ctx.JSON(http.StatusOK, FrameResponse{
		Seq:       f.Seq,
		TsMs:      f.Timestamp.UnixMilli(),
		Width:     f.Width,
		Height:    f.Height,
		Min:       f.Min,
		Max:       f.Max,
		Playback:  cur.Playback,
		Pixels:    f.Pixels,
		Telemetry: f.Telemetry,
	})
}

func (c *Camera) handleCommand(ctx *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxCommandBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_body",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	resp := c.dispatcher.Execute(ctx.Request.Context(), payload)
	ctx.JSON(commandStatus(resp), resp)
}

// commandStatus maps a command response to an HTTP status.
func commandStatus(resp control.Response) int {
	if resp.Status == control.StatusSuccess {
		return http.StatusOK
	}
	switch resp.Category {
	case "":
		return http.StatusBadRequest
	case CategoryRequest.String():
		return http.StatusUnprocessableEntity
	case CategoryUnavailable.String():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(ctx *gin.Context, err error) {
	cat := Classify(err)
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		code = http.StatusNotFound
	case cat == CategoryRequest:
		code = http.StatusBadRequest
	case cat == CategoryUnavailable:
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, ErrorResponse{
		Error:     cat.String(),
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}
