package remotetest

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/polydrive/polydrive/internal/remote"
)

type uploadQuery struct {
	Path string `form:"path" binding:"required"`
	Hash string `form:"hash"`
}

// Server serves a Store over the remote HTTP API
type Server struct {
	*Store
	URL string

	failStatus atomic.Int32
	failCount  atomic.Int32
}

// NewServer starts an HTTP test server backed by a fresh Store.
// The server is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{Store: NewStore()}
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)

	s.URL = ts.URL
	return s
}

// FailNext answers the next n requests with status and a JSON error body
func (s *Server) FailNext(n int, status int) {
	s.failStatus.Store(int32(status))
	s.failCount.Store(int32(n))
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.injectFailures)

	v1 := r.Group("/api/v1")
	v1.GET("/files", s.list)
	v1.PUT("/files", s.upload)
	v1.DELETE("/files/:id", s.delete)
	v1.GET("/files/:id/content", s.content)
	return r
}

func (s *Server) injectFailures(ctx *gin.Context) {
	if s.failCount.Add(-1) >= 0 {
		status := int(s.failStatus.Load())
		ctx.AbortWithStatusJSON(status, &remote.APIError{
			Code:    remote.CodeUnavailable,
			Message: http.StatusText(status),
		})
		return
	}
	s.failCount.Store(0)
	ctx.Next()
}

func (s *Server) list(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, &remote.ListResponse{Files: s.Entries()})
}

func (s *Server) upload(ctx *gin.Context) {
	var q uploadQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		writeError(ctx, remote.NewAPIError(http.StatusBadRequest, remote.CodeInvalidRequest, err.Error()))
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		writeError(ctx, remote.NewAPIError(http.StatusBadRequest, remote.CodeInvalidRequest, "invalid file: "+err.Error()))
		return
	}

	fd, err := file.Open()
	if err != nil {
		writeError(ctx, remote.NewAPIError(http.StatusBadRequest, remote.CodeInvalidRequest, err.Error()))
		return
	}
	defer fd.Close()

	content, err := io.ReadAll(fd)
	if err != nil {
		writeError(ctx, remote.NewAPIError(http.StatusInternalServerError, remote.CodeInternalError, err.Error()))
		return
	}

	entry, err := s.Put(q.Path, content, q.Hash)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &entry)
}

func (s *Server) delete(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := s.Store.Delete(id); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &remote.DeleteResponse{Deleted: id})
}

func (s *Server) content(ctx *gin.Context) {
	content, err := s.Content(ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "application/octet-stream", content)
}

func writeError(ctx *gin.Context, err error) {
	var apiErr *remote.APIError
	if !errors.As(err, &apiErr) {
		apiErr = remote.NewAPIError(http.StatusInternalServerError, remote.CodeInternalError, err.Error())
	}
	ctx.PureJSON(apiErr.Status, apiErr)
}
