package handlers

import (
	"bytes"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	indexFile   = "index.html"
	notFoundMsg = "Not found"
)

// StaticHandler serves the web UI from files. "/" serves index.html and any
// path containing ".." is refused before files is consulted.
type StaticHandler struct {
	files  fs.FS
	logger *logrus.Logger
}

func NewStaticHandler(files fs.FS, logger *logrus.Logger) *StaticHandler {
	return &StaticHandler{
		files:  files,
		logger: logger,
	}
}

func (h *StaticHandler) Serve(c *gin.Context) {
	path := c.Request.URL.Path

	if strings.Contains(path, "..") {
		h.logger.WithField("path", path).Warn("Rejected static path")
		c.String(http.StatusNotFound, notFoundMsg)
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.String(http.StatusNotFound, notFoundMsg)
		return
	}

	name := strings.TrimPrefix(path, "/")
	if name == "" {
		name = indexFile
	}
	if !fs.ValidPath(name) {
		c.String(http.StatusNotFound, notFoundMsg)
		return
	}

	f, err := h.files.Open(name)
	if err != nil {
		c.String(http.StatusNotFound, notFoundMsg)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		c.String(http.StatusNotFound, notFoundMsg)
		return
	}

	content, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			h.logger.WithError(err).WithField("file", name).Error("Failed to read static file")
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		content = bytes.NewReader(data)
	}

	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), content)
}

