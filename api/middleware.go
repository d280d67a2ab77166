package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var errBodyTooLarge = errors.New("decompressed body too large")

// GzipRequestMiddleware decompresses gzip-encoded request bodies. Invalid
// gzip payloads are rejected with 400. Reading past limit inflated bytes
// fails with errBodyTooLarge.
func GzipRequestMiddleware(limit int64) echo.MiddlewareFunc {
	if limit <= 0 {
		limit = maxBodyBytes
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return c.JSON(http.StatusBadRequest, errorResponse{Error: msgInvalidBody})
			}

			req.Body = &gzipReadCloser{gz: gr, body: body, remaining: limit}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	gz        *gzip.Reader
	body      io.Closer
	remaining int64
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	if g.remaining <= 0 {
		// One extra byte tells an exact-size body from an oversized one.
		var probe [1]byte
		if n, _ := g.gz.Read(probe[:]); n > 0 {
			return 0, errBodyTooLarge
		}
		return 0, io.EOF
	}
	if int64(len(p)) > g.remaining {
		p = p[:g.remaining]
	}
	n, err := g.gz.Read(p)
	g.remaining -= int64(n)
	return n, err
}

func (g *gzipReadCloser) Close() error {
	err := g.gz.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
