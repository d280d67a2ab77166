package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(data)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestGzipRequestMiddlewareDecompresses(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(gzipBytes(t, `{"title":"zipped"}`)))
	req.Header.Set(echo.HeaderContentEncoding, "identity, GZIP")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var body string
	handler := GzipRequestMiddleware(0)(func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		body = string(data)
		if c.Request().Header.Get(echo.HeaderContentEncoding) != "" {
			t.Fatal("expected content encoding header to be removed")
		}
		return c.NoContent(http.StatusNoContent)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if body != `{"title":"zipped"}` {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestGzipRequestMiddlewareRejectsInvalidPayload(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := GzipRequestMiddleware(0)(func(echo.Context) error {
		t.Fatal("next handler must not run")
		return nil
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestGzipRequestMiddlewareLimitsInflatedSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "exact", size: 16},
		{name: "over", size: 17, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			payload := gzipBytes(t, strings.Repeat("a", tt.size))
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
			req.Header.Set(echo.HeaderContentEncoding, "gzip")
			c := e.NewContext(req, httptest.NewRecorder())

			var readErr error
			handler := GzipRequestMiddleware(16)(func(c echo.Context) error {
				_, readErr = io.ReadAll(c.Request().Body)
				return nil
			})
			if err := handler(c); err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if gotErr := readErr == errBodyTooLarge; gotErr != tt.wantErr {
				t.Fatalf("read error = %v, wantErr %v", readErr, tt.wantErr)
			}
		})
	}
}

func TestGzipAddTaskEndToEnd(t *testing.T) {
	tasks := &mockTasks{}
	e := newTestServer(t, nil, tasks, nil)
	e.Pre(GzipRequestMiddleware(maxBodyBytes))

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/addTask", bytes.NewReader(gzipBytes(t, `{"title":"zipped"}`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+testToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if tasks.added[0].Title != "zipped" {
		t.Fatalf("unexpected task: %#v", tasks.added[0])
	}
}
