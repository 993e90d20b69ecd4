package handlers

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"storefront/internal/chat"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func TestResolveUploadPath(t *testing.T) {
	dir := t.TempDir()

	got, err := resolveUploadPath(dir, "64f1c2.png")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "64f1c2.png"), got)

	for _, name := range []string{"", "..", "../etc/passwd", "a/b.png", `..\win.ini`, ".env", "x..png"} {
		_, err := resolveUploadPath(dir, name)
		require.ErrorIs(t, err, errBadFilename, name)
	}
}

func TestServeFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.pdf"), []byte("%PDF-1.4 test"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.bin"), []byte("raw"), 0o644))

	r := newRouter()
	r.GET("/files/:filename", ServeFile(dir))

	w := perform(r, http.MethodGet, "/files/guide.pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	require.Equal(t, "%PDF-1.4 test", w.Body.String())

	w = perform(r, http.MethodGet, "/files/notes.bin", nil)
	require.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	require.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/files/missing.png", nil).Code)
	require.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/files/..%5Csecret", nil).Code)
}

func multipartUpload(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/api/uploads", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	r := newRouter()
	r.POST("/admin/api/uploads", UploadFile(dir, "https://shop.example.com"))
	r.DELETE("/admin/api/uploads/:filename", DeleteUpload(dir))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "image", "crystal.PNG", pngHeader))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	name := body["filename"].(string)
	require.Equal(t, ".png", filepath.Ext(name))
	require.Equal(t, "https://shop.example.com/files/"+name, body["url"])
	_, err := os.Stat(filepath.Join(dir, name))
	require.NoError(t, err)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "file", "script.sh", []byte("#!/bin/sh")))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "file", "fake.pdf", []byte("<html>not a pdf</html>")))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "file", "huge.png", append(pngHeader, make([]byte, maxUploadSize)...)))
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, perform(r, http.MethodDelete, "/admin/api/uploads/"+name, nil).Code)
	_, err = os.Stat(filepath.Join(dir, name))
	require.True(t, os.IsNotExist(err))
}

type fakeAssistant struct {
	reply string
	err   error
	got   string
}

func (f *fakeAssistant) Reply(_ context.Context, message string) (string, error) {
	f.got = message
	return f.reply, f.err
}

func TestSupportChat(t *testing.T) {
	assistant := &fakeAssistant{reply: "Amethyst supports calm and clarity."}
	r := newRouter()
	r.POST("/api/support/chat", SupportChat(assistant))

	w := perform(r, http.MethodPost, "/api/support/chat", map[string]any{"message": "What is amethyst for?"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Amethyst supports calm and clarity.", decode(t, w)["reply"])
	require.Equal(t, "What is amethyst for?", assistant.got)

	require.Equal(t, http.StatusBadRequest, perform(r, http.MethodPost, "/api/support/chat", map[string]any{}).Code)

	assistant.err = chat.ErrMessageTooLong
	require.Equal(t, http.StatusBadRequest, perform(r, http.MethodPost, "/api/support/chat", map[string]any{"message": "x"}).Code)
}

func TestHealth(t *testing.T) {
	r := newRouter()
	healthy := true
	r.GET("/healthz", Health(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("no reachable servers")
	}))

	require.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/healthz", nil).Code)
	healthy = false
	require.Equal(t, http.StatusServiceUnavailable, perform(r, http.MethodGet, "/healthz", nil).Code)
}
