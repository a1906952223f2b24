//go:build e2e
// +build e2e

package e2e_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postUpload posts a hand-built multipart body and returns the response.
func postUpload(t *testing.T, client *http.Client, buf *bytes.Buffer, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/upload-json", buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// TestE2E_EdgeCases covers the synchronous rejections of the upload endpoint
// and the deterministic error answers of the read-side endpoints.
func TestE2E_EdgeCases(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E tests in short mode")
	}
	client := &http.Client{Timeout: 15 * time.Second}
	waitForAppReady(t, client, 60*time.Second)

	t.Run("Upload_MissingFileField", func(t *testing.T) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		require.NoError(t, writer.WriteField("force_reprocess", "true"))
		require.NoError(t, writer.Close())

		resp := postUpload(t, client, &buf, writer.FormDataContentType())
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Upload_EmptyFile", func(t *testing.T) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		fw, err := writer.CreateFormFile("file", "empty.json")
		require.NoError(t, err)
		_, _ = fw.Write(nil)
		require.NoError(t, writer.Close())

		resp := postUpload(t, client, &buf, writer.FormDataContentType())
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Upload_BinaryContent", func(t *testing.T) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		fw, err := writer.CreateFormFile("file", "transcript.json")
		require.NoError(t, err)
		_, _ = fw.Write([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00})
		require.NoError(t, writer.Close())

		resp := postUpload(t, client, &buf, writer.FormDataContentType())
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})

	t.Run("Upload_TopLevelArray", func(t *testing.T) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		fw, err := writer.CreateFormFile("file", "transcript.json")
		require.NoError(t, err)
		_, _ = fw.Write([]byte(`[1,2,3]`))
		require.NoError(t, writer.Close())

		resp := postUpload(t, client, &buf, writer.FormDataContentType())
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Upload_NotMultipart", func(t *testing.T) {
		resp, err := client.Post(baseURL+"/api/upload-json", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Upload_NotAcceptable", func(t *testing.T) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		fw, err := writer.CreateFormFile("file", "transcript.json")
		require.NoError(t, err)
		_, _ = fw.Write([]byte(`{}`))
		require.NoError(t, writer.Close())

		req, err := http.NewRequest(http.MethodPost, baseURL+"/api/upload-json", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Accept", "text/html")
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	})

	t.Run("Progress_UnknownUpload", func(t *testing.T) {
		status, _ := getJSON(t, client, "/api/progress/"+uuid.NewString())
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("Cancel_UnknownUpload", func(t *testing.T) {
		status, _ := deleteJSON(t, client, "/api/progress/"+uuid.NewString())
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("Conversations_BadPagination", func(t *testing.T) {
		status, _ := getJSON(t, client, "/api/conversations?page=0&page_size=10")
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("Conversations_UnknownChat", func(t *testing.T) {
		status, _ := getJSON(t, client, "/api/conversations/"+newChatID("e2e-missing"))
		assert.Equal(t, http.StatusNotFound, status)
	})
}
