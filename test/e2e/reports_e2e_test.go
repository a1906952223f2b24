//go:build e2e
// +build e2e

package e2e_test

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var metricKeys = []string{
	"overall_csi_score",
	"avg_effectiveness_score",
	"avg_efficiency_score",
	"avg_effort_score",
	"avg_empathy_score",
	"avg_sentiment_score",
	"total_conversations",
	"total_conversations_analyzed",
	"total_messages_processed",
	"total_days_analyzed",
	"fallback_days",
	"avg_first_response_time_seconds",
	"avg_response_time_seconds",
	"avg_handling_time_minutes",
	"last_updated",
}

// TestE2E_Reports_MetricsRecalculate forces a cache rewrite and checks both
// metric endpoints answer the full key set.
func TestE2E_Reports_MetricsRecalculate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E tests in short mode")
	}
	client := &http.Client{Timeout: 15 * time.Second}
	waitForAppReady(t, client, 60*time.Second)

	resp, err := client.Post(baseURL+"/api/metrics/recalculate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recalced map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recalced))
	for _, key := range metricKeys {
		assert.Contains(t, recalced, key)
	}
	lu, _ := recalced["last_updated"].(string)
	if _, err := time.Parse(time.RFC3339, lu); err != nil {
		t.Errorf("last_updated not RFC 3339: %q", lu)
	}

	status, cached := getJSON(t, client, "/api/metrics")
	require.Equal(t, http.StatusOK, status)
	for _, key := range metricKeys {
		assert.Contains(t, cached, key)
	}
}

// TestE2E_Reports_Charts smoke-tests both trend endpoints: the default and an
// explicit window, plus rejection of a malformed one.
func TestE2E_Reports_Charts(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E tests in short mode")
	}
	client := &http.Client{Timeout: 15 * time.Second}
	waitForAppReady(t, client, 60*time.Second)

	for _, path := range []string{"/api/charts/csi-trend", "/api/charts/sentiment-trend"} {
		status, body := getJSON(t, client, path)
		require.Equal(t, http.StatusOK, status, "%s: %#v", path, body)
		assert.Equal(t, float64(30), body["days"], path)
		if _, ok := body["points"].([]any); !ok {
			t.Errorf("%s: points array missing: %#v", path, body)
		}

		status, body = getJSON(t, client, path+"?days=7")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(7), body["days"], path)

		status, _ = getJSON(t, client, path+"?days=nope")
		assert.Equal(t, http.StatusBadRequest, status, path)
	}
}

// TestE2E_Reports_ExportCSV downloads the scored-rows export and checks the
// attachment headers, the header row and the advertised row count.
func TestE2E_Reports_ExportCSV(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E tests in short mode")
	}
	client := &http.Client{Timeout: 15 * time.Second}
	waitForAppReady(t, client, 60*time.Second)

	resp, err := client.Get(baseURL + "/api/export/daily-analyses.csv?since=2020-01-01")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "daily-analyses.csv")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "chat_id,analysis_date,sentiment_score"), "unexpected header: %s", lines[0])

	rowCount, err := strconv.Atoi(resp.Header.Get("X-Row-Count"))
	require.NoError(t, err, "X-Row-Count header missing or malformed")
	assert.Equal(t, rowCount, len(lines)-1, "row count header disagrees with body")

	// Malformed since dates are rejected before touching the store.
	badResp, err := client.Get(baseURL + "/api/export/daily-analyses.csv?since=01/08/2025")
	require.NoError(t, err)
	defer badResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
}
