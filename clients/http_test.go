package clients

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/metrics"

	"github.com/stretchr/testify/require"
)

func respWithStatus(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   xerrors.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, xerrors.KindRateLimited},
		{"bad request", http.StatusBadRequest, xerrors.KindInput},
		{"unprocessable", http.StatusUnprocessableEntity, xerrors.KindInput},
		{"server error", http.StatusInternalServerError, xerrors.KindBackend},
		{"bad gateway", http.StatusBadGateway, xerrors.KindBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkStatus(respWithStatus(tt.status, "upstream said no"), "analyzer")
			require.Error(t, err)
			require.Equal(t, tt.kind, xerrors.KindOf(err))
			require.Contains(t, err.Error(), "analyzer")
			require.Contains(t, err.Error(), "upstream said no")
		})
	}

	require.NoError(t, checkStatus(respWithStatus(http.StatusOK, ""), "analyzer"))
	require.NoError(t, checkStatus(respWithStatus(http.StatusNoContent, ""), "analyzer"))
}

func TestCheckStatusTruncatesBody(t *testing.T) {
	huge := strings.Repeat("x", 10*maxErrorBodyBytes)
	err := checkStatus(respWithStatus(http.StatusInternalServerError, huge), "tts")
	require.Error(t, err)
	require.Less(t, len(err.Error()), 2*maxErrorBodyBytes)
}

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no fences",
			input:    `{"findings": []}`,
			expected: `{"findings": []}`,
		},
		{
			name:     "json fence",
			input:    "Here you go:\n```json\n{\"findings\": []}\n```\nLet me know!",
			expected: `{"findings": []}`,
		},
		{
			name:     "anonymous fence",
			input:    "```\n[1, 2, 3]\n```",
			expected: `[1, 2, 3]`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n {\"a\": 1} \n ",
			expected: `{"a": 1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, stripMarkdownFences(tt.input))
		})
	}
}

func TestDecodeModelJSON(t *testing.T) {
	var matches []ProfanityMatch
	body := "```json\n[{\"word\": \"heck\", \"start_time\": 1.5, \"end_time\": 2.0, \"replacement\": \"gosh\"}]\n```"
	require.NoError(t, decodeModelJSON(strings.NewReader(body), &matches))
	require.Len(t, matches, 1)
	require.Equal(t, "heck", matches[0].Word)
	require.Equal(t, 1.5, matches[0].StartTime)
	require.Equal(t, "gosh", matches[0].Replacement)

	var out interface{}
	require.Error(t, decodeModelJSON(strings.NewReader("not json at all"), &out))
}

func TestObserveExternalCallRecordsDuration(t *testing.T) {
	observeExternalCall("unit-test", time.Now())
	count := testutil.CollectAndCount(metrics.Metrics.ExternalCallDuration)
	require.GreaterOrEqual(t, count, 1)
}
