package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlert() *Alert {
	return &Alert{
		ID:        "alert-1",
		RuleID:    "rule-1",
		Service:   "payments",
		Metric:    "error_rate",
		Value:     0.42,
		Threshold: 0.25,
		Severity:  SeverityCritical,
		Status:    StatusActive,
		Message:   "high error rate for payments",
		FiredAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSlackChannelPayload(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewSlackChannel(server.URL, "#ops", "meshgate")
	require.NoError(t, channel.Send(context.Background(), testAlert()))

	assert.Equal(t, "slack", channel.Name())
	assert.Equal(t, "#ops", received["channel"])
	attachments := received["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	attachment := attachments[0].(map[string]interface{})
	assert.Contains(t, attachment["title"], "[FIRING]")
	assert.Equal(t, "#ff0000", attachment["color"])
}

func TestSlackChannelResolvedUsesGoodColor(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	alert := testAlert()
	alert.Status = StatusResolved

	channel := NewSlackChannel(server.URL, "#ops", "")
	require.NoError(t, channel.Send(context.Background(), alert))

	attachment := received["attachments"].([]interface{})[0].(map[string]interface{})
	assert.Contains(t, attachment["title"], "[RESOLVED]")
	assert.Equal(t, "good", attachment["color"])
}

func TestSlackChannelRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel := NewSlackChannel(server.URL, "#ops", "")
	err := channel.Send(context.Background(), testAlert())
	assert.Error(t, err)
}

func TestWebhookChannelSendsAlertJSON(t *testing.T) {
	var received Alert
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Auth-Token")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	channel := NewWebhookChannel(server.URL, map[string]string{"X-Auth-Token": "secret"})
	require.NoError(t, channel.Send(context.Background(), testAlert()))

	assert.Equal(t, "webhook", channel.Name())
	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, "alert-1", received.ID)
	assert.Equal(t, "payments", received.Service)
	assert.Equal(t, SeverityCritical, received.Severity)
}

func TestWebhookChannelRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	channel := NewWebhookChannel(server.URL, nil)
	assert.Error(t, channel.Send(context.Background(), testAlert()))
}

func TestLoggingChannelNeverFails(t *testing.T) {
	channel := NewLoggingChannel(nil)
	assert.Equal(t, "log", channel.Name())
	assert.NoError(t, channel.Send(context.Background(), testAlert()))
}

func TestAlertResolved(t *testing.T) {
	alert := testAlert()
	assert.False(t, alert.Resolved())

	alert.Status = StatusResolved
	assert.True(t, alert.Resolved())
}
