package services

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"autoflow/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietHub() *RecordHub {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRecordHub(logger)
}

func hubRecord(tenantID, automationID string) *models.ExecutionRecord {
	return &models.ExecutionRecord{
		ID:           "log_" + automationID,
		TenantID:     tenantID,
		AutomationID: automationID,
		Timestamp:    time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		TriggerType:  models.TriggerEvent,
		TriggerFired: true,
		Result:       models.ResultSkipped,
	}
}

func startHubServer(t *testing.T, hub *RecordHub) (string, context.CancelFunc) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/stream", hub.HandleWebSocket)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream", cancel
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readRecord(t *testing.T, conn *websocket.Conn) RecordMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg RecordMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRecordHub_FilteredSubscribers(t *testing.T) {
	hub := quietHub()
	url, _ := startHubServer(t, hub)

	filtered := dialHub(t, url+"?tenant_id=tenant_1&automation_id=auto_a")
	all := dialHub(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(hubRecord("tenant_2", "auto_b"))
	hub.Publish(hubRecord("tenant_1", "auto_c"))
	hub.Publish(hubRecord("tenant_1", "auto_a"))

	// 过滤的订阅者只收到匹配的记录
	msg := readRecord(t, filtered)
	assert.Equal(t, "execution_record", msg.Type)
	assert.Equal(t, "tenant_1", msg.TenantID)
	assert.Equal(t, "auto_a", msg.AutomationID)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "log_auto_a", data["log_id"])

	var seen []string
	for i := 0; i < 3; i++ {
		seen = append(seen, readRecord(t, all).AutomationID)
	}
	assert.Equal(t, []string{"auto_b", "auto_c", "auto_a"}, seen)

	require.NoError(t, filtered.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRecordHub_ShutdownClosesSubscribers(t *testing.T) {
	hub := quietHub()
	url, cancel := startHubServer(t, hub)

	conn := dialHub(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-hub.done
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// 停止后新连接直接关闭
	late := dialHub(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestRecordHub_SlowConsumerDisconnected(t *testing.T) {
	hub := quietHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	slow := &recordClient{id: "slow", send: make(chan RecordMessage, 1), hub: hub}
	hub.register <- slow
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(hubRecord("tenant_1", "auto_a"))
	hub.Publish(hubRecord("tenant_1", "auto_b"))

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	first, ok := <-slow.send
	require.True(t, ok)
	assert.Equal(t, "auto_a", first.AutomationID)
	_, ok = <-slow.send
	assert.False(t, ok)
}

func TestRecordHub_PublishDoesNotBlock(t *testing.T) {
	hub := quietHub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(hub.broadcast)+10; i++ {
			hub.Publish(hubRecord("tenant_1", "auto_a"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no hub running")
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
