package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldvisit/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleNotification() domain.Notification {
	return domain.Notification{
		Title:       "Route plan created",
		Message:     "E1: 2 dealers over 3 days",
		Filters:     map[string]string{"employee_code": "E1"},
		TargetRoles: []string{domain.RoleAdmin, domain.RoleSuperAdmin},
		CreatedAt:   time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}
}

func TestLogSink_NeverFails(t *testing.T) {
	s := NewLogSink(zap.NewNop())
	assert.NoError(t, s.Emit(context.Background(), sampleNotification()))
}

func TestRedisStreamSink_Publishes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStreamSink(client, "fieldvisit:notifications")
	require.NoError(t, s.Emit(context.Background(), sampleNotification()))

	msgs, err := client.XRange(context.Background(), "fieldvisit:notifications", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventRouteNotification, msgs[0].Values["type"])

	var got domain.Notification
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, "Route plan created", got.Title)
	assert.Equal(t, []string{"admin", "super_admin"}, got.TargetRoles)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(topic string, payload []byte) error {
	args := m.Called(topic, payload)
	return args.Error(0)
}

func TestMQTTSink_PublishesJSON(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", "fieldvisit/notifications", mock.MatchedBy(func(p []byte) bool {
		var n domain.Notification
		return json.Unmarshal(p, &n) == nil && n.Filters["employee_code"] == "E1"
	})).Return(nil).Once()

	s := NewMQTTSink(pub, "fieldvisit/notifications")
	require.NoError(t, s.Emit(context.Background(), sampleNotification()))
	pub.AssertExpectations(t)
}

func TestMQTTSink_PropagatesError(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	s := NewMQTTSink(pub, "t")
	assert.EqualError(t, s.Emit(context.Background(), sampleNotification()), "broker down")
}

func TestWebhookSink(t *testing.T) {
	var gotAuth string
	var gotBody domain.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, "secret", time.Second)
	require.NoError(t, s.Emit(context.Background(), sampleNotification()))
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "Route plan created", gotBody.Title)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, "", time.Second)
	err := s.Emit(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
