package infrastructure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/infrastructure/push"
	"github.com/vitovidale/video-pipeline/infrastructure/testkit"
	"github.com/vitovidale/video-pipeline/metrics"
	"github.com/vitovidale/video-pipeline/usecase"
	"go.uber.org/zap"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "test-webhook-secret"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubPublisher struct{}

func (stubPublisher) Publish(_ context.Context, msg domain.JobMessage) (string, error) {
	return "msg-" + msg.JobID, nil
}

type inlineEvents struct {
	handler usecase.EventHandler
}

func (e inlineEvents) Publish(events ...usecase.Event) {
	for _, ev := range events {
		_ = e.handler.Handle(context.Background(), ev)
	}
}

type apiFixture struct {
	router http.Handler
	repos  domain.Repositories
	hub    *push.Hub
	ids    *snowflake.Node
	clock  *testkit.FakeClock
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db := testkit.OpenSQLite(t, Models()...)
	clock := testkit.NewFakeClock(time.Now())
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	log := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	uow := NewGormUnitOfWork(db, clock)
	hub := push.NewHub(log, m)
	ledger := usecase.NewCreditLedger(uow, node, clock, log, m)
	dispatcher := usecase.NewJobDispatcher(stubPublisher{}, clock, log, m)
	notifications := usecase.NewNotificationService(uow, hub, node, clock, log, m, usecase.NotificationConfig{})
	events := inlineEvents{handler: notifications}
	locker := usecase.NewLocalVideoLocker()
	signer := NewHMACUploadURLSigner("https://uploads.test", "sig", time.Minute, clock)

	uploads := usecase.NewUploadVideoUseCase(uow, ledger, dispatcher, signer, locker, events, node, clock, log)
	videos := usecase.NewVideoService(uow, locker, clock, log)
	webhooks := usecase.NewWebhookIngestor(uow, ledger, events, clock, log, m)

	router := NewRouter(RouterConfig{
		JWTSecret:     []byte(testJWTSecret),
		WebhookSecret: testWebhookSecret,
		Videos:        NewVideoHandlers(uploads, videos),
		Credits:       NewCreditHandlers(ledger),
		Notifications: NewNotificationHandlers(notifications, hub, log),
		Webhooks:      NewWebhookHandlers(webhooks),
		Hub:           hub,
		Gatherer:      reg,
		Database:      func(ctx context.Context) error { return PingDatabase(ctx, db) },
		Log:           log,
	})
	return &apiFixture{router: router, repos: uow.Repositories(), hub: hub, ids: node, clock: clock}
}

func (f *apiFixture) member(t *testing.T, balance int64) (snowflake.ID, string) {
	t.Helper()
	id := f.ids.Generate()
	now := f.clock.Now()
	require.NoError(t, f.repos.Members.Create(context.Background(), domain.Member{
		ID: id, Email: id.String() + "@example.test", Name: "api", CreditBalance: balance, CreatedAt: now, UpdatedAt: now,
	}))
	return id, signToken(t, id, testJWTSecret)
}

func signToken(t *testing.T, id snowflake.ID, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: "member",
		UserID:   id,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) webhook(t *testing.T, event, secret string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/processing/"+event, &buf)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return payload["code"].(string)
}

func TestAPIRequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	id, _ := f.member(t, 0)

	rec := f.do(t, http.MethodGet, "/videos", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/videos", signToken(t, id, "wrong-secret"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/videos", signToken(t, 0, testJWTSecret), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIUploadProcessAndRefundFlow(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.member(t, 1000)

	rec := f.do(t, http.MethodPost, "/videos/uploads", token, map[string]any{
		"fileName":       "trip.mp4",
		"sizeBytes":      4096,
		"contentType":    "video/mp4",
		"processingType": "ai_upscaling",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	video := body["video"].(map[string]any)
	videoID := video["id"].(string)
	assert.Equal(t, "PENDING_UPLOAD", video["status"])
	upload := body["uploadUrl"].(map[string]any)
	assert.Equal(t, http.MethodPut, upload["method"])
	assert.Contains(t, upload["uploadUrl"], "signature=")

	rec = f.do(t, http.MethodPost, "/videos/"+videoID+"/upload-complete", token, map[string]any{"durationSeconds": 120.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, float64(362), body["creditsCharged"])
	assert.Equal(t, float64(638), body["remainingCredit"])
	assert.Equal(t, "SENT", body["dispatchStatus"])

	rec = f.do(t, http.MethodPost, "/videos/"+videoID+"/upload-complete", token, map[string]any{"durationSeconds": 120.5})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", errorCode(t, rec))

	failed := map[string]any{"videoId": videoID, "errorMessage": "decoder crashed", "errorCode": "E42"}
	rec = f.webhook(t, "failed", "", failed)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.webhook(t, "failed", testWebhookSecret, failed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "applied", decode(t, rec)["status"])

	rec = f.webhook(t, "failed", testWebhookSecret, failed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/credits/balance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1000), decode(t, rec)["balance"])

	rec = f.do(t, http.MethodGet, "/credits/transactions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["total"])

	rec = f.do(t, http.MethodGet, "/notifications/unread-count", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["unread"])

	rec = f.do(t, http.MethodGet, "/videos/"+videoID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "FAILED", body["status"])
	assert.Equal(t, "[E42] decoder crashed", body["errorMessage"])
}

func TestAPICompletedWebhookAndOwnerActions(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.member(t, 100)
	_, strangerToken := f.member(t, 100)

	rec := f.do(t, http.MethodPost, "/videos/uploads", token, map[string]any{
		"fileName": "a.mov", "sizeBytes": 10, "processingType": "BASIC",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	videoID := decode(t, rec)["video"].(map[string]any)["id"].(string)

	rec = f.do(t, http.MethodPost, "/videos/"+videoID+"/upload-complete", token, map[string]any{"durationSeconds": 9.2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(10), decode(t, rec)["creditsCharged"])

	rec = f.do(t, http.MethodGet, "/videos/"+videoID, strangerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "video_not_found", errorCode(t, rec))

	rec = f.webhook(t, "started", testWebhookSecret, map[string]any{"videoId": videoID, "aiJobId": "w-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.webhook(t, "progress", testWebhookSecret, map[string]any{"videoId": videoID, "progressPercentage": 150})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_progress_percentage", errorCode(t, rec))
	rec = f.webhook(t, "progress", testWebhookSecret, map[string]any{"videoId": videoID, "progressPercentage": 40, "currentStep": "ENCODING"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.webhook(t, "completed", testWebhookSecret, map[string]any{"videoId": videoID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.webhook(t, "completed", testWebhookSecret, map[string]any{
		"videoId": videoID, "processedS3Key": "processed/a.mp4", "processedFileSizeBytes": 20, "processedWidth": 1280,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/videos/"+videoID+"/original", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["originalDeleted"])

	rec = f.do(t, http.MethodPost, "/videos/"+videoID+"/archive", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ARCHIVED", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/notifications?unread=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	notificationID := items[0].(map[string]any)["id"].(string)

	rec = f.do(t, http.MethodPost, "/notifications/"+notificationID+"/read", strangerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/notifications/"+notificationID+"/read", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodPost, "/notifications/read-all", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["updated"])
}

func TestAPICreditEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.member(t, 0)

	rec := f.do(t, http.MethodGet, "/credits/cost?processingType=AI_SUBTITLE&durationSeconds=60.25", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(121), decode(t, rec)["requiredCredits"])

	rec = f.do(t, http.MethodGet, "/credits/cost?processingType=SEPIA&durationSeconds=1", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_processing_type", errorCode(t, rec))
	rec = f.do(t, http.MethodGet, "/credits/cost?processingType=BASIC", token, nil)
	assert.Equal(t, "invalid_duration", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/credits/charge", token, map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_amount", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/credits/charge", token, map[string]any{"amount": 50, "description": "card top-up"})
	require.Equal(t, http.StatusCreated, rec.Code)
	txnID := decode(t, rec)["id"].(string)

	rec = f.do(t, http.MethodPost, "/credits/transactions/"+txnID+"/annotate", token, map[string]any{"note": "refund ticket 7"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodPost, "/credits/transactions/"+txnID+"/annotate", token, map[string]any{"note": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_annotated", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/credits/transactions/not-a-number/annotate", token, map[string]any{"note": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/credits/balance", token, nil)
	assert.Equal(t, float64(50), decode(t, rec)["balance"])
}

func TestAPIUploadRejectsUnknownMember(t *testing.T) {
	f := newAPIFixture(t)
	token := signToken(t, f.ids.Generate(), testJWTSecret)

	rec := f.do(t, http.MethodPost, "/videos/uploads", token, map[string]any{
		"fileName": "a.mp4", "sizeBytes": 1, "processingType": "BASIC",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "member_not_found", errorCode(t, rec))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "DOWN", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.Equal(t, "disconnected", body["rabbitmq"])

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMapErrorFallsBackToInternal(t *testing.T) {
	status, payload := mapError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Code)
	assert.Equal(t, "internal server error", payload.Message)

	status, payload = mapError(context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, context.DeadlineExceeded.Error(), payload.Code)
}

func TestNotificationStream(t *testing.T) {
	f := newAPIFixture(t)
	member, token := f.member(t, 0)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
				return name
			}
		}
	}
	assert.Equal(t, domain.PushEventConnected, nextEvent())
	require.Eventually(t, func() bool { return f.hub.IsConnected(member) }, 2*time.Second, 10*time.Millisecond)

	require.True(t, f.hub.Send(member, domain.PushEvent{Name: domain.PushEventNotification, Data: map[string]string{"title": "hi"}}))
	assert.Equal(t, domain.PushEventNotification, nextEvent())

	cancel()
	assert.Eventually(t, func() bool { return !f.hub.IsConnected(member) }, 2*time.Second, 10*time.Millisecond)
}
