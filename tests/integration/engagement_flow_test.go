package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/VerdantLoopLab/ecospin/backend/internal/auth"
	"github.com/VerdantLoopLab/ecospin/backend/internal/challenges"
	"github.com/VerdantLoopLab/ecospin/backend/internal/client"
	"github.com/VerdantLoopLab/ecospin/backend/internal/goals"
	"github.com/VerdantLoopLab/ecospin/backend/internal/notifications"
	"github.com/VerdantLoopLab/ecospin/backend/internal/server"
	"github.com/VerdantLoopLab/ecospin/backend/internal/users"
	"github.com/VerdantLoopLab/ecospin/backend/internal/wheel"
	"github.com/gin-gonic/gin"
	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	integrationSigningSecret = "integration-secret"
	integrationUserID        = "user-abc"
	integrationModeratorID   = "mod-1"
	drawnGoalID              = 13
	drawnGoalIndex           = 12
	wheelSegments            = 17
)

type stack struct {
	server         *httptest.Server
	db             *gorm.DB
	users          *users.Service
	wheel          *wheel.Service
	proofs         *challenges.Service
	userToken      string
	moderatorToken string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:integration_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	err = db.AutoMigrate(
		&users.User{},
		&wheel.WheelSpin{},
		&wheel.PendingDecision{},
		&wheel.Challenge{},
		&wheel.Quiz{},
		&challenges.Proof{},
		&notifications.Notification{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(integrationSigningSecret)})
	userToken, _, err := issuer.IssueToken(context.Background(), integrationUserID, auth.RoleUser)
	if err != nil {
		t.Fatalf("failed to issue user token: %v", err)
	}
	moderatorToken, _, err := issuer.IssueToken(context.Background(), integrationModeratorID, auth.RoleModerator)
	if err != nil {
		t.Fatalf("failed to issue moderator token: %v", err)
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build notifications service: %v", err)
	}
	hub := notifications.NewHub(notificationService, nil)
	notificationService.AttachPublisher(hub)

	catalog := goals.NewCatalog()
	wheelService, err := wheel.NewService(wheel.ServiceConfig{
		Database:   db,
		IDProvider: wheel.NewUUIDProvider(),
		Catalog:    catalog,
		Users:      userService,
		Notifier:   notificationService,
		Draw: func() goals.Goal {
			goal, _ := catalog.ByID(drawnGoalID)
			return goal
		},
	})
	if err != nil {
		t.Fatalf("failed to build wheel service: %v", err)
	}
	if err := wheelService.SeedContent(context.Background()); err != nil {
		t.Fatalf("failed to seed content: %v", err)
	}

	media, err := challenges.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create media store: %v", err)
	}
	proofService, err := challenges.NewService(challenges.ServiceConfig{
		Database: db,
		Gate:     wheelService,
		Scorer:   userService,
		Notifier: notificationService,
		Media:    media,
	})
	if err != nil {
		t.Fatalf("failed to build proof service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  issuer,
		Users:         userService,
		Wheel:         wheelService,
		Proofs:        proofService,
		Notifications: notificationService,
		Hub:           hub,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return &stack{
		server:         testServer,
		db:             db,
		users:          userService,
		wheel:          wheelService,
		proofs:         proofService,
		userToken:      userToken,
		moderatorToken: moderatorToken,
	}
}

func (s *stack) newSession(t *testing.T) *client.Session {
	t.Helper()
	session, err := client.NewSession(client.SessionConfig{
		BaseURL:    s.server.URL,
		ChannelURL: "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws",
		Token:      s.userToken,
		Dialer:     client.NewWebsocketDialer(),
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to build session: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

// forceChallengeKind rewrites the pending decision to the goal's challenge so
// the proof flow is deterministic regardless of the random workflow pick.
func (s *stack) forceChallengeKind(t *testing.T) {
	t.Helper()
	status, err := s.wheel.Status(context.Background(), integrationUserID)
	if err != nil {
		t.Fatalf("failed to read spin status: %v", err)
	}
	if status.Pending == nil {
		t.Fatalf("expected a pending outcome")
	}
	if status.Pending.Kind == wheel.WorkflowChallenge {
		return
	}
	var challenge wheel.Challenge
	if err := s.db.Where("goal_id = ?", status.Pending.Goal.ID).First(&challenge).Error; err != nil {
		t.Fatalf("failed to load challenge: %v", err)
	}
	err = s.db.Model(&wheel.PendingDecision{}).
		Where("user_id = ?", integrationUserID).
		Updates(map[string]interface{}{"kind": wheel.WorkflowChallenge, "workflow_ref": challenge.ID}).Error
	if err != nil {
		t.Fatalf("failed to force challenge kind: %v", err)
	}
}

// reprimeGate refreshes the client's pending decision from server truth
// after the test rewrites the assigned workflow.
func (s *stack) reprimeGate(t *testing.T, session *client.Session) {
	t.Helper()
	rest := client.NewRESTClient(s.server.URL, s.userToken)
	status, err := rest.SpinStatus(context.Background())
	if err != nil {
		t.Fatalf("failed to refresh spin status: %v", err)
	}
	session.Gate().Prime(status)
}

func (s *stack) moderatorVerdict(t *testing.T, proofID, status, reason string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"status":          status,
		"rejectionReason": reason,
	})
	if err != nil {
		t.Fatalf("failed to encode verdict: %v", err)
	}
	request, err := http.NewRequest(http.MethodPut, s.server.URL+"/proofs/"+proofID+"/status", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build verdict request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+s.moderatorToken)
	request.Header.Set("Content-Type", "application/json")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("verdict request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected verdict status: got %d, want %d", response.StatusCode, http.StatusOK)
	}
}

// waitForNotification polls the session's engine until a notification of the
// given type arrives over the channel.
func waitForNotification(t *testing.T, session *client.Session, notificationType string) client.Notification {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, notification := range session.Sync().Notifications() {
			if notification.Type == notificationType {
				return notification
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s notification", notificationType)
	return client.Notification{}
}

func waitForUnreadCount(t *testing.T, session *client.Session, want int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if session.Sync().UnreadCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for unread count %d, have %d", want, session.Sync().UnreadCount())
}

func TestSpinToRevealFlow(t *testing.T) {
	testStack := newStack(t)
	session := testStack.newSession(t)

	decision, err := session.Spin(context.Background())
	if err != nil {
		t.Fatalf("unexpected spin error: %v", err)
	}
	if decision.Goal.ID != drawnGoalID {
		t.Fatalf("unexpected goal: got %d, want %d", decision.Goal.ID, drawnGoalID)
	}
	if decision.SegmentCount != wheelSegments {
		t.Fatalf("unexpected segment count: got %d, want %d", decision.SegmentCount, wheelSegments)
	}

	fired := make(chan func(), 1)
	animator := client.NewAnimationSynchronizer(func(d time.Duration, fn func()) func() {
		if d != 4000*time.Millisecond {
			t.Errorf("unexpected reveal duration: got %v", d)
		}
		fired <- fn
		return func() {}
	})
	plan, err := animator.Plan(decision.SegmentCount, drawnGoalIndex, decision.Goal.ID)
	if err != nil {
		t.Fatalf("unexpected plan error: %v", err)
	}

	revealed := make(chan int, 1)
	animator.Start(plan, func(goalID int) { revealed <- goalID })
	(<-fired)()
	if got := <-revealed; got != drawnGoalID {
		t.Fatalf("reveal reported goal %d, want %d", got, drawnGoalID)
	}

	if _, err := session.Spin(context.Background()); !client.IsConflictCode(err, "already_spun") {
		t.Fatalf("expected same-day conflict, got %v", err)
	}
}

func TestProofRejectionReachesClient(t *testing.T) {
	testStack := newStack(t)
	session := testStack.newSession(t)

	if _, err := session.Spin(context.Background()); err != nil {
		t.Fatalf("unexpected spin error: %v", err)
	}
	testStack.forceChallengeKind(t)
	testStack.reprimeGate(t, session)

	if err := session.AcceptChallenge(context.Background()); err != nil {
		t.Fatalf("unexpected accept error: %v", err)
	}
	proof, err := session.SubmitProof(context.Background(), client.ProofInput{
		MediaType: "image",
		URL:       "https://x/y.png",
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	testStack.moderatorVerdict(t, proof.ID, "REJECTED", "blurry image")

	notification := waitForNotification(t, session, notifications.TypeProofRejected)
	if reason, _ := notification.Payload["reason"].(string); reason != "blurry image" {
		t.Fatalf("unexpected rejection reason payload: %#v", notification.Payload)
	}
	if notification.IsRead {
		t.Fatalf("expected the pushed notification to be unread")
	}
	waitForUnreadCount(t, session, 1)
}

func TestProofApprovalAwardsPoints(t *testing.T) {
	testStack := newStack(t)
	session := testStack.newSession(t)

	if _, err := session.Spin(context.Background()); err != nil {
		t.Fatalf("unexpected spin error: %v", err)
	}
	testStack.forceChallengeKind(t)
	testStack.reprimeGate(t, session)

	if err := session.AcceptChallenge(context.Background()); err != nil {
		t.Fatalf("unexpected accept error: %v", err)
	}
	proof, err := session.SubmitProof(context.Background(), client.ProofInput{
		MediaType: "image",
		URL:       "https://x/y.png",
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	testStack.moderatorVerdict(t, proof.ID, "VERIFIED", "")

	notification := waitForNotification(t, session, notifications.TypeProofApproved)
	if points, _ := notification.Payload["pointsAwarded"].(float64); int(points) != 20 {
		t.Fatalf("unexpected points payload: %#v", notification.Payload)
	}

	user, err := testStack.users.Get(context.Background(), integrationUserID)
	if err != nil {
		t.Fatalf("unexpected user lookup error: %v", err)
	}
	if user.TotalPoints != 20 {
		t.Fatalf("unexpected total points: got %d, want 20", user.TotalPoints)
	}
}

func TestReconnectConvergesMissedState(t *testing.T) {
	testStack := newStack(t)
	session := testStack.newSession(t)
	ctx := context.Background()

	if _, err := session.Spin(ctx); err != nil {
		t.Fatalf("unexpected spin error: %v", err)
	}
	testStack.forceChallengeKind(t)

	// Drop the channel, then resolve the moderation flow entirely
	// server-side while the client is offline.
	session.Connection().Disconnect()

	if err := testStack.wheel.AcceptChallenge(ctx, integrationUserID); err != nil {
		t.Fatalf("unexpected accept error: %v", err)
	}
	proof, err := testStack.proofs.Submit(ctx, integrationUserID, challenges.SubmitInput{URL: "https://x/y.png"})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	if _, err := testStack.proofs.Approve(ctx, proof.ID); err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}

	if len(session.Sync().Notifications()) != 0 {
		t.Fatalf("expected no notifications while disconnected")
	}

	if err := session.Connection().Connect(ctx, testStack.userToken); err != nil {
		t.Fatalf("unexpected reconnect error: %v", err)
	}

	notification := waitForNotification(t, session, notifications.TypeProofApproved)
	if notification.ID == "" {
		t.Fatalf("expected a persisted notification id")
	}
	waitForUnreadCount(t, session, 1)
}
