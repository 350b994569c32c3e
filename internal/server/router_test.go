package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/VerdantLoopLab/ecospin/backend/internal/auth"
	"github.com/VerdantLoopLab/ecospin/backend/internal/challenges"
	"github.com/VerdantLoopLab/ecospin/backend/internal/goals"
	"github.com/VerdantLoopLab/ecospin/backend/internal/notifications"
	"github.com/VerdantLoopLab/ecospin/backend/internal/users"
	"github.com/VerdantLoopLab/ecospin/backend/internal/wheel"
	"github.com/gin-gonic/gin"
	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type routerFixture struct {
	server         *httptest.Server
	userToken      string
	moderatorToken string
	wheel          *wheel.Service
	proofs         *challenges.Service
	db             *gorm.DB
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%s?mode=memory&cache=shared", t.Name())
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

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("router-test-secret")})
	userToken, _, err := issuer.IssueToken(context.Background(), "user-1", auth.RoleUser)
	if err != nil {
		t.Fatalf("failed to issue user token: %v", err)
	}
	moderatorToken, _, err := issuer.IssueToken(context.Background(), "mod-1", auth.RoleModerator)
	if err != nil {
		t.Fatalf("failed to issue moderator token: %v", err)
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected users constructor error: %v", err)
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected notifications constructor error: %v", err)
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
			goal, _ := catalog.ByID(13)
			return goal
		},
	})
	if err != nil {
		t.Fatalf("unexpected wheel constructor error: %v", err)
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
		t.Fatalf("unexpected proof constructor error: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:  issuer,
		Users:         userService,
		Wheel:         wheelService,
		Proofs:        proofService,
		Notifications: notificationService,
		Hub:           hub,
	})
	if err != nil {
		t.Fatalf("unexpected handler constructor error: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &routerFixture{
		server:         server,
		userToken:      userToken,
		moderatorToken: moderatorToken,
		wheel:          wheelService,
		proofs:         proofService,
		db:             db,
	}
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := f.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return response
}

func decodeError(t *testing.T, response *http.Response) string {
	t.Helper()
	defer response.Body.Close()
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return payload.Error
}

func TestRouterRejectsMissingBearer(t *testing.T) {
	f := newRouterFixture(t)

	response := f.do(t, http.MethodPost, "/odds/spin", "", nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusUnauthorized)
	}
	response.Body.Close()

	response = f.do(t, http.MethodPost, "/odds/spin", "not-a-token", nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusUnauthorized)
	}
	response.Body.Close()
}

func TestRouterSpinAndDailyConflict(t *testing.T) {
	f := newRouterFixture(t)

	response := f.do(t, http.MethodPost, "/odds/spin", f.userToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusOK)
	}
	var outcome wheel.Outcome
	if err := json.NewDecoder(response.Body).Decode(&outcome); err != nil {
		t.Fatalf("failed to decode outcome: %v", err)
	}
	response.Body.Close()
	if outcome.Goal.ID != 13 || outcome.SegmentCount != 17 {
		t.Fatalf("unexpected outcome: %#v", outcome)
	}

	response = f.do(t, http.MethodPost, "/odds/spin", f.userToken, nil)
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusConflict)
	}
	if code := decodeError(t, response); code != "already_spun" {
		t.Fatalf("unexpected error code %q", code)
	}

	response = f.do(t, http.MethodGet, "/odds/spin/status", f.userToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusOK)
	}
	var status wheel.Status
	if err := json.NewDecoder(response.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	response.Body.Close()
	if status.CanSpin || status.Pending == nil {
		t.Fatalf("expected closed gate with pending outcome, got %#v", status)
	}
}

func TestRouterQuizAnswerValidation(t *testing.T) {
	f := newRouterFixture(t)

	response := f.do(t, http.MethodPost, "/odds/quiz/answer", f.userToken, map[string]interface{}{})
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusBadRequest)
	}
	if code := decodeError(t, response); code != "invalid_request" {
		t.Fatalf("unexpected error code %q", code)
	}

	// No spin yet: answering is a missing-state rejection, not a validation one.
	response = f.do(t, http.MethodPost, "/odds/quiz/answer", f.userToken, map[string]interface{}{"answer": 0})
	if response.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusUnprocessableEntity)
	}
	if code := decodeError(t, response); code != "no_pending_decision" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestRouterProofSubmitWithoutActiveChallenge(t *testing.T) {
	f := newRouterFixture(t)

	request, err := http.NewRequest(http.MethodPost, f.server.URL+"/challenges/proof/submit", strings.NewReader("media_url=https%3A%2F%2Fx%2Fy.png"))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+f.userToken)
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	response, err := f.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if response.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusUnprocessableEntity)
	}
	if code := decodeError(t, response); code != "no_active_challenge" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestRouterModerationRequiresRole(t *testing.T) {
	f := newRouterFixture(t)

	response := f.do(t, http.MethodGet, "/challenges/proofs/pending", f.userToken, nil)
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusForbidden)
	}
	response.Body.Close()

	response = f.do(t, http.MethodGet, "/challenges/proofs/pending", f.moderatorToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusOK)
	}
	response.Body.Close()
}

func TestRouterProofVerdictFlow(t *testing.T) {
	f := newRouterFixture(t)

	// Drive the workflow to awaiting proof through the service layer, then
	// exercise the moderation endpoints over HTTP.
	ctx := context.Background()
	if _, err := f.wheel.Spin(ctx, "user-1"); err != nil {
		t.Fatalf("unexpected spin error: %v", err)
	}
	forceChallengeKind(t, f, "user-1")
	if err := f.wheel.AcceptChallenge(ctx, "user-1"); err != nil {
		t.Fatalf("unexpected accept error: %v", err)
	}
	proof, err := f.proofs.Submit(ctx, "user-1", challenges.SubmitInput{URL: "https://x/y.png"})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	response := f.do(t, http.MethodPut, "/proofs/"+proof.ID+"/status", f.moderatorToken, map[string]interface{}{
		"status":          "REJECTED",
		"rejectionReason": "blurry image",
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusOK)
	}
	var view challenges.View
	if err := json.NewDecoder(response.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode proof view: %v", err)
	}
	response.Body.Close()
	if view.Status != string(challenges.StatusRejected) || view.RejectionReason != "blurry image" {
		t.Fatalf("unexpected proof view: %#v", view)
	}

	// A second verdict on the same proof conflicts.
	response = f.do(t, http.MethodPut, "/proofs/"+proof.ID+"/status", f.moderatorToken, map[string]interface{}{
		"status": "VERIFIED",
	})
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusConflict)
	}
	if code := decodeError(t, response); code != "proof_resolved" {
		t.Fatalf("unexpected error code %q", code)
	}

	// The rejection left a notification behind.
	response = f.do(t, http.MethodGet, "/notifications/unread/count", f.userToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusOK)
	}
	var counted struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(response.Body).Decode(&counted); err != nil {
		t.Fatalf("failed to decode count: %v", err)
	}
	response.Body.Close()
	if counted.Count != 1 {
		t.Fatalf("expected one unread notification, got %d", counted.Count)
	}
}

func TestRouterNotificationLifecycle(t *testing.T) {
	f := newRouterFixture(t)

	response := f.do(t, http.MethodPatch, "/notifications/unknown/read", f.userToken, nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusNotFound)
	}
	response.Body.Close()

	response = f.do(t, http.MethodPatch, "/notifications/read-all", f.userToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusOK)
	}
	response.Body.Close()

	response = f.do(t, http.MethodGet, "/notifications?page=1&limit=5", f.userToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", response.StatusCode, http.StatusOK)
	}
	var page struct {
		Notifications []notifications.View `json:"notifications"`
		Total         int64                `json:"total"`
		Page          int                  `json:"page"`
	}
	if err := json.NewDecoder(response.Body).Decode(&page); err != nil {
		t.Fatalf("failed to decode page: %v", err)
	}
	response.Body.Close()
	if page.Total != 0 || page.Page != 1 {
		t.Fatalf("unexpected page payload: %#v", page)
	}
}

// forceChallengeKind rewrites the pending decision to the goal's challenge so
// the proof flow is deterministic regardless of the random workflow pick.
func forceChallengeKind(t *testing.T, f *routerFixture, userID string) {
	t.Helper()
	status, err := f.wheel.Status(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.Pending == nil {
		t.Fatalf("expected a pending outcome")
	}
	if status.Pending.Kind == wheel.WorkflowChallenge {
		return
	}
	var challenge wheel.Challenge
	if err := f.db.Where("goal_id = ?", status.Pending.Goal.ID).First(&challenge).Error; err != nil {
		t.Fatalf("failed to load challenge: %v", err)
	}
	err = f.db.Model(&wheel.PendingDecision{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"kind": wheel.WorkflowChallenge, "workflow_ref": challenge.ID}).Error
	if err != nil {
		t.Fatalf("failed to force challenge kind: %v", err)
	}
}
