package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VerdantLoopLab/ecospin/backend/internal/auth"
	"github.com/VerdantLoopLab/ecospin/backend/internal/challenges"
	"github.com/VerdantLoopLab/ecospin/backend/internal/notifications"
	"github.com/VerdantLoopLab/ecospin/backend/internal/users"
	"github.com/VerdantLoopLab/ecospin/backend/internal/wheel"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "ecospin_user_id"
	roleContextKey   = "ecospin_role"

	maxProofUploadBytes = 10 << 20
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingWheelService  = errors.New("wheel service dependency required")
	errMissingProofService  = errors.New("proof service dependency required")
	errMissingNotifications = errors.New("notification service dependency required")
	errMissingHub           = errors.New("notification hub dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager validates bearer credentials. Implemented by auth.TokenIssuer.
type TokenManager interface {
	ValidateToken(token string) (auth.Claims, error)
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	TokenManager  TokenManager
	Users         *users.Service
	Wheel         *wheel.Service
	Proofs        *challenges.Service
	Notifications *notifications.Service
	Hub           *notifications.Hub
	Logger        *zap.Logger
}

// NewHTTPHandler builds the full REST and websocket surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Wheel == nil {
		return nil, errMissingWheelService
	}
	if deps.Proofs == nil {
		return nil, errMissingProofService
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		users:         deps.Users,
		wheel:         deps.Wheel,
		proofs:        deps.Proofs,
		notifications: deps.Notifications,
		hub:           deps.Hub,
		logger:        logger,
	}

	router.GET("/ws", handler.handleWebsocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread", handler.handleUnreadNotifications)
	protected.GET("/notifications/unread/count", handler.handleUnreadCount)
	protected.PATCH("/notifications/read-all", handler.handleMarkAllRead)
	protected.PATCH("/notifications/:id/read", handler.handleMarkRead)
	protected.DELETE("/notifications/:id", handler.handleDeleteNotification)

	protected.POST("/odds/spin", handler.handleSpin)
	protected.GET("/odds/spin/status", handler.handleSpinStatus)
	protected.POST("/odds/quiz/answer", handler.handleQuizAnswer)
	protected.POST("/odds/challenge/accept", handler.handleChallengeAccept)
	protected.POST("/odds/challenge/decline", handler.handleChallengeDecline)

	protected.POST("/challenges/proof/submit", handler.handleProofSubmit)

	moderation := protected.Group("/")
	moderation.Use(handler.requireModerator)
	moderation.GET("/challenges/proofs/pending", handler.handlePendingProofs)
	moderation.PUT("/proofs/:id/status", handler.handleProofStatus)
	moderation.POST("/proofs/:id/vote", handler.handleProofVote)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	users         *users.Service
	wheel         *wheel.Service
	proofs        *challenges.Service
	notifications *notifications.Service
	hub           *notifications.Hub
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(roleContextKey, claims.Role)
	c.Next()
}

func (h *httpHandler) requireModerator(c *gin.Context) {
	if c.GetString(roleContextKey) != auth.RoleModerator {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

// handleWebsocket authenticates via query parameter because browser websocket
// clients cannot set an Authorization header on the upgrade request.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("websocket token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.hub.HandleConnection(c.Writer, c.Request, claims.Subject); err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
	}
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)

	rows, total, err := h.notifications.Page(c.Request.Context(), userID, page, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": viewsOf(rows),
		"total":         total,
		"page":          page,
	})
}

func (h *httpHandler) handleUnreadNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	rows, err := h.notifications.Unread(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": viewsOf(rows)})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	count, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.notifications.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.notifications.MarkAllRead(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleDeleteNotification(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.notifications.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSpin(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	outcome, err := h.wheel.Spin(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *httpHandler) handleSpinStatus(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	status, err := h.wheel.Status(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type quizAnswerPayload struct {
	Answer *int `json:"answer"`
}

func (h *httpHandler) handleQuizAnswer(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var payload quizAnswerPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Answer == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.wheel.AnswerQuiz(c.Request.Context(), userID, *payload.Answer)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleChallengeAccept(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.wheel.AcceptChallenge(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (h *httpHandler) handleChallengeDecline(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.wheel.DeclineChallenge(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "declined"})
}

func (h *httpHandler) handleProofSubmit(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxProofUploadBytes)

	input := challenges.SubmitInput{
		MediaType: c.PostForm("media_type"),
		URL:       c.PostForm("media_url"),
	}
	if file, err := c.FormFile("media"); err == nil && file != nil {
		opened, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		defer opened.Close()
		input.File = opened
		input.FileName = file.Filename
		input.ContentType = file.Header.Get("Content-Type")
	}

	proof, err := h.proofs.Submit(c.Request.Context(), userID, input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proof.View())
}

func (h *httpHandler) handlePendingProofs(c *gin.Context) {
	rows, err := h.proofs.Pending(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]challenges.View, 0, len(rows))
	for _, row := range rows {
		views = append(views, row.View())
	}
	c.JSON(http.StatusOK, gin.H{"proofs": views})
}

type proofStatusPayload struct {
	Status          string `json:"status"`
	RejectionReason string `json:"rejectionReason"`
}

func (h *httpHandler) handleProofStatus(c *gin.Context) {
	var payload proofStatusPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	status, err := challenges.ParseStatus(payload.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}

	var proof challenges.Proof
	switch status {
	case challenges.StatusVerified:
		proof, err = h.proofs.Approve(c.Request.Context(), c.Param("id"))
	case challenges.StatusRejected:
		proof, err = h.proofs.Reject(c.Request.Context(), c.Param("id"), payload.RejectionReason)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proof.View())
}

func (h *httpHandler) handleProofVote(c *gin.Context) {
	proof, err := h.proofs.Vote(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proof.View())
}

// fail maps domain errors onto the wire contract. Conflicts carry stable
// codes the client treats as idempotent outcomes, not failures.
func (h *httpHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wheel.ErrAlreadySpun):
		c.JSON(http.StatusConflict, gin.H{"error": "already_spun"})
	case errors.Is(err, wheel.ErrAlreadyAnswered):
		c.JSON(http.StatusConflict, gin.H{"error": "already_answered"})
	case errors.Is(err, wheel.ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{"error": "already_decided"})
	case errors.Is(err, challenges.ErrProofResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "proof_resolved"})
	case errors.Is(err, wheel.ErrInvalidChoice):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_choice"})
	case errors.Is(err, challenges.ErrInvalidReason):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reason"})
	case errors.Is(err, challenges.ErrEmptyMedia):
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_media"})
	case errors.Is(err, wheel.ErrNoPendingDecision):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_pending_decision"})
	case errors.Is(err, wheel.ErrWrongWorkflow):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "wrong_workflow"})
	case errors.Is(err, wheel.ErrNoContent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_content"})
	case errors.Is(err, challenges.ErrNoActiveChallenge):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_active_challenge"})
	case errors.Is(err, challenges.ErrProofNotFound), errors.Is(err, notifications.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func viewsOf(rows []notifications.Notification) []notifications.View {
	views := make([]notifications.View, 0, len(rows))
	for _, row := range rows {
		views = append(views, row.View())
	}
	return views
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
