package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/songarden/square-api/internal/achievements"
	"github.com/songarden/square-api/internal/auth"
	"github.com/songarden/square-api/internal/game"
	"github.com/songarden/square-api/internal/users"
	"go.uber.org/zap"
)

const (
	assertionContextKey = "square_assertion"

	heartbeatInterval = 15 * time.Second
)

var (
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingUserService   = errors.New("user service dependency required")
	errMissingGameService   = errors.New("game service dependency required")
	errMissingEngine        = errors.New("achievement engine dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokens issues and verifies session tokens.
type SessionTokens interface {
	Issue(userID, displayName string, bestScore float64) (string, int64, error)
	Verify(token string) (auth.SessionAssertion, error)
}

// Dependencies wires the HTTP layer to the core services.
type Dependencies struct {
	Tokens       SessionTokens
	Users        *users.Service
	Game         *game.Service
	Achievements *achievements.Engine
	Dispatcher   *PromotionDispatcher
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the service API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Game == nil {
		return nil, errMissingGameService
	}
	if deps.Achievements == nil {
		return nil, errMissingEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewPromotionDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.Tokens,
		users:        deps.Users,
		game:         deps.Game,
		achievements: deps.Achievements,
		dispatcher:   dispatcher,
		logger:       logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.GET("/leaderboard", handler.handleLeaderboard)
	router.GET("/leaderboard/stream", handler.handleLeaderboardStream)

	protected := router.Group("/users/:user_id")
	protected.Use(handler.authorizeRequest)
	protected.POST("/rounds", handler.handleSubmitRound)
	protected.GET("/ranking", handler.handlePersonalRanking)
	protected.POST("/ranking", handler.handlePersonalRanking)
	protected.POST("/achievements", handler.handleCheckAchievement)

	return router, nil
}

type httpHandler struct {
	tokens       SessionTokens
	users        *users.Service
	game         *game.Service
	achievements *achievements.Engine
	dispatcher   *PromotionDispatcher
	logger       *zap.Logger
}

type registerRequestPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Register(c.Request.Context(), users.RegistrationRequest{
		UserID:      request.UserID,
		DisplayName: request.DisplayName,
		Password:    request.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidRegistration):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_registration"})
		case errors.Is(err, users.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
		default:
			h.logger.Error("registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id":      user.UserID,
		"display_name": user.DisplayName,
	})
}

type loginRequestPayload struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.UserID, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("authentication failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authentication_failed"})
		return
	}

	token, expiresIn, err := h.tokens.Issue(user.UserID, user.DisplayName, user.BestScore)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	entries, err := h.game.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to compute leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

func (h *httpHandler) handleLeaderboardStream(c *gin.Context) {
	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// flush headers right away so clients see the stream before the first event
	c.SSEvent(streamEventHeartbeat, gin.H{"time": time.Now().UTC()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(StreamEventRecordPromoted, event)
			return true
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"time": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type roundRequestPayload struct {
	Scores []float64 `json:"scores"`
}

func (h *httpHandler) handleSubmitRound(c *gin.Context) {
	assertion, ok := h.guardUser(c)
	if !ok {
		return
	}

	var request roundRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	total, err := h.game.SubmitRound(c.Request.Context(), assertion.UserID, request.Scores)
	if err != nil {
		h.respondGameError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"pending_score": total})
}

func (h *httpHandler) handlePersonalRanking(c *gin.Context) {
	assertion, ok := h.guardUser(c)
	if !ok {
		return
	}

	var scores []float64
	if c.Request.Method == http.MethodPost {
		var request roundRequestPayload
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		scores = request.Scores
	}

	view, err := h.game.PersonalView(c.Request.Context(), assertion.UserID, scores)
	if err != nil {
		h.respondGameError(c, err)
		return
	}

	if view.Promoted {
		h.dispatcher.Publish(PromotionEvent{
			UserID:      assertion.UserID,
			DisplayName: assertion.DisplayName,
			BestScore:   view.BestScore,
			Timestamp:   time.Now().UTC(),
		})
	}

	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleCheckAchievement(c *gin.Context) {
	assertion, ok := h.guardUser(c)
	if !ok {
		return
	}

	var request roundRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	award, err := h.achievements.Evaluate(c.Request.Context(), assertion.UserID, request.Scores)
	if err != nil {
		h.logger.Error("achievement evaluation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation_failed"})
		return
	}
	if award == nil {
		c.JSON(http.StatusOK, gin.H{"granted": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"granted":        true,
		"achievement_id": award.AchievementID,
		"title":          award.Title,
		"body":           award.Body,
	})
}

// authorizeRequest verifies the bearer token and stashes the decoded assertion
// for the handlers. Token failures never degrade to anonymous access.
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
	assertion, err := h.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			h.logger.Info("token verification failed", zap.Error(err))
		} else {
			h.logger.Warn("token verification failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(assertionContextKey, assertion)
	c.Next()
}

// guardUser rejects requests whose token identity does not match the resource
// path. Mismatches are unauthorized, not redirects.
func (h *httpHandler) guardUser(c *gin.Context) (auth.SessionAssertion, bool) {
	value, exists := c.Get(assertionContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.SessionAssertion{}, false
	}
	assertion, ok := value.(auth.SessionAssertion)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.SessionAssertion{}, false
	}
	if c.Param("user_id") != assertion.UserID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.SessionAssertion{}, false
	}
	return assertion, true
}

func (h *httpHandler) respondGameError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, game.ErrInvalidRound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_round"})
	case errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error("game operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
