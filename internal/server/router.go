// Package server wires the herald services into the public HTTP surface.
// Request admission (tenant exists, caller authenticated, caller is admin
// where required) happens here, before any core operation runs.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/herald-notify/herald/internal/apperr"
	"github.com/herald-notify/herald/internal/channels"
	"github.com/herald-notify/herald/internal/notifications"
	"github.com/herald-notify/herald/internal/subscriptions"
	"github.com/herald-notify/herald/internal/tenants"
	"github.com/herald-notify/herald/internal/tokens"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "herald_user_id"
	tenantContextKey = "herald_tenant_id"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingTenants       = errors.New("tenant registry dependency required")
	errMissingChannels      = errors.New("channel directory dependency required")
	errMissingSubscriptions = errors.New("subscription ledger dependency required")
	errMissingTokenRegistry = errors.New("token registry dependency required")
	errMissingDispatcher    = errors.New("dispatcher dependency required")
	errMissingAdminChecker  = errors.New("admin checker dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// BackendTokenManager issues and validates the bearer tokens protecting the
// API.
type BackendTokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies collects everything the router needs.
type Dependencies struct {
	TokenManager  BackendTokenManager
	Tenants       *tenants.Service
	Channels      *channels.Service
	Subscriptions *subscriptions.Service
	TokenRegistry *tokens.Service
	Dispatcher    *notifications.Service
	AdminChecker  tenants.AdminChecker
	Logger        *zap.Logger
	// EnableDevAuth mounts the token-mint endpoint used in development
	// environments without an external identity provider.
	EnableDevAuth bool
}

// NewHTTPHandler builds the gin handler for the full API surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Tenants == nil {
		return nil, errMissingTenants
	}
	if deps.Channels == nil {
		return nil, errMissingChannels
	}
	if deps.Subscriptions == nil {
		return nil, errMissingSubscriptions
	}
	if deps.TokenRegistry == nil {
		return nil, errMissingTokenRegistry
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.AdminChecker == nil {
		return nil, errMissingAdminChecker
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		tenants:       deps.Tenants,
		channels:      deps.Channels,
		subscriptions: deps.Subscriptions,
		tokenRegistry: deps.TokenRegistry,
		dispatcher:    deps.Dispatcher,
		adminChecker:  deps.AdminChecker,
		logger:        logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.EnableDevAuth {
		router.POST("/auth/token", handler.handleMintToken)
	}

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)

	api.GET("/tenants", handler.handleListTenants)
	api.GET("/tenants/:tenant_id", handler.handleGetTenant)

	tenant := api.Group("/tenants/:tenant_id")
	tenant.Use(handler.resolveTenant)

	tenant.GET("/channels", handler.handleListChannels)
	tenant.POST("/channels", handler.handleCreateChannel)
	tenant.DELETE("/channels/:channel_id", handler.handleDeleteChannel)

	tenant.POST("/tokens", handler.handleRegisterTokens)

	tenant.GET("/subscriptions/me", handler.handleListSubscriptions)
	tenant.POST("/channels/:channel_id/subscriptions", handler.handleSubscribe)
	tenant.DELETE("/channels/:channel_id/subscriptions", handler.handleUnsubscribe)

	tenant.GET("/notifications", handler.handleHistory)
	tenant.POST("/notifications", handler.handleSendToChannels)
	tenant.POST("/notifications/direct", handler.handleSendDirect)

	return router, nil
}

type httpHandler struct {
	tokens        BackendTokenManager
	tenants       *tenants.Service
	channels      *channels.Service
	subscriptions *subscriptions.Service
	tokenRegistry *tokens.Service
	dispatcher    *notifications.Service
	adminChecker  tenants.AdminChecker
	logger        *zap.Logger
}

// --- middleware ---

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
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) resolveTenant(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if _, err := h.tenants.Get(c.Request.Context(), tenantID); err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(tenantContextKey, tenantID)
	c.Next()
}

// requireAdmin consults the external authorization oracle and aborts with
// Forbidden before any side effect when the caller is not a tenant admin.
func (h *httpHandler) requireAdmin(c *gin.Context, tenantID, userID string) bool {
	isAdmin, err := h.adminChecker.IsAdmin(c.Request.Context(), tenantID, userID)
	if err != nil {
		h.logger.Error("admin check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authorization check failed"})
		return false
	}
	if !isAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
		return false
	}
	return true
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrPreconditionRequired):
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- auth ---

type mintTokenPayload struct {
	UserID string `json:"user_id"`
}

type mintTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleMintToken(c *gin.Context) {
	var request mintTokenPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), request.UserID)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, mintTokenResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

// --- tenants ---

func (h *httpHandler) handleListTenants(c *gin.Context) {
	all, err := h.tenants.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (h *httpHandler) handleGetTenant(c *gin.Context) {
	tenant, err := h.tenants.Get(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// --- channels ---

type channelPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsOpen      *bool  `json:"is_open"`
	IsPrivate   bool   `json:"is_private"`
	ParentID    string `json:"parent_id"`
}

func (h *httpHandler) handleListChannels(c *gin.Context) {
	includePrivate := c.Query("include_private") == "true"
	found, err := h.channels.List(c.Request.Context(), c.GetString(tenantContextKey), includePrivate)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *httpHandler) handleCreateChannel(c *gin.Context) {
	tenantID := c.GetString(tenantContextKey)
	userID := c.GetString(userIDContextKey)
	if !h.requireAdmin(c, tenantID, userID) {
		return
	}

	var request channelPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ID == "" || request.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	isOpen := true
	if request.IsOpen != nil {
		isOpen = *request.IsOpen
	}
	created, err := h.channels.Create(c.Request.Context(), channels.Channel{
		ID:          request.ID,
		TenantID:    tenantID,
		Name:        request.Name,
		Description: request.Description,
		IsOpen:      isOpen,
		IsPrivate:   request.IsPrivate,
		ParentID:    request.ParentID,
		UpdatedBy:   userID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleDeleteChannel(c *gin.Context) {
	tenantID := c.GetString(tenantContextKey)
	userID := c.GetString(userIDContextKey)
	if !h.requireAdmin(c, tenantID, userID) {
		return
	}
	if err := h.channels.Delete(c.Request.Context(), c.Param("channel_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- device tokens ---

type registerTokensPayload struct {
	DeviceTokens []string `json:"device_tokens"`
}

func (h *httpHandler) handleRegisterTokens(c *gin.Context) {
	var request registerTokensPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.DeviceTokens) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	_, err := h.tokenRegistry.Register(
		c.Request.Context(),
		c.GetString(tenantContextKey),
		c.GetString(userIDContextKey),
		request.DeviceTokens,
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// --- subscriptions ---

func (h *httpHandler) handleListSubscriptions(c *gin.Context) {
	memberships, err := h.subscriptions.ListForUser(
		c.Request.Context(),
		c.GetString(tenantContextKey),
		c.GetString(userIDContextKey),
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, memberships)
}

func (h *httpHandler) handleSubscribe(c *gin.Context) {
	channelID := c.Param("channel_id")
	// The ledger itself is purely relational; channel existence is the
	// caller's responsibility, enforced here.
	if _, err := h.channels.Get(c.Request.Context(), channelID); err != nil {
		h.respondError(c, err)
		return
	}
	membership, err := h.subscriptions.Subscribe(
		c.Request.Context(),
		c.GetString(tenantContextKey),
		channelID,
		c.GetString(userIDContextKey),
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, membership)
}

func (h *httpHandler) handleUnsubscribe(c *gin.Context) {
	channelID := c.Param("channel_id")
	if _, err := h.channels.Get(c.Request.Context(), channelID); err != nil {
		h.respondError(c, err)
		return
	}
	err := h.subscriptions.Unsubscribe(
		c.Request.Context(),
		c.GetString(tenantContextKey),
		channelID,
		c.GetString(userIDContextKey),
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- notifications ---

type sendPayload struct {
	ChannelIDs      []string `json:"channel_ids"`
	IncludeChildren *bool    `json:"include_child_channels"`
	Title           string   `json:"title"`
	Body            string   `json:"body"`
}

func (h *httpHandler) handleSendToChannels(c *gin.Context) {
	tenantID := c.GetString(tenantContextKey)
	userID := c.GetString(userIDContextKey)
	if !h.requireAdmin(c, tenantID, userID) {
		return
	}

	var request sendPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	includeDescendants := true
	if request.IncludeChildren != nil {
		includeDescendants = *request.IncludeChildren
	}

	records, err := h.dispatcher.SendToChannels(c.Request.Context(), notifications.ChannelSend{
		TenantID:           tenantID,
		ChannelIDs:         request.ChannelIDs,
		IncludeDescendants: includeDescendants,
		Title:              request.Title,
		Body:               request.Body,
		Sender:             userID,
		Persist:            true,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, records)
}

type directSendPayload struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func (h *httpHandler) handleSendDirect(c *gin.Context) {
	tenantID := c.GetString(tenantContextKey)
	userID := c.GetString(userIDContextKey)
	if !h.requireAdmin(c, tenantID, userID) {
		return
	}

	var request directSendPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.dispatcher.SendDirect(c.Request.Context(), notifications.DirectSend{
		TenantID: tenantID,
		UserID:   request.UserID,
		Title:    request.Title,
		Body:     request.Body,
		Sender:   userID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, record)
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 50 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 50"})
			return
		}
		limit = parsed
	}

	records, err := h.dispatcher.History(c.Request.Context(), notifications.HistoryRequest{
		TenantID:   c.GetString(tenantContextKey),
		UserID:     c.GetString(userIDContextKey),
		ChannelIDs: c.QueryArray("channel"),
		Limit:      limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}
