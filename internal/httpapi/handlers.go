package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"dialer-platform/internal/agent"
	"dialer-platform/internal/allocation"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/dnc"
	"dialer-platform/pkg/utils"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the engine, return JSON.
type Handlers struct {
	Auth   *auth.Manager
	Dialer *dialer.Manager
	Agents agent.Repository
	Dnc    dnc.Repository

	// DB and Redis are optional; when set, /healthz checks them.
	DB    *sql.DB
	Redis *redis.Client
}

// Health reports liveness of the process and its backing stores.
func (h Handlers) Health(c *gin.Context) {
	ctx := c.Request.Context()
	if h.DB != nil {
		if err := utils.HealthCheck(ctx, h.DB, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Campaigns ---

func (h Handlers) StartCampaign(c *gin.Context) {
	id := c.Param("id")
	st, err := h.Dialer.StartCampaign(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrAlreadyActive):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign already active"})
		case errors.Is(err, campaign.ErrNotFound), errors.Is(err, campaign.ErrNotActive):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found or not startable"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign start failed"})
		}
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) StopCampaign(c *gin.Context) {
	id := c.Param("id")
	if err := h.Dialer.StopCampaign(c.Request.Context(), id); err != nil {
		if errors.Is(err, campaign.ErrNotActive) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign not active"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign stop failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "active": false})
}

func (h Handlers) CampaignStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dialer.CampaignStatus(c.Param("id")))
}

// --- Dialing ---

// CallNext originates one progressive call for the authenticated agent.
func (h Handlers) CallNext(c *gin.Context) {
	agentID, err := auth.UserID(c.Request.Context())
	if err != nil || agentID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent identity required"})
		return
	}

	attempt, err := h.Dialer.CallNext(c.Request.Context(), agentID)
	if err != nil {
		switch {
		case errors.Is(err, allocation.ErrNoWorkAvailable):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no pending allocations"})
		case errors.Is(err, dialer.ErrNoCampaignAssigned):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no campaign assigned"})
		case errors.Is(err, dialer.ErrAgentNotReady):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "agent not ready"})
		case errors.Is(err, dialer.ErrComplianceDenied):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, campaign.ErrNotActive):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign not active"})
		default:
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "dial failed"})
		}
		return
	}
	c.JSON(http.StatusOK, attempt)
}

type endCallRequest struct {
	Disposition     string `json:"disposition"`
	ConsentCaptured bool   `json:"consent_captured"`
}

func (h Handlers) EndCall(c *gin.Context) {
	var req endCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	attempt, err := h.Dialer.EndCall(c.Request.Context(), c.Param("id"), req.Disposition, req.ConsentCaptured)
	if err != nil {
		switch {
		case errors.Is(err, dialer.ErrAttemptNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		case errors.Is(err, dialer.ErrInvalidTransition):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call not in an endable state"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "end call failed"})
		}
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func (h Handlers) AbandonCall(c *gin.Context) {
	attempt, err := h.Dialer.AbandonCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, dialer.ErrAttemptNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		case errors.Is(err, dialer.ErrInvalidTransition):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call not abandonable"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "abandon failed"})
		}
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// --- Agents ---

type agentStatusRequest struct {
	Status     string `json:"status"`
	CampaignID string `json:"campaign_id"`
}

// SetAgentStatus lets an agent flip between ready/break/wrap/offline.
// on_call is engine-owned and rejected here.
func (h Handlers) SetAgentStatus(c *gin.Context) {
	agentID, err := auth.UserID(c.Request.Context())
	if err != nil || agentID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent identity required"})
		return
	}

	var req agentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := agent.Status(req.Status)
	if !status.Valid() || status == agent.StatusOnCall {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be one of ready, break, wrap, offline"})
		return
	}

	if err := h.Agents.SetStatus(c.Request.Context(), agentID, status, req.CampaignID); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "status": status, "campaign_id": req.CampaignID})
}

// --- DNC ---

type addDncRequest struct {
	PhoneNumber string `json:"phone_number"`
	Reason      string `json:"reason"`
}

func (h Handlers) AddDnc(c *gin.Context) {
	addedBy, _ := auth.UserID(c.Request.Context())

	var req addDncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.PhoneNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}

	err := h.Dnc.Add(c.Request.Context(), dnc.DncNumber{
		PhoneNumber: req.PhoneNumber,
		Reason:      req.Reason,
		AddedBy:     addedBy,
	})
	if err != nil {
		if errors.Is(err, dnc.ErrAlreadyListed) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "number already listed"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dnc insert failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"phone_number": req.PhoneNumber})
}

func (h Handlers) CheckDnc(c *gin.Context) {
	number := c.Param("number")
	entry, listed, err := h.Dnc.Get(c.Request.Context(), number)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dnc lookup failed"})
		return
	}
	if !listed {
		c.JSON(http.StatusOK, gin.H{"phone_number": number, "listed": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"phone_number": number, "listed": true, "reason": entry.Reason})
}
