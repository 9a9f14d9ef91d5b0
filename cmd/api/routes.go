package main

import (
	"github.com/gin-gonic/gin"

	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	// public
	r.GET("/healthz", h.Health)
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("/:id/start", rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleAdmin), h.StartCampaign)
			campaigns.POST("/:id/stop", rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleAdmin), h.StopCampaign)
			campaigns.GET("/:id/status", h.CampaignStatus)
		}

		dialerGroup := v1.Group("/dialer")
		dialerGroup.Use(rbac.RequireAnyRole(rbac.RoleAgent))
		{
			dialerGroup.POST("/call-next", h.CallNext)
		}

		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			calls.POST("/:id/end", h.EndCall)
			calls.POST("/:id/abandon", h.AbandonCall)
		}

		agents := v1.Group("/agents")
		agents.Use(rbac.RequireAnyRole(rbac.RoleAgent))
		{
			agents.POST("/status", h.SetAgentStatus)
		}

		dncGroup := v1.Group("/dnc")
		{
			dncGroup.POST("", rbac.RequireAnyRole(rbac.RoleAdmin), h.AddDnc)
			dncGroup.GET("/:number", h.CheckDnc)
		}
	}
}
