package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "flock/internal/api/context"
	"flock/internal/api/handlers"
	"flock/internal/api/middleware"
	"flock/internal/pkg/errors"
	"flock/internal/platform/auth"
)

type Dependencies struct {
	AuthHandler       *handlers.AuthHandler
	OrgHandler        *handlers.OrgHandler
	UserHandler       *handlers.UserHandler
	SchedulingHandler *handlers.SchedulingHandler
	WebhookHandler    *handlers.WebhookHandler
	JobHandler        *handlers.JobHandler
	AuditHandler      *handlers.AuditHandler
	HealthHandler     *handlers.HealthHandler
	MetricsHandler    *handlers.MetricsHandler
	AuthMiddleware    *middleware.AuthMiddleware
	TenantMiddleware  *middleware.TenantMiddleware
	RateLimit         *middleware.RateLimitMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	authMid := deps.AuthMiddleware
	tenantMid := deps.TenantMiddleware
	limit := deps.RateLimit.Class

	// Operational endpoints, unauthenticated and unlimited.
	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Authentication: the strictest window, keyed by client IP.
	router.POST("/api/v1/auth/signup", chain(deps.AuthHandler.Signup, limit("auth")))
	router.POST("/api/v1/auth/login", chain(deps.AuthHandler.Login, limit("auth")))
	router.POST("/api/v1/auth/refresh", chain(deps.AuthHandler.Refresh, limit("auth")))

	// Church (organization) management
	router.POST("/api/v1/organizations", chain(deps.OrgHandler.Create, limit("auth")))
	router.GET("/api/v1/organizations/current",
		chain(deps.OrgHandler.GetCurrent, limit("dashboard"), authMid.Handle, tenantMid.Handle))

	// User management
	router.GET("/api/v1/users",
		chain(deps.UserHandler.List, limit("dashboard"), authMid.Handle, tenantMid.Handle, requireRole("admin", "owner", "leader")))
	router.GET("/api/v1/users/:user_id",
		chain(deps.UserHandler.Get, limit("dashboard"), authMid.Handle, tenantMid.Handle))
	router.PATCH("/api/v1/users/:user_id/role",
		chain(deps.UserHandler.UpdateRole, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))
	router.DELETE("/api/v1/users/:user_id",
		chain(deps.UserHandler.Delete, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner")))

	// Ministries
	router.POST("/api/v1/ministries",
		chain(deps.SchedulingHandler.CreateMinistry, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))
	router.GET("/api/v1/ministries",
		chain(deps.SchedulingHandler.ListMinistries, limit("dashboard"), authMid.Handle, tenantMid.Handle))

	// Events
	router.POST("/api/v1/events",
		chain(deps.SchedulingHandler.CreateEvent, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin", "leader")))
	router.GET("/api/v1/events",
		chain(deps.SchedulingHandler.ListEvents, limit("dashboard"), authMid.Handle, tenantMid.Handle))
	router.GET("/api/v1/events/:event_id",
		chain(deps.SchedulingHandler.GetEvent, limit("dashboard"), authMid.Handle, tenantMid.Handle))
	router.PATCH("/api/v1/events/:event_id",
		chain(deps.SchedulingHandler.UpdateEvent, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin", "leader")))
	router.DELETE("/api/v1/events/:event_id",
		chain(deps.SchedulingHandler.CancelEvent, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin", "leader")))

	// Assignments
	router.POST("/api/v1/events/:event_id/assignments",
		chain(deps.SchedulingHandler.CreateAssignment, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin", "leader")))
	router.GET("/api/v1/events/:event_id/assignments",
		chain(deps.SchedulingHandler.ListAssignments, limit("dashboard"), authMid.Handle, tenantMid.Handle))
	router.GET("/api/v1/assignments",
		chain(deps.SchedulingHandler.MyAssignments, limit("dashboard"), authMid.Handle, tenantMid.Handle))
	router.POST("/api/v1/assignments/:assignment_id/respond",
		chain(deps.SchedulingHandler.RespondToAssignment, limit("api"), authMid.Handle, tenantMid.Handle))
	router.DELETE("/api/v1/assignments/:assignment_id",
		chain(deps.SchedulingHandler.CancelAssignment, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin", "leader")))

	// Webhook subscriptions
	router.GET("/api/v1/webhooks",
		chain(deps.WebhookHandler.List, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))
	router.POST("/api/v1/webhooks",
		chain(deps.WebhookHandler.Register, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))
	router.DELETE("/api/v1/webhooks",
		chain(deps.WebhookHandler.Unregister, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))
	router.POST("/api/v1/webhooks/test",
		chain(deps.WebhookHandler.TriggerTest, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))

	// Background jobs
	router.POST("/api/v1/jobs",
		chain(deps.JobHandler.Add, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))
	router.GET("/api/v1/jobs",
		chain(deps.JobHandler.List, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))
	// httprouter cannot mix /jobs/stats with /jobs/:job_id, so stats
	// live under /queues.
	router.GET("/api/v1/queues",
		chain(deps.JobHandler.Stats, limit("reports"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))
	router.GET("/api/v1/jobs/:job_id",
		chain(deps.JobHandler.Get, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))
	router.DELETE("/api/v1/jobs/:job_id",
		chain(deps.JobHandler.Cancel, limit("api"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))

	// Audit trail
	router.GET("/api/v1/audit-logs",
		chain(deps.AuditHandler.List, limit("reports"), authMid.Handle, tenantMid.Handle, requireRole("owner", "admin")))

	return router
}

// chain applies middlewares right to left around the handler.
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// wrap converts to httprouter.Handle, carrying the route params on the
// request context.
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
			if !ok {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
				return
			}

			for _, role := range roles {
				if claims.Role == role {
					next(w, r)
					return
				}
			}

			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		}
	}
}
