package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/cache"
	"github.com/iliyamo/election-backend/internal/handler"
	"github.com/iliyamo/election-backend/internal/middleware"
	"github.com/iliyamo/election-backend/internal/model"
)

// Handlers bundles everything RegisterRoutes mounts.
type Handlers struct {
	Auth       *handler.AuthHandler
	Vote       *handler.VoteHandler
	Offline    *handler.OfflineHandler
	Broadcast  *handler.BroadcastHandler
	Admin      *handler.AdminHandler
	Candidates *handler.CandidateHandler
	Health     echo.HandlerFunc
}

// Options carries the middleware settings of the API group.
type Options struct {
	JWTSecret    string
	Results      *cache.Results
	MaxCacheBody int
	RateLimit    echo.MiddlewareFunc // per-IP bucket on /api, nil to disable
}

// RegisterRoutes mounts /healthz and the /api tree.
func RegisterRoutes(e *echo.Echo, h Handlers, o Options) {
	e.GET("/healthz", h.Health)

	api := e.Group("/api")
	if o.RateLimit != nil {
		api.Use(o.RateLimit)
	}
	auth := middleware.JWTAuth(o.JWTSecret)
	can := middleware.RequireCapability

	registerAuth(api, h.Auth, auth, can)
	registerVotes(api, h.Vote, h.Offline, auth, can, o)

	api.GET("/candidates", h.Vote.Candidates)

	b := api.Group("/broadcast", auth, can(model.CapSendBroadcast))
	b.POST("/send", h.Broadcast.Send)
	b.POST("/preview", h.Broadcast.Preview)

	registerAdmin(api.Group("/admin", auth, can(model.CapManageVoters)), h.Admin, h.Candidates)
}

func registerAdmin(adm *echo.Group, a *handler.AdminHandler, cands *handler.CandidateHandler) {
	adm.GET("/users", a.ListUsers)
	adm.PATCH("/users/:id/role", a.SetRole)

	adm.GET("/voters", a.Voters)
	adm.POST("/voters", a.CreateVoter)
	adm.DELETE("/voters/:id", a.DeleteVoter)
	adm.POST("/voters/:id/restore", a.RestoreVoter)

	adm.GET("/candidates", cands.List)
	adm.POST("/candidates", cands.Create)
	adm.PUT("/candidates/:id", cands.Update)
	adm.DELETE("/candidates/:id", cands.Delete)
	adm.POST("/candidates/:id/restore", cands.Restore)
	adm.DELETE("/candidates/:id/permanent", cands.Purge)
}

func registerAuth(api *echo.Group, a *handler.AuthHandler, auth echo.MiddlewareFunc, can func(model.Capability) echo.MiddlewareFunc) {
	g := api.Group("/auth")
	// public
	g.POST("/otp-request", a.RequestOTP)
	g.POST("/otp-verify", a.VerifyOTP)
	g.POST("/login", a.OperatorLogin)

	g.GET("/me", a.Me, auth)
	g.POST("/otp-manual", a.ManualOTP, auth, can(model.CapIssueManualOTP))
	g.POST("/reset-otp-limit", a.ResetOTPLimit, auth, can(model.CapIssueManualOTP))
}

func registerVotes(api *echo.Group, v *handler.VoteHandler, off *handler.OfflineHandler,
	auth echo.MiddlewareFunc, can func(model.Capability) echo.MiddlewareFunc, o Options) {
	g := api.Group("/votes")

	// Aggregates are public and served from the results cache.
	g.GET("/stats", v.Stats, middleware.CacheAggregate(o.Results, cache.KeyStats, o.MaxCacheBody))
	g.GET("/results", v.ResultsList, middleware.CacheAggregate(o.Results, cache.KeyResults, o.MaxCacheBody))
	g.GET("/activity", v.Activity, auth, can(model.CapViewActivity),
		middleware.CacheAggregate(o.Results, cache.KeyActivity, o.MaxCacheBody))

	g.POST("", v.Cast, auth, can(model.CapCastVote))
	g.GET("/status", v.Status, auth, can(model.CapCastVote))
	g.DELETE("/:id", v.Delete, auth, can(model.CapDeleteVotes))

	g.POST("/checkin", off.CheckIn, auth, can(model.CapCheckInVoters))
	g.POST("/uncheckin", off.UnCheckIn, auth, can(model.CapCheckInVoters))
	g.POST("/offline", off.Tally, auth, can(model.CapEnterOfflineTally))
}
