// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"codeberg.org/oliverandrich/emailauth/internal/handlers"
	appmw "codeberg.org/oliverandrich/emailauth/internal/middleware"
	"codeberg.org/oliverandrich/emailauth/internal/services/session"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	health            *handlers.Handlers
	auth              *handlers.AuthHandlers
	recovery          *handlers.RecoveryHandlers
	sessions          *session.Manager
	gatherer          prometheus.Gatherer
	requestsPerMinute int
}

func setupRoutes(e *echo.Echo, d routeDeps) {
	e.GET("/health", d.health.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{})))

	limit := appmw.RateLimitByIP(d.requestsPerMinute)
	withSession := appmw.LoadSession(d.sessions)

	a := e.Group("/auth", withSession)
	a.POST("/login", d.auth.Login, limit)
	a.POST("/login/verify", d.auth.Verify, limit)
	a.POST("/logout", d.auth.Logout)
	a.GET("/me", d.auth.Me)

	r := e.Group("/account-recovery", withSession)
	r.GET("", d.recovery.Form)
	r.POST("", d.recovery.Submit, limit)
	r.GET("/confirm/:token", d.recovery.Confirm, limit)
	r.GET("/*", d.recovery.Form)
}
