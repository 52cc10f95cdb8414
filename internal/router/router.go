// Package router wires the HTTP routes.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"veilcore/internal/handlers"
	"veilcore/internal/middleware"
)

// New builds the gin engine. auth may be nil when the API runs open.
func New(h *handlers.Handler, auth *middleware.AuthMiddleware, log *logrus.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Observe(log))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	if auth != nil {
		api.Use(auth.RequireAuth())
	}
	{
		api.POST("/deposit", h.Deposit)
		api.POST("/withdraw", h.Withdraw)
		api.GET("/withdraw/ws", h.WithdrawWS)
		api.GET("/pools", h.Pools)
		api.GET("/relayers", h.Relayers)
		api.POST("/nullifiers/check", h.CheckSpent)
		api.GET("/deposits", h.DepositHistory)
	}
	return r
}
