package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coinrail/custody_service/internal/api/handlers"
	"github.com/coinrail/custody_service/internal/api/middleware"
	"github.com/coinrail/custody_service/pkg/logger"
	"github.com/coinrail/custody_service/pkg/metrics"
)

// Setup wires the HTTP surface
func Setup(
	environment string,
	custody *handlers.CustodyHandlers,
	admin *handlers.AdminHandlers,
	m *metrics.Metrics,
	log *logger.Logger,
) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Recovery(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := router.Group("/api/v1")
	{
		custodyGroup := v1.Group("/custody")
		{
			custodyGroup.POST("/withdrawals/:id/enqueue", custody.EnqueueWithdrawal)
			custodyGroup.POST("/wallets/:id/monitor", custody.MonitorWallet)
			custodyGroup.DELETE("/wallets/:id/monitor", custody.UnmonitorWallet)
			custodyGroup.GET("/wallets/monitored", custody.MonitoredWallets)
			custodyGroup.GET("/chains/health", custody.ChainHealth)
		}

		adminGroup := v1.Group("/admin")
		{
			adminGroup.GET("/profits", admin.GetProfits)
		}
	}

	return router
}
