package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 支付相关
		payment := api.Group("/payment")
		{
			payment.POST("/create", h.CreatePayment)
			payment.POST("/callback/:channel", h.PaymentCallback)
			payment.POST("/refund", h.RequestRefund)
			payment.GET("/detail", h.GetPayment)
		}

		// 对账相关
		recon := api.Group("/reconciliation")
		{
			recon.POST("/trigger", h.TriggerReconciliation)
			recon.GET("/batch/:batch_no", h.GetReconciliationBatch)
			recon.GET("/list", h.ListReconciliations)
			recon.GET("/unresolved", h.GetUnresolvedDiffs)
			recon.POST("/diff/:id/solve", h.SolveDiff)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
