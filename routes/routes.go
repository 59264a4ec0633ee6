package routes

import (
	"github.com/gin-gonic/gin"

	"nextcompete-api/config"
	"nextcompete-api/controllers"
	"nextcompete-api/middleware"
	"nextcompete-api/models"
	"nextcompete-api/monitor"
)

func SetupRoutes(router *gin.Engine, h *controllers.Handlers, auth gin.HandlerFunc) {
	api := router.Group("/api")
	{
		// Health check
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "ok",
				"message": "NextCompete API is running",
			})
		})

		// Protected routes (require authentication)
		protected := api.Group("")
		protected.Use(auth)
		{
			competitions := protected.Group("/competitions")
			{
				competitions.POST("", middleware.RequireRole(models.RoleOrganizer, models.RoleAdmin), h.CreateCompetition)
				competitions.POST("/register", h.RegisterForCompetition)
				competitions.GET("/:id", h.GetCompetition)
				competitions.GET("/:id/participants", h.ListParticipants)
				competitions.GET("/:id/eligibility", h.GetEligibility)
				competitions.POST("/:id/winners", h.SelectWinners)
			}

			rounds := protected.Group("/rounds")
			{
				rounds.GET("/:roundId", h.GetRound)
				rounds.PUT("/:roundId", h.UpdateRound)
				rounds.POST("/:roundId/resources", h.AddRoundResource)
				rounds.GET("/:roundId/submissions", h.ListRoundSubmissions)
				rounds.GET("/:roundId/leaderboard", h.GetLeaderboard)
			}

			submissions := protected.Group("/submissions")
			{
				submissions.POST("", h.UpsertSubmission)
				submissions.GET("/mine", h.ListMySubmissions)
				submissions.GET("/:id", h.GetSubmission)
				submissions.PUT("/:id", h.UpsertSubmission)
				submissions.GET("/:id/evaluations", h.ListEvaluations)
				submissions.POST("/:id/evaluations", h.RecordEvaluation)
				submissions.POST("/:id/decision", h.DecideSubmission)
			}

			// Storage
			protected.POST("/upload", h.Upload)
			protected.POST("/storage/delete", h.DeleteAsset)

			// Notifications (polled by clients)
			notifications := protected.Group("/notification")
			{
				notifications.GET("", h.GetNotifications)
				notifications.GET("/counter", h.GetNotificationCounter)
				notifications.PUT("", h.MarkNotificationRead)
			}

			messages := protected.Group("/messages")
			{
				messages.POST("/conversations/find-or-create", h.FindOrCreateConversation)
				messages.GET("/conversations", h.ListConversations)
				messages.GET("/conversations/:conversationId/messages", h.ListMessages)
				messages.POST("/send", h.SendMessage)
				messages.POST("/:conversationId/read", h.MarkConversationRead)
			}

			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole(models.RoleAdmin))
			{
				admin.POST("/storage/reconcile", h.ReconcileStorage)
				monitor.RegisterRoutes(admin, config.DB)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "Endpoint not found"})
	})
}
