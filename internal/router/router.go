// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fundingdesk/underwriting-backend/internal/config"
	"github.com/fundingdesk/underwriting-backend/internal/handlers"
	"github.com/fundingdesk/underwriting-backend/internal/middleware"
	"github.com/fundingdesk/underwriting-backend/internal/models"
	"github.com/fundingdesk/underwriting-backend/internal/services"
	"github.com/fundingdesk/underwriting-backend/internal/utils"
)

func Initialize(db *gorm.DB, cfg *config.Config) *gin.Engine {
	// Initialize services
	notificationService := services.NewNotificationService(db, cfg)
	storageService, _ := services.NewStorageService(cfg)

	authService := services.NewAuthService(db, cfg)
	decisionService := services.NewDecisionService(db, notificationService)
	applicationService := services.NewApplicationService(db, cfg)
	bankingService := services.NewBankingService(db)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	decisionHandler := handlers.NewDecisionHandler(decisionService)
	applicationHandler := handlers.NewApplicationHandler(applicationService)
	bankingHandler := handlers.NewBankingHandler(bankingService, storageService, notificationService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.I18nMiddleware())
	r.Use(middleware.GeneralRateLimit())
	r.Use(middleware.AuditLogMiddleware(db))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)
			auth.POST("/users", middleware.AuthRequired(), middleware.AdminRequired(), authHandler.CreateStaffUser)
		}

		// Loan application routes
		applications := v1.Group("/applications")
		{
			// Public intake flow
			applications.POST("", middleware.IntakeRateLimit(), applicationHandler.SubmitIntake)
			applications.PUT("/:id/complete", middleware.IntakeRateLimit(), applicationHandler.CompleteApplication)

			// Staff routes
			protected := applications.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.GET("", applicationHandler.SearchApplications)
				protected.GET("/:id", applicationHandler.GetApplication)
				protected.PUT("/:id/status", applicationHandler.UpdateStatus)
			}
		}

		// Underwriting decision store routes (staff)
		decisions := v1.Group("/underwriting-decisions")
		decisions.Use(middleware.AuthRequired())
		{
			decisions.GET("", decisionHandler.List)
			decisions.POST("", middleware.RoleRequired(models.UserTypeAdmin, models.UserTypeUnderwriting), decisionHandler.Create)
			decisions.GET("/:id", decisionHandler.Get)
			decisions.PATCH("/:id", middleware.RoleRequired(models.UserTypeAdmin, models.UserTypeUnderwriting), decisionHandler.Update)
			decisions.DELETE("/:id", middleware.RoleRequired(models.UserTypeAdmin, models.UserTypeUnderwriting), decisionHandler.Reset)
		}

		// Business decision lifecycle routes (staff)
		businesses := v1.Group("/businesses")
		businesses.Use(middleware.AuthRequired(), middleware.RoleRequired(models.UserTypeAdmin, models.UserTypeUnderwriting))
		{
			businesses.GET("/:email/decision", decisionHandler.GetByEmail)
			businesses.POST("/:email/approvals", decisionHandler.RecordApproval)
			businesses.POST("/:email/approvals/:approvalId/primary", decisionHandler.SetPrimary)
			businesses.DELETE("/:email/approvals/:approvalId", decisionHandler.DeleteApproval)
			businesses.POST("/:email/decline", decisionHandler.RecordDecline)
			businesses.POST("/:email/unqualified", decisionHandler.RecordUnqualified)
			businesses.POST("/:email/fund", decisionHandler.MarkFunded)
		}

		// Banking routes
		banking := v1.Group("/banking")
		{
			banking.POST("/connections", middleware.OptionalAuth(), bankingHandler.RecordConnection)
			banking.POST("/statements", middleware.OptionalAuth(), middleware.UploadRateLimit(), bankingHandler.UploadStatement)

			// Staff routes
			protected := banking.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.GET("/connections", bankingHandler.ListConnections)
				protected.GET("/statements", bankingHandler.ListStatements)
				protected.PUT("/statements/:id/review", bankingHandler.ReviewStatement)
				protected.GET("/statements/:id/download", bankingHandler.DownloadStatement)
				protected.GET("/pipeline", bankingHandler.GetPipelineSummary)
			}
		}

		// Approval letter routes (public)
		letters := v1.Group("/approval-letters")
		{
			letters.GET("/:slug", decisionHandler.GetApprovalLetter)
		}
	}

	// Static file serving (for development)
	if cfg.Environment == "development" {
		r.Static("/uploads", "./uploads")
	}

	return r
}
