package router

import (
	"net/http"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/handlers"
	"github.com/3Eeeecho/go-cloudvault/internal/middlewares"
	"github.com/3Eeeecho/go-cloudvault/internal/services/uploader"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/3Eeeecho/go-cloudvault/docs"
)

// SetupRouter wires every HTTP route.
func SetupRouter(sessions *uploader.SessionService, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	uploads := api.Group("/uploads", middlewares.AuthMiddleware(&cfg.JWT))
	{
		uploads.POST("", handlers.InitiateUpload(sessions))
		uploads.GET("", handlers.ListUploads(sessions))
		uploads.GET("/:session_id", handlers.GetUploadStatus(sessions))
		uploads.DELETE("/:session_id", handlers.CancelUpload(sessions))
		uploads.PUT("/:session_id/chunks/:index", handlers.UploadChunk(sessions))
	}

	return r
}
