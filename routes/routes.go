package routes

import (
	"catalog-import-service/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the import API under /api/v1. auth guards every
// route; uploadLimit additionally guards the upload endpoints.
func RegisterRoutes(r *gin.Engine, h *controllers.ImportHandler, auth, uploadLimit gin.HandlerFunc) {
	api := r.Group("/api/v1", auth)

	imports := api.Group("/imports")
	{
		imports.POST("", uploadLimit, h.CreateImport)
		imports.POST("/validate", uploadLimit, h.ValidateImport)
		imports.GET("/template", h.GetTemplate)
		imports.GET("/jobs/:id", h.GetJobStatus)
		imports.GET("/resume", h.GetResumable)
		imports.POST("/resume", h.ResumeImport)
		imports.DELETE("/current", h.CancelImport)
	}

	api.DELETE("/catalog", h.DeleteCatalog)
}
