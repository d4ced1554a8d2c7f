package api

import "github.com/gin-gonic/gin"

// RegisterRoutes 注册全部路由
func (h *Handlers) RegisterRoutes(r *gin.Engine, apiToken string) {
	r.Use(CORSMiddleware())

	r.GET("/health", h.HealthHandler)

	// 匿名试用入口不走管理鉴权
	r.POST("/api/anonymous-generate", h.AnonymousGenerateHandler)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(apiToken))
	{
		v1.GET("/providers", h.ListProvidersHandler)
		v1.POST("/providers/config", h.UpdateProviderConfigHandler)
		v1.POST("/providers/default", h.SetDefaultProviderHandler)
		v1.GET("/capabilities", h.ListCapabilitiesHandler)

		v1.POST("/creatures/generate", h.GenerateHandler)
		v1.POST("/creatures/generate-batch", h.BatchGenerateHandler)
		v1.GET("/creatures", h.ListCreaturesHandler)
		v1.GET("/creatures/:id", h.GetCreatureHandler)
		v1.GET("/creatures/:id/stream", h.StreamCreatureHandler)
		v1.GET("/creatures/:id/download", h.DownloadCreatureHandler)
		v1.DELETE("/creatures/:id", h.DeleteCreatureHandler)
		v1.POST("/creatures/export", h.ExportCreaturesHandler)
		v1.POST("/creatures/import", h.ImportCreaturesHandler)

		v1.GET("/species", h.ListSpeciesHandler)
		v1.POST("/species/refresh", h.RefreshSpeciesHandler)
	}

	// 静态资源访问，与数据库中记录的 storage/xxx.png 路径对应
	r.Static("/storage", "storage")
}
