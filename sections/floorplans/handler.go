package floorplans

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"architect-studio/sections"
	"architect-studio/sections/common/auth"
	"architect-studio/sections/models"
	"architect-studio/services"

	"github.com/gin-gonic/gin"
)

// Handler serves floorplan models: upload, generation and polling
type Handler struct {
	logger *slog.Logger
	deps   *sections.Dependencies
}

func NewHandler(deps *sections.Dependencies) *Handler {
	return &Handler{
		logger: slog.With("handler", "FloorplansHandler"),
		deps:   deps,
	}
}

// Upload stores a floorplan image under a project and creates its model
func (h *Handler) Upload(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	projectID, ok := sections.ParseID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := sections.OwnedProject(ctx, h.deps.Store, projectID, userID); err != nil {
		sections.RespondError(c, h.logger, err, "failed to load project")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.deps.Config.MaxUploadBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}

	normalized, err := h.deps.Normalizer.Normalize(data)
	if err != nil {
		if errors.Is(err, services.ErrUnsupportedImage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sections.RespondError(c, h.logger, err, "failed to process image")
		return
	}

	url, err := h.deps.Blob.Put(ctx, services.AssetKey("floorplans", userID.String(), ".png"), normalized, "image/png")
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to store image")
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = strings.TrimSuffix(fileHeader.Filename, filepath.Ext(fileHeader.Filename))
	}

	model := &models.Model{
		ProjectID:   projectID,
		Name:        name,
		OriginalURL: url,
	}
	if err := h.deps.Store.CreateModel(ctx, model); err != nil {
		sections.RespondError(c, h.logger, err, "failed to create model")
		return
	}

	h.logger.Info("Floorplan uploaded", "model_id", model.ID, "project_id", projectID, "bytes", len(normalized))
	c.JSON(http.StatusCreated, model)
}

func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	id, ok := sections.ParseID(c, "id")
	if !ok {
		return
	}

	model, err := sections.OwnedModel(c.Request.Context(), h.deps.Store, id, userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load model")
		return
	}
	c.JSON(http.StatusOK, model)
}

// Delete removes the model row, then its stored assets on a best-effort basis
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	id, ok := sections.ParseID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	model, err := sections.OwnedModel(ctx, h.deps.Store, id, userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load model")
		return
	}
	if err := h.deps.Store.DeleteModel(ctx, id); err != nil {
		sections.RespondError(c, h.logger, err, "failed to delete model")
		return
	}

	for _, url := range []string{model.OriginalURL, model.IsometricURL, model.Model3DURL, model.BaseModel3DURL} {
		if url == "" {
			continue
		}
		if err := h.deps.Blob.Delete(ctx, url); err != nil {
			h.logger.Warn("Failed to delete asset", "model_id", id, "url", url, "error", err)
		}
	}

	c.Status(http.StatusNoContent)
}

func RegisterRoutes(r gin.IRouter, deps *sections.Dependencies) {
	handler := NewHandler(deps)
	session := auth.SessionMiddleware(deps.Sessions)
	limit := deps.Limiter.Handler(auth.UserKey)

	r.POST("/api/projects/:id/models", session, handler.Upload)

	modelsGroup := r.Group("/api/models")
	modelsGroup.Use(session)
	{
		modelsGroup.GET("/:id", handler.Get)
		modelsGroup.DELETE("/:id", handler.Delete)
		modelsGroup.GET("/:id/status", handler.Status)
		modelsGroup.POST("/:id/generate-isometric", limit, handler.GenerateIsometric)
		modelsGroup.POST("/:id/generate-3d", limit, handler.Generate3D)
		modelsGroup.POST("/:id/retexture", limit, handler.Retexture)
	}
}
