package projects

import (
	"log/slog"
	"net/http"

	"architect-studio/sections"
	"architect-studio/sections/common/auth"
	"architect-studio/sections/models"

	"github.com/gin-gonic/gin"
)

// Handler serves project CRUD
type Handler struct {
	logger *slog.Logger
	deps   *sections.Dependencies
}

func NewHandler(deps *sections.Dependencies) *Handler {
	return &Handler{
		logger: slog.With("handler", "ProjectsHandler"),
		deps:   deps,
	}
}

type ProjectRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description" binding:"max=5000"`
}

func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)

	projects, err := h.deps.Store.ListProjects(c.Request.Context(), userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to list projects")
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	c.JSON(http.StatusOK, projects)
}

func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)

	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project := &models.Project{
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.deps.Store.CreateProject(c.Request.Context(), project); err != nil {
		sections.RespondError(c, h.logger, err, "failed to create project")
		return
	}

	h.logger.Info("Project created", "project_id", project.ID, "user_id", userID)
	c.JSON(http.StatusCreated, project)
}

func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	id, ok := sections.ParseID(c, "id")
	if !ok {
		return
	}

	project, err := sections.OwnedProject(c.Request.Context(), h.deps.Store, id, userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load project")
		return
	}

	list, err := h.deps.Store.ListModels(c.Request.Context(), project.ID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load project")
		return
	}
	project.Models = list
	c.JSON(http.StatusOK, project)
}

func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	id, ok := sections.ParseID(c, "id")
	if !ok {
		return
	}

	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := sections.OwnedProject(c.Request.Context(), h.deps.Store, id, userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load project")
		return
	}

	project.Name = req.Name
	project.Description = req.Description
	if err := h.deps.Store.UpdateProject(c.Request.Context(), project); err != nil {
		sections.RespondError(c, h.logger, err, "failed to update project")
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	id, ok := sections.ParseID(c, "id")
	if !ok {
		return
	}

	if _, err := sections.OwnedProject(c.Request.Context(), h.deps.Store, id, userID); err != nil {
		sections.RespondError(c, h.logger, err, "failed to load project")
		return
	}
	if err := h.deps.Store.DeleteProject(c.Request.Context(), id); err != nil {
		sections.RespondError(c, h.logger, err, "failed to delete project")
		return
	}

	h.logger.Info("Project deleted", "project_id", id, "user_id", userID)
	c.Status(http.StatusNoContent)
}

// ListModels returns the floorplan models of a project, newest first
func (h *Handler) ListModels(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	id, ok := sections.ParseID(c, "id")
	if !ok {
		return
	}

	if _, err := sections.OwnedProject(c.Request.Context(), h.deps.Store, id, userID); err != nil {
		sections.RespondError(c, h.logger, err, "failed to load project")
		return
	}

	list, err := h.deps.Store.ListModels(c.Request.Context(), id)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to list models")
		return
	}
	if list == nil {
		list = []models.Model{}
	}
	c.JSON(http.StatusOK, list)
}

func RegisterRoutes(r gin.IRouter, deps *sections.Dependencies) {
	handler := NewHandler(deps)

	projects := r.Group("/api/projects")
	projects.Use(auth.SessionMiddleware(deps.Sessions))
	{
		projects.GET("", handler.List)
		projects.POST("", handler.Create)
		projects.GET("/:id", handler.Get)
		projects.PUT("/:id", handler.Update)
		projects.DELETE("/:id", handler.Delete)
		projects.GET("/:id/models", handler.ListModels)
	}
}
