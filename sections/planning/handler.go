package planning

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"architect-studio/common"
	"architect-studio/sections"
	"architect-studio/sections/common/auth"
	"architect-studio/sections/models"
	"architect-studio/services"
	"architect-studio/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler serves planning-permission analyses
type Handler struct {
	logger *slog.Logger
	deps   *sections.Dependencies
}

func NewHandler(deps *sections.Dependencies) *Handler {
	return &Handler{
		logger: slog.With("handler", "PlanningHandler"),
		deps:   deps,
	}
}

// StatusResponse is the lightweight poll payload
type StatusResponse struct {
	ID                   uuid.UUID               `json:"id"`
	Status               workflow.PlanningStatus `json:"status"`
	WorkflowMode         workflow.WorkflowMode   `json:"workflowMode"`
	SelectedModification string                  `json:"selectedModification,omitempty"`
	SelectedOptionTier   string                  `json:"selectedOptionTier,omitempty"`
	VisualizationURL     string                  `json:"visualizationUrl,omitempty"`
	ErrorMessage         string                  `json:"errorMessage,omitempty"`
}

func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)

	list, err := h.deps.Store.ListPlanning(c.Request.Context(), userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to list planning analyses")
		return
	}
	if list == nil {
		list = []models.PlanningAnalysis{}
	}
	c.JSON(http.StatusOK, list)
}

// Create stores the property photo (and optional floorplan) and opens a
// pending analysis. Nothing is sent to the advisor until Analyze.
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.deps.Config.MaxUploadBytes)
	if err := c.Request.ParseMultipartForm(h.deps.Config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form expected"})
		return
	}

	mode := workflow.WorkflowMode(strings.TrimSpace(c.PostForm("workflowMode")))
	if mode == "" {
		mode = workflow.ModeModify
	}
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflowMode must be modify or extend"})
		return
	}

	postcode := strings.TrimSpace(c.PostForm("postcode"))
	if postcode != "" {
		postcode = common.NormalizePostcode(postcode)
		if postcode == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid postcode"})
			return
		}
	}

	analysis := &models.PlanningAnalysis{
		UserID:       userID,
		Address:      strings.TrimSpace(c.PostForm("address")),
		Postcode:     postcode,
		WorkflowMode: mode,
	}

	if raw := strings.TrimSpace(c.PostForm("projectId")); raw != "" {
		projectID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid projectId"})
			return
		}
		if _, err := sections.OwnedProject(ctx, h.deps.Store, projectID, userID); err != nil {
			sections.RespondError(c, h.logger, err, "failed to load project")
			return
		}
		analysis.ProjectID = &projectID
	}

	propertyFile, err := c.FormFile("propertyImage")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "propertyImage is required"})
		return
	}
	analysis.PropertyImageURL, err = h.storeImage(c, propertyFile, userID)
	if err != nil {
		h.respondUploadError(c, err)
		return
	}

	if floorplanFile, err := c.FormFile("floorplan"); err == nil {
		analysis.FloorplanURL, err = h.storeImage(c, floorplanFile, userID)
		if err != nil {
			h.respondUploadError(c, err)
			return
		}
	}

	if err := h.deps.Store.CreatePlanning(ctx, analysis); err != nil {
		sections.RespondError(c, h.logger, err, "failed to create planning analysis")
		return
	}

	h.logger.Info("Planning analysis created", "planning_id", analysis.ID, "user_id", userID, "mode", mode)
	c.JSON(http.StatusCreated, analysis)
}

func (h *Handler) storeImage(c *gin.Context, fh *multipart.FileHeader, userID uuid.UUID) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	normalized, err := h.deps.Normalizer.Normalize(data)
	if err != nil {
		return "", err
	}
	return h.deps.Blob.Put(c.Request.Context(), services.AssetKey("planning", userID.String(), ".png"), normalized, "image/png")
}

func (h *Handler) respondUploadError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrUnsupportedImage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sections.RespondError(c, h.logger, err, "failed to store image")
}

// load resolves the :id analysis of the signed-in user. Rows of other users
// answer 404.
func (h *Handler) load(c *gin.Context) (*models.PlanningAnalysis, bool) {
	userID, _ := auth.GetUserIDFromContext(c)
	id, ok := sections.ParseID(c, "id")
	if !ok {
		return nil, false
	}
	analysis, err := h.deps.Store.GetPlanning(c.Request.Context(), id, userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load planning analysis")
		return nil, false
	}
	return analysis, true
}

func (h *Handler) Get(c *gin.Context) {
	analysis, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *Handler) Status(c *gin.Context) {
	analysis, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, StatusResponse{
		ID:                   analysis.ID,
		Status:               analysis.Status,
		WorkflowMode:         analysis.WorkflowMode,
		SelectedModification: analysis.SelectedModification,
		SelectedOptionTier:   analysis.SelectedOptionTier,
		VisualizationURL:     analysis.VisualizationURL,
		ErrorMessage:         analysis.ErrorMessage,
	})
}

func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	analysis, ok := h.load(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.deps.Store.DeletePlanning(ctx, analysis.ID, userID); err != nil {
		sections.RespondError(c, h.logger, err, "failed to delete planning analysis")
		return
	}
	for _, url := range []string{analysis.PropertyImageURL, analysis.FloorplanURL, analysis.VisualizationURL} {
		if url == "" {
			continue
		}
		if err := h.deps.Blob.Delete(ctx, url); err != nil {
			h.logger.Warn("Failed to delete asset", "planning_id", analysis.ID, "url", url, "error", err)
		}
	}
	c.Status(http.StatusNoContent)
}

func RegisterRoutes(r gin.IRouter, deps *sections.Dependencies) {
	handler := NewHandler(deps)
	limit := deps.Limiter.Handler(auth.UserKey)

	planning := r.Group("/api/planning")
	planning.Use(auth.SessionMiddleware(deps.Sessions))
	{
		planning.GET("", handler.List)
		planning.POST("", handler.Create)
		planning.GET("/:id", handler.Get)
		planning.GET("/:id/status", handler.Status)
		planning.DELETE("/:id", handler.Delete)
		planning.POST("/:id/analyze", limit, handler.Analyze)
		planning.POST("/:id/select", limit, handler.Select)
		planning.POST("/:id/select-option", limit, handler.SelectOption)
	}
}
