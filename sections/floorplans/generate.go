package floorplans

import (
	"context"
	"errors"
	"io"
	"net/http"

	"architect-studio/sections"
	"architect-studio/sections/common/auth"
	"architect-studio/sections/models"
	"architect-studio/services"
	"architect-studio/utils"
	"architect-studio/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

type RetextureRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// StatusResponse is returned by the status poll
type StatusResponse struct {
	Status   workflow.ModelStatus `json:"status"`
	Progress int                  `json:"progress"`
	Model    *models.Model        `json:"model"`
}

const (
	kindIsometric = "isometric"
	kind3D        = "3d"
	kindRetexture = "retexture"
)

// bindPrompt reads an optional prompt body and checks its token length.
// It writes the error response itself and reports whether to continue.
func (h *Handler) bindPrompt(c *gin.Context) (string, bool) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	if !h.checkPrompt(c, req.Prompt) {
		return "", false
	}
	return req.Prompt, true
}

func (h *Handler) checkPrompt(c *gin.Context, prompt string) bool {
	if prompt == "" || h.deps.Prompts == nil {
		return true
	}
	if err := h.deps.Prompts.CheckUserPrompt(prompt); err != nil {
		if errors.Is(err, utils.ErrPromptTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return false
		}
		sections.RespondError(c, h.logger, err, "failed to check prompt")
		return false
	}
	return true
}

// loadOwned resolves the :id model of the signed-in user
func (h *Handler) loadOwned(c *gin.Context) (*models.Model, uuid.UUID, bool) {
	userID, _ := auth.GetUserIDFromContext(c)
	id, ok := sections.ParseID(c, "id")
	if !ok {
		return nil, userID, false
	}
	model, err := sections.OwnedModel(c.Request.Context(), h.deps.Store, id, userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load model")
		return nil, userID, false
	}
	return model, userID, true
}

func (h *Handler) refund(ctx context.Context, userID uuid.UUID) {
	if err := h.deps.Store.RefundGeneration(ctx, userID); err != nil {
		h.logger.Error("Failed to refund generation", "user_id", userID, "error", err)
	}
}

// fail moves a model to failed and gives the generation back. The refund only
// happens when this caller won the transition.
func (h *Handler) fail(ctx context.Context, model *models.Model, from workflow.ModelStatus, userID uuid.UUID, message string) bool {
	err := h.deps.Store.AdvanceModel(ctx, model.ID, from, workflow.ModelFailed, map[string]any{"error_message": message})
	if err != nil {
		h.logger.Warn("Failed to mark model failed", "model_id", model.ID, "from", from, "error", err)
		return false
	}
	h.refund(ctx, userID)
	return true
}

func (h *Handler) respondModel(c *gin.Context, id uuid.UUID) {
	model, err := h.deps.Store.GetModel(c.Request.Context(), id)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load model")
		return
	}
	c.JSON(http.StatusOK, model)
}

// GenerateIsometric renders the uploaded floorplan as an isometric image.
// The render runs inside the request.
func (h *Handler) GenerateIsometric(c *gin.Context) {
	model, userID, ok := h.loadOwned(c)
	if !ok {
		return
	}
	prompt, ok := h.bindPrompt(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	from := model.Status
	if !workflow.Models.Can(from, workflow.ModelGeneratingIsometric) {
		c.JSON(http.StatusConflict, gin.H{"error": "model cannot generate an isometric view from status " + string(from)})
		return
	}

	if err := h.deps.Store.ConsumeGeneration(ctx, userID, h.deps.Config.FreeGenerationsLimit); err != nil {
		sections.RespondError(c, h.logger, err, "failed to check quota")
		return
	}
	if err := h.deps.Store.AdvanceModel(ctx, model.ID, from, workflow.ModelGeneratingIsometric, map[string]any{"error_message": ""}); err != nil {
		h.refund(ctx, userID)
		sections.RespondError(c, h.logger, err, "failed to start generation")
		return
	}

	h.logger.Info("Generating isometric view", "model_id", model.ID, "user_id", userID)
	result := h.deps.Images.GenerateIsometricFloorplan(ctx, model.OriginalURL, prompt)
	if !result.Success {
		h.logger.Error("Isometric generation failed", "model_id", model.ID, "error", result.Error)
		h.fail(ctx, model, workflow.ModelGeneratingIsometric, userID, result.Error)
		h.deps.Metrics.RecordGeneration(kindIsometric, "failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate isometric view"})
		return
	}

	err := h.deps.Store.AdvanceModel(ctx, model.ID, workflow.ModelGeneratingIsometric, workflow.ModelIsometricReady,
		map[string]any{"isometric_url": result.ImageURL})
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to save isometric view")
		return
	}
	h.deps.Metrics.RecordGeneration(kindIsometric, "completed")
	h.respondModel(c, model.ID)
}

// Generate3D starts an image-to-3D task from the isometric render. The task
// finishes asynchronously and is picked up by Status.
func (h *Handler) Generate3D(c *gin.Context) {
	model, userID, ok := h.loadOwned(c)
	if !ok {
		return
	}
	prompt, ok := h.bindPrompt(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if model.IsometricURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "generate an isometric view first"})
		return
	}
	from := model.Status
	if !workflow.Models.Can(from, workflow.ModelGenerating3D) {
		c.JSON(http.StatusConflict, gin.H{"error": "model cannot generate 3D from status " + string(from)})
		return
	}

	if err := h.deps.Store.ConsumeGeneration(ctx, userID, h.deps.Config.FreeGenerationsLimit); err != nil {
		sections.RespondError(c, h.logger, err, "failed to check quota")
		return
	}
	mesh := h.deps.Mesh
	// a poll must never settle this attempt against an earlier task
	err := h.deps.Store.AdvanceModel(ctx, model.ID, from, workflow.ModelGenerating3D, map[string]any{
		"mesh_provider": mesh.Name(),
		"meshy_task_id": "",
		"error_message": "",
	})
	if err != nil {
		h.refund(ctx, userID)
		sections.RespondError(c, h.logger, err, "failed to start generation")
		return
	}

	task := mesh.CreateImageTo3DTask(ctx, model.IsometricURL, prompt)
	if !task.Success {
		h.logger.Error("3D task creation failed", "model_id", model.ID, "provider", mesh.Name(), "error", task.Error)
		h.fail(ctx, model, workflow.ModelGenerating3D, userID, task.Error)
		h.deps.Metrics.RecordGeneration(kind3D, "failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start 3D generation"})
		return
	}

	if err := h.deps.Store.SetMeshTask(ctx, model.ID, task.TaskID); err != nil {
		sections.RespondError(c, h.logger, err, "failed to record 3D task")
		return
	}
	h.logger.Info("3D generation started", "model_id", model.ID, "provider", mesh.Name(), "task_id", task.TaskID)
	h.deps.Metrics.RecordGeneration(kind3D, "started")
	h.respondModel(c, model.ID)
}

// Retexture re-materials a completed model. Each model gets one retexture;
// the allowance is spent only once the provider accepted the task.
func (h *Handler) Retexture(c *gin.Context) {
	model, userID, ok := h.loadOwned(c)
	if !ok {
		return
	}
	var req RetextureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	if !h.checkPrompt(c, req.Prompt) {
		return
	}
	ctx := c.Request.Context()

	if model.RetextureUsed {
		c.JSON(http.StatusForbidden, gin.H{"error": "this model has already been retextured"})
		return
	}
	if model.Status != workflow.ModelCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "only completed models can be retextured"})
		return
	}

	if err := h.deps.Store.ConsumeGeneration(ctx, userID, h.deps.Config.FreeGenerationsLimit); err != nil {
		sections.RespondError(c, h.logger, err, "failed to check quota")
		return
	}
	if err := h.deps.Store.ClaimRetexture(ctx, model.ID, req.Prompt); err != nil {
		h.refund(ctx, userID)
		sections.RespondError(c, h.logger, err, "failed to start retexture")
		return
	}

	source := model.BaseModel3DURL
	if source == "" {
		source = model.Model3DURL
	}
	task := h.deps.Retexturer.CreateRetextureTask(ctx, source, req.Prompt)
	if !task.Success {
		h.logger.Error("Retexture task creation failed", "model_id", model.ID, "error", task.Error)
		err := h.deps.Store.AdvanceModel(ctx, model.ID, workflow.ModelRetexturing, workflow.ModelCompleted,
			map[string]any{"error_message": task.Error})
		if err != nil {
			h.logger.Warn("Failed to revert retexture", "model_id", model.ID, "error", err)
		}
		h.refund(ctx, userID)
		h.deps.Metrics.RecordGeneration(kindRetexture, "failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start retexture"})
		return
	}

	if err := h.deps.Store.MarkRetextureUsed(ctx, model.ID, task.TaskID); err != nil {
		sections.RespondError(c, h.logger, err, "failed to record retexture task")
		return
	}
	h.logger.Info("Retexture started", "model_id", model.ID, "task_id", task.TaskID)
	h.deps.Metrics.RecordGeneration(kindRetexture, "started")
	h.respondModel(c, model.ID)
}

// Status reports the model status, polling the 3D provider first when a task
// is in flight. Completed meshes are copied into blob storage before the
// model advances, so a failed copy is retried by the next poll.
func (h *Handler) Status(c *gin.Context) {
	model, userID, ok := h.loadOwned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		poll   services.TaskStatus
		polled bool
	)
	switch {
	case model.Status == workflow.ModelGenerating3D && model.MeshyTaskID != "":
		poll = h.deps.MeshProvider(model.MeshProvider).CheckImageTo3DTask(ctx, model.MeshyTaskID)
		polled = true
		if !h.settle(c, model, userID, poll, kind3D, workflow.ModelFailed) {
			return
		}
	case model.Status == workflow.ModelRetexturing && model.RetextureTaskID != "":
		poll = h.deps.Retexturer.CheckRetextureTask(ctx, model.RetextureTaskID)
		polled = true
		if !h.settle(c, model, userID, poll, kindRetexture, workflow.ModelCompleted) {
			return
		}
	}

	if polled && poll.Status != services.TaskPending {
		reloaded, err := h.deps.Store.GetModel(ctx, model.ID)
		if err != nil {
			sections.RespondError(c, h.logger, err, "failed to load model")
			return
		}
		model = reloaded
	}

	progress := poll.Progress
	if model.Status == workflow.ModelCompleted {
		progress = 100
	}
	c.JSON(http.StatusOK, StatusResponse{Status: model.Status, Progress: progress, Model: model})
}

// settle applies a finished provider task to the model. onFailure is where
// the model goes when the provider gave up. It returns false once it has
// written an error response.
func (h *Handler) settle(c *gin.Context, model *models.Model, userID uuid.UUID, poll services.TaskStatus, kind string, onFailure workflow.ModelStatus) bool {
	ctx := c.Request.Context()
	from := model.Status

	switch poll.Status {
	case services.TaskCompleted:
		url, err := h.deps.Blob.Mirror(ctx, poll.ModelURL, services.AssetKey("models", model.ID.String(), ".glb"))
		if err != nil {
			h.logger.Error("Failed to store generated model", "model_id", model.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store generated model"})
			return false
		}
		fields := map[string]any{"model3d_url": url, "error_message": ""}
		if from == workflow.ModelGenerating3D {
			fields["base_model3d_url"] = url
		}
		err = h.deps.Store.AdvanceModel(ctx, model.ID, from, workflow.ModelCompleted, fields)
		switch {
		case errors.Is(err, workflow.ErrPreconditionFailed):
			// a concurrent poll got there first
			h.logger.Debug("Model already settled", "model_id", model.ID)
		case err != nil:
			sections.RespondError(c, h.logger, err, "failed to save generated model")
			return false
		default:
			h.logger.Info("Model generation completed", "model_id", model.ID, "kind", kind)
			h.deps.Metrics.RecordGeneration(kind, "completed")
		}

	case services.TaskFailed:
		err := h.deps.Store.AdvanceModel(ctx, model.ID, from, onFailure, map[string]any{"error_message": poll.Error})
		switch {
		case errors.Is(err, workflow.ErrPreconditionFailed):
			h.logger.Debug("Model already settled", "model_id", model.ID)
		case err != nil:
			sections.RespondError(c, h.logger, err, "failed to update model")
			return false
		default:
			h.logger.Warn("Model generation failed", "model_id", model.ID, "kind", kind, "error", poll.Error)
			h.refund(ctx, userID)
			h.deps.Metrics.RecordGeneration(kind, "failed")
		}
	}
	return true
}
