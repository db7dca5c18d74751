package planning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"architect-studio/sections"
	"architect-studio/sections/common/auth"
	"architect-studio/sections/models"
	"architect-studio/services"
	"architect-studio/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Tiers are the extension option tiers, cheapest first
var Tiers = []string{"basic", "standard", "premium"}

type SelectRequest struct {
	ModificationID string `json:"modificationId" binding:"required"`
}

type SelectOptionRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// Modification is one suggestion in modifications_json
type Modification struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ExtensionOption is one tier in options_json
type ExtensionOption struct {
	Tier                string `json:"tier"`
	Title               string `json:"title"`
	Description         string `json:"description"`
	VisualizationPrompt string `json:"visualizationPrompt"`
}

const (
	kindAnalysis      = "planning_analysis"
	kindOptions       = "planning_options"
	kindVisualization = "planning_visualization"
)

func (h *Handler) refund(ctx context.Context, userID uuid.UUID) {
	if err := h.deps.Store.RefundGeneration(ctx, userID); err != nil {
		h.logger.Error("Failed to refund generation", "user_id", userID, "error", err)
	}
}

func (h *Handler) fail(c *gin.Context, analysis *models.PlanningAnalysis, from workflow.PlanningStatus, userID uuid.UUID, kind, message string) {
	ctx := c.Request.Context()
	err := h.deps.Store.AdvancePlanning(ctx, analysis.ID, from, workflow.PlanningFailed, map[string]any{"error_message": message})
	if err != nil {
		h.logger.Warn("Failed to mark planning analysis failed", "planning_id", analysis.ID, "from", from, "error", err)
	} else {
		h.refund(ctx, userID)
	}
	h.deps.Metrics.RecordGeneration(kind, "failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "planning analysis failed"})
}

func (h *Handler) respondPlanning(c *gin.Context, id, userID uuid.UUID) {
	analysis, err := h.deps.Store.GetPlanning(c.Request.Context(), id, userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load planning analysis")
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// Analyze runs the assessment. Modify mode stops at awaiting_selection with
// suggested modifications; extend mode continues to tiered options.
func (h *Handler) Analyze(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	analysis, ok := h.load(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	from := analysis.Status
	if !workflow.Planning.Can(from, workflow.PlanningAnalyzing) {
		c.JSON(http.StatusConflict, gin.H{"error": "analysis cannot start from status " + string(from)})
		return
	}

	if err := h.deps.Store.ConsumeGeneration(ctx, userID, h.deps.Config.FreeGenerationsLimit); err != nil {
		sections.RespondError(c, h.logger, err, "failed to check quota")
		return
	}
	if err := h.deps.Store.AdvancePlanning(ctx, analysis.ID, from, workflow.PlanningAnalyzing, map[string]any{"error_message": ""}); err != nil {
		h.refund(ctx, userID)
		sections.RespondError(c, h.logger, err, "failed to start analysis")
		return
	}

	located := h.locate(ctx, analysis)

	input := services.PropertyInput{
		PropertyImageURL: analysis.PropertyImageURL,
		FloorplanURL:     analysis.FloorplanURL,
		Address:          analysis.Address,
		Postcode:         analysis.Postcode,
		LocalAuthority:   analysis.LocalAuthority,
	}
	if la, ok := located["local_authority"].(string); ok {
		input.LocalAuthority = la
	}

	h.logger.Info("Analysing property", "planning_id", analysis.ID, "mode", analysis.WorkflowMode)
	result := h.deps.Advisor.AnalyzeProperty(ctx, input)
	if !result.Success {
		h.logger.Error("Property analysis failed", "planning_id", analysis.ID, "error", result.Error)
		h.fail(c, analysis, workflow.PlanningAnalyzing, userID, kindAnalysis, result.Error)
		return
	}

	fields := map[string]any{
		"analysis_json":      string(result.Analysis),
		"modifications_json": string(result.Modifications),
	}
	for k, v := range located {
		fields[k] = v
	}
	if err := h.deps.Store.AdvancePlanning(ctx, analysis.ID, workflow.PlanningAnalyzing, workflow.PlanningSearching, fields); err != nil {
		sections.RespondError(c, h.logger, err, "failed to save analysis")
		return
	}
	h.deps.Metrics.RecordGeneration(kindAnalysis, "completed")

	if analysis.WorkflowMode == workflow.ModeExtend {
		h.generateOptions(c, analysis, userID, input, result.Analysis)
		return
	}

	if err := h.deps.Store.AdvancePlanning(ctx, analysis.ID, workflow.PlanningSearching, workflow.PlanningAwaitingSelection, nil); err != nil {
		sections.RespondError(c, h.logger, err, "failed to save analysis")
		return
	}
	h.respondPlanning(c, analysis.ID, userID)
}

func (h *Handler) generateOptions(c *gin.Context, analysis *models.PlanningAnalysis, userID uuid.UUID, input services.PropertyInput, doc json.RawMessage) {
	ctx := c.Request.Context()

	if err := h.deps.Store.AdvancePlanning(ctx, analysis.ID, workflow.PlanningSearching, workflow.PlanningGenerating, nil); err != nil {
		sections.RespondError(c, h.logger, err, "failed to start options")
		return
	}

	input.Analysis = doc
	result := h.deps.Advisor.GenerateExtensionOptions(ctx, input)
	if !result.Success {
		h.logger.Error("Extension options failed", "planning_id", analysis.ID, "error", result.Error)
		h.fail(c, analysis, workflow.PlanningGenerating, userID, kindOptions, result.Error)
		return
	}

	err := h.deps.Store.AdvancePlanning(ctx, analysis.ID, workflow.PlanningGenerating, workflow.PlanningOptionsReady,
		map[string]any{"options_json": string(result.Options)})
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to save options")
		return
	}
	h.deps.Metrics.RecordGeneration(kindOptions, "completed")
	h.respondPlanning(c, analysis.ID, userID)
}

// locate resolves the postcode to coordinates and a planning authority. A
// failed lookup only costs the analysis some context.
func (h *Handler) locate(ctx context.Context, analysis *models.PlanningAnalysis) map[string]any {
	if analysis.Postcode == "" || h.deps.Postcodes == nil {
		return nil
	}
	info, err := h.deps.Postcodes.Lookup(ctx, analysis.Postcode)
	if err != nil {
		h.logger.Warn("Postcode lookup failed", "planning_id", analysis.ID, "postcode", analysis.Postcode, "error", err)
		return nil
	}
	return map[string]any{
		"latitude":        info.Latitude,
		"longitude":       info.Longitude,
		"local_authority": info.AdminDistrict,
	}
}

// Select visualises one suggested modification
func (h *Handler) Select(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	analysis, ok := h.load(c)
	if !ok {
		return
	}
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "modificationId is required"})
		return
	}
	if analysis.WorkflowMode != workflow.ModeModify || analysis.Status != workflow.PlanningAwaitingSelection {
		c.JSON(http.StatusBadRequest, gin.H{"error": "analysis is not awaiting a modification choice"})
		return
	}

	var mods []Modification
	if err := json.Unmarshal(analysis.Modifications, &mods); err != nil {
		sections.RespondError(c, h.logger, err, "failed to read modifications")
		return
	}
	i := slices.IndexFunc(mods, func(m Modification) bool { return m.ID == req.ModificationID })
	if i < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown modification"})
		return
	}
	mod := mods[i]

	ctx := c.Request.Context()
	err := h.deps.Store.AdvancePlanning(ctx, analysis.ID, workflow.PlanningAwaitingSelection, workflow.PlanningGenerating,
		map[string]any{"selected_modification": mod.ID, "error_message": ""})
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to select modification")
		return
	}

	h.visualize(c, analysis, userID, workflow.PlanningAwaitingSelection, mod.Title, mod.Description)
}

// SelectOption visualises one extension tier
func (h *Handler) SelectOption(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	analysis, ok := h.load(c)
	if !ok {
		return
	}
	var req SelectOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier is required"})
		return
	}
	if !slices.Contains(Tiers, req.Tier) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier must be one of basic, standard or premium"})
		return
	}
	if analysis.WorkflowMode != workflow.ModeExtend || analysis.Status != workflow.PlanningOptionsReady {
		c.JSON(http.StatusBadRequest, gin.H{"error": "analysis has no extension options ready"})
		return
	}

	var options []ExtensionOption
	if err := json.Unmarshal(analysis.Options, &options); err != nil {
		sections.RespondError(c, h.logger, err, "failed to read options")
		return
	}
	i := slices.IndexFunc(options, func(o ExtensionOption) bool { return o.Tier == req.Tier })
	if i < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no option for tier " + req.Tier})
		return
	}
	option := options[i]

	ctx := c.Request.Context()
	if err := h.deps.Store.SelectOptionTier(ctx, analysis.ID, option.Tier); err != nil {
		if errors.Is(err, workflow.ErrPreconditionFailed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "analysis has no extension options ready"})
			return
		}
		sections.RespondError(c, h.logger, err, "failed to select option")
		return
	}

	description := option.VisualizationPrompt
	if description == "" {
		description = option.Description
	}
	h.visualize(c, analysis, userID, workflow.PlanningOptionsReady, option.Title, description)
}

// selectionColumn is the choice a visualisation was rendering for, given the
// status it returns to when it fails
func selectionColumn(revert workflow.PlanningStatus) string {
	if revert == workflow.PlanningOptionsReady {
		return "selected_option_tier"
	}
	return "selected_modification"
}

// visualize renders the chosen work onto the property photo. On failure the
// analysis returns to revert so the user can choose again.
func (h *Handler) visualize(c *gin.Context, analysis *models.PlanningAnalysis, userID uuid.UUID, revert workflow.PlanningStatus, title, description string) {
	ctx := c.Request.Context()

	result := h.deps.Images.GenerateVisualization(ctx, analysis.PropertyImageURL, title, description)
	if !result.Success {
		h.logger.Error("Visualisation failed", "planning_id", analysis.ID, "error", result.Error)
		err := h.deps.Store.AdvancePlanning(ctx, analysis.ID, workflow.PlanningGenerating, revert,
			map[string]any{"error_message": result.Error, selectionColumn(revert): ""})
		if err != nil {
			h.logger.Warn("Failed to revert planning analysis", "planning_id", analysis.ID, "error", err)
		}
		h.deps.Metrics.RecordGeneration(kindVisualization, "failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate visualisation"})
		return
	}

	err := h.deps.Store.AdvancePlanning(ctx, analysis.ID, workflow.PlanningGenerating, workflow.PlanningCompleted,
		map[string]any{"visualization_url": result.ImageURL})
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to save visualisation")
		return
	}
	h.deps.Metrics.RecordGeneration(kindVisualization, "completed")
	h.respondPlanning(c, analysis.ID, userID)
}
