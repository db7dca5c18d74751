// Package dbtest provides an in-memory store with the same conditional
// update rules as the Postgres one, for handler tests.
package dbtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"architect-studio/common"
	"architect-studio/sections/models"
	"architect-studio/workflow"

	"github.com/google/uuid"
)

type Memory struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*models.User
	projects      map[uuid.UUID]*models.Project
	models        map[uuid.UUID]*models.Model
	planning      map[uuid.UUID]*models.PlanningAnalysis
	subscriptions map[uuid.UUID]*models.UserSubscription

	// Now stamps updated_at; tests may move it
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:         map[uuid.UUID]*models.User{},
		projects:      map[uuid.UUID]*models.Project{},
		models:        map[uuid.UUID]*models.Model{},
		planning:      map[uuid.UUID]*models.PlanningAnalysis{},
		subscriptions: map[uuid.UUID]*models.UserSubscription{},
		Now:           time.Now,
	}
}

func (m *Memory) stamp(b *models.Base) {
	now := m.Now()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// Users

func (m *Memory) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range m.users {
		if u.Email == user.Email {
			return fmt.Errorf("%w: email already registered", common.ErrConflict)
		}
		if user.GoogleID != nil && u.GoogleID != nil && *u.GoogleID == *user.GoogleID {
			return fmt.Errorf("%w: google account already linked", common.ErrConflict)
		}
	}
	m.stamp(&user.Base)
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *Memory) GetUserByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.GoogleID != nil && *u.GoogleID == googleID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *Memory) SaveUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&user.Base)
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *Memory) TouchLogin(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		now := m.Now()
		u.LastLoginAt = &now
	}
	return nil
}

// Projects

func (m *Memory) ListProjects(ctx context.Context, userID uuid.UUID) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Project
	for _, p := range m.projects {
		if p.UserID == userID {
			list = append(list, *p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list, nil
}

func (m *Memory) CreateProject(ctx context.Context, project *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&project.Base)
	cp := *project
	m.projects[project.ID] = &cp
	return nil
}

func (m *Memory) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) UpdateProject(ctx context.Context, project *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[project.ID]
	if !ok {
		return common.ErrNotFound
	}
	p.Name = project.Name
	p.Description = project.Description
	p.UpdatedAt = m.Now()
	return nil
}

func (m *Memory) DeleteProject(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return common.ErrNotFound
	}
	for mid, model := range m.models {
		if model.ProjectID == id {
			delete(m.models, mid)
		}
	}
	delete(m.projects, id)
	return nil
}

// Models

func (m *Memory) CreateModel(ctx context.Context, model *models.Model) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if model.Status == "" {
		model.Status = workflow.ModelUploaded
	}
	m.stamp(&model.Base)
	cp := *model
	m.models[model.ID] = &cp
	return nil
}

func (m *Memory) GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *model
	return &cp, nil
}

func (m *Memory) ListModels(ctx context.Context, projectID uuid.UUID) ([]models.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Model
	for _, model := range m.models {
		if model.ProjectID == projectID {
			list = append(list, *model)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (m *Memory) DeleteModel(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.models[id]; !ok {
		return common.ErrNotFound
	}
	delete(m.models, id)
	return nil
}

func (m *Memory) AdvanceModel(ctx context.Context, id uuid.UUID, from, to workflow.ModelStatus, fields map[string]any) error {
	if err := workflow.Models.Validate(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok || model.Status != from {
		return fmt.Errorf("model %s not in %q: %w", id, from, workflow.ErrPreconditionFailed)
	}
	next := *model
	if err := applyModelFields(&next, fields); err != nil {
		return err
	}
	next.Status = to
	next.UpdatedAt = m.Now()
	*model = next
	return nil
}

func (m *Memory) ClaimRetexture(ctx context.Context, id uuid.UUID, prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok || model.Status != workflow.ModelCompleted || model.RetextureUsed {
		return fmt.Errorf("model %s cannot be retextured: %w", id, workflow.ErrPreconditionFailed)
	}
	model.Status = workflow.ModelRetexturing
	model.RetexturePrompt = prompt
	model.RetextureTaskID = ""
	model.ErrorMessage = ""
	model.UpdatedAt = m.Now()
	return nil
}

func (m *Memory) MarkRetextureUsed(ctx context.Context, id uuid.UUID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok || model.Status != workflow.ModelRetexturing {
		return workflow.ErrPreconditionFailed
	}
	model.RetextureUsed = true
	model.RetextureTaskID = taskID
	model.UpdatedAt = m.Now()
	return nil
}

func (m *Memory) SetMeshTask(ctx context.Context, id uuid.UUID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok || model.Status != workflow.ModelGenerating3D {
		return workflow.ErrPreconditionFailed
	}
	model.MeshyTaskID = taskID
	model.UpdatedAt = m.Now()
	return nil
}

func (m *Memory) ExpireModel(ctx context.Context, id uuid.UUID, from, to workflow.ModelStatus, message string) error {
	if err := workflow.Models.Validate(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok || model.Status != from {
		return fmt.Errorf("model %s not in %q: %w", id, from, workflow.ErrPreconditionFailed)
	}
	if (from == workflow.ModelGenerating3D && model.MeshyTaskID != "") ||
		(from == workflow.ModelRetexturing && model.RetextureTaskID != "") {
		return fmt.Errorf("model %s has a provider task: %w", id, workflow.ErrPreconditionFailed)
	}
	model.Status = to
	model.ErrorMessage = message
	model.UpdatedAt = m.Now()
	return nil
}

func (m *Memory) ListStaleModels(ctx context.Context, statuses []workflow.ModelStatus, cutoff time.Time) ([]models.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Model
	for _, model := range m.models {
		for _, s := range statuses {
			if model.Status == s && model.UpdatedAt.Before(cutoff) {
				list = append(list, *model)
				break
			}
		}
	}
	return list, nil
}

// Planning

func (m *Memory) CreatePlanning(ctx context.Context, analysis *models.PlanningAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if analysis.Status == "" {
		analysis.Status = workflow.PlanningPending
	}
	m.stamp(&analysis.Base)
	cp := *analysis
	m.planning[analysis.ID] = &cp
	return nil
}

func (m *Memory) GetPlanning(ctx context.Context, id, userID uuid.UUID) (*models.PlanningAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.planning[id]
	if !ok || p.UserID != userID {
		return nil, common.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListPlanning(ctx context.Context, userID uuid.UUID) ([]models.PlanningAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.PlanningAnalysis
	for _, p := range m.planning {
		if p.UserID == userID {
			list = append(list, *p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (m *Memory) DeletePlanning(ctx context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.planning[id]
	if !ok || p.UserID != userID {
		return common.ErrNotFound
	}
	delete(m.planning, id)
	return nil
}

func (m *Memory) AdvancePlanning(ctx context.Context, id uuid.UUID, from, to workflow.PlanningStatus, fields map[string]any) error {
	if err := workflow.Planning.Validate(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.planning[id]
	if !ok || p.Status != from {
		return fmt.Errorf("planning analysis %s not in %q: %w", id, from, workflow.ErrPreconditionFailed)
	}
	next := *p
	if err := applyPlanningFields(&next, fields); err != nil {
		return err
	}
	next.Status = to
	next.UpdatedAt = m.Now()
	*p = next
	return nil
}

func (m *Memory) SelectOptionTier(ctx context.Context, id uuid.UUID, tier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.planning[id]
	if !ok || p.Status != workflow.PlanningOptionsReady || p.WorkflowMode != workflow.ModeExtend {
		return fmt.Errorf("planning analysis %s has no options ready: %w", id, workflow.ErrPreconditionFailed)
	}
	p.Status = workflow.PlanningGenerating
	p.SelectedOptionTier = tier
	p.ErrorMessage = ""
	p.UpdatedAt = m.Now()
	return nil
}

func (m *Memory) ListStalePlanning(ctx context.Context, statuses []workflow.PlanningStatus, cutoff time.Time) ([]models.PlanningAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.PlanningAnalysis
	for _, p := range m.planning {
		for _, s := range statuses {
			if p.Status == s && p.UpdatedAt.Before(cutoff) {
				list = append(list, *p)
				break
			}
		}
	}
	return list, nil
}

// Subscriptions

func (m *Memory) ensure(userID uuid.UUID, freeLimit int) *models.UserSubscription {
	sub, ok := m.subscriptions[userID]
	now := m.Now().UTC()
	if !ok {
		sub = &models.UserSubscription{
			UserID:             userID,
			Plan:               common.PLAN_FREE,
			Status:             "active",
			GenerationsLimit:   freeLimit,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		}
		m.stamp(&sub.Base)
		m.subscriptions[userID] = sub
	}
	if sub.CurrentPeriodEnd.Before(now) {
		sub.GenerationsUsed = 0
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	}
	return sub
}

func (m *Memory) GetSubscription(ctx context.Context, userID uuid.UUID, freeLimit int) (*models.UserSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.ensure(userID, freeLimit)
	return &cp, nil
}

func (m *Memory) ConsumeGeneration(ctx context.Context, userID uuid.UUID, freeLimit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := m.ensure(userID, freeLimit)
	if sub.GenerationsUsed >= sub.GenerationsLimit {
		return common.ErrQuotaExceeded
	}
	sub.GenerationsUsed++
	return nil
}

func (m *Memory) RefundGeneration(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[userID]; ok && sub.GenerationsUsed > 0 {
		sub.GenerationsUsed--
	}
	return nil
}

func (m *Memory) ActivatePlan(ctx context.Context, sub *models.UserSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.subscriptions[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	}
	m.stamp(&sub.Base)
	cp := *sub
	m.subscriptions[sub.UserID] = &cp
	return nil
}

// SetSubscription replaces a user's subscription row outright
func (m *Memory) SetSubscription(sub models.UserSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&sub.Base)
	m.subscriptions[sub.UserID] = &sub
}

// Touch backdates updated_at, for stale-row tests
func (m *Memory) Touch(id uuid.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if model, ok := m.models[id]; ok {
		model.UpdatedAt = at
	}
	if p, ok := m.planning[id]; ok {
		p.UpdatedAt = at
	}
}

func applyModelFields(model *models.Model, fields map[string]any) error {
	for col, v := range fields {
		switch col {
		case "isometric_url":
			model.IsometricURL = asString(v)
		case "model3d_url":
			model.Model3DURL = asString(v)
		case "base_model3d_url":
			model.BaseModel3DURL = asString(v)
		case "mesh_provider":
			model.MeshProvider = asString(v)
		case "meshy_task_id":
			model.MeshyTaskID = asString(v)
		case "retexture_task_id":
			model.RetextureTaskID = asString(v)
		case "retexture_prompt":
			model.RetexturePrompt = asString(v)
		case "error_message":
			model.ErrorMessage = asString(v)
		default:
			return fmt.Errorf("dbtest: unknown model column %q", col)
		}
	}
	return nil
}

func applyPlanningFields(p *models.PlanningAnalysis, fields map[string]any) error {
	for col, v := range fields {
		switch col {
		case "analysis_json":
			p.Analysis = asRaw(v)
		case "modifications_json":
			p.Modifications = asRaw(v)
		case "options_json":
			p.Options = asRaw(v)
		case "latitude":
			p.Latitude = asFloat(v)
		case "longitude":
			p.Longitude = asFloat(v)
		case "local_authority":
			p.LocalAuthority = asString(v)
		case "selected_modification":
			p.SelectedModification = asString(v)
		case "selected_option_tier":
			p.SelectedOptionTier = asString(v)
		case "visualization_url":
			p.VisualizationURL = asString(v)
		case "error_message":
			p.ErrorMessage = asString(v)
		default:
			return fmt.Errorf("dbtest: unknown planning column %q", col)
		}
	}
	return nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func asRaw(v any) json.RawMessage {
	switch r := v.(type) {
	case json.RawMessage:
		return r
	case []byte:
		return r
	case string:
		return json.RawMessage(r)
	default:
		return nil
	}
}

func asFloat(v any) *float64 {
	switch f := v.(type) {
	case float64:
		return &f
	case *float64:
		return f
	default:
		return nil
	}
}
