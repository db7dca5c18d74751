package projects

import (
	"context"
	"net/http"
	"testing"

	"architect-studio/sections/models"
	"architect-studio/sections/sectionstest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*gin.Engine, string, string) {
	t.Helper()
	deps, _ := sectionstest.NewDeps(t)
	r := gin.New()
	RegisterRoutes(r, deps)
	_, alice := sectionstest.SignIn(t, deps, "alice@example.com")
	_, bob := sectionstest.SignIn(t, deps, "bob@example.com")
	return r, alice, bob
}

func TestProjectLifecycle(t *testing.T) {
	r, alice, _ := setup(t)

	w := sectionstest.Do(t, r, http.MethodPost, "/api/projects", ProjectRequest{Name: "Loft", Description: "attic"}, alice)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	project := sectionstest.Decode[models.Project](t, w)
	assert.Equal(t, "Loft", project.Name)

	w = sectionstest.Do(t, r, http.MethodGet, "/api/projects", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, sectionstest.Decode[[]models.Project](t, w), 1)

	w = sectionstest.Do(t, r, http.MethodPut, "/api/projects/"+project.ID.String(), ProjectRequest{Name: "Loft v2"}, alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Loft v2", sectionstest.Decode[models.Project](t, w).Name)

	w = sectionstest.Do(t, r, http.MethodGet, "/api/projects/"+project.ID.String()+"/models", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = sectionstest.Do(t, r, http.MethodDelete, "/api/projects/"+project.ID.String(), nil, alice)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = sectionstest.Do(t, r, http.MethodGet, "/api/projects/"+project.ID.String(), nil, alice)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProjectOwnership(t *testing.T) {
	r, alice, bob := setup(t)

	w := sectionstest.Do(t, r, http.MethodPost, "/api/projects", ProjectRequest{Name: "Private"}, alice)
	require.Equal(t, http.StatusCreated, w.Code)
	project := sectionstest.Decode[models.Project](t, w)
	path := "/api/projects/" + project.ID.String()

	assert.Equal(t, http.StatusForbidden, sectionstest.Do(t, r, http.MethodGet, path, nil, bob).Code)
	assert.Equal(t, http.StatusForbidden, sectionstest.Do(t, r, http.MethodPut, path, ProjectRequest{Name: "mine"}, bob).Code)
	assert.Equal(t, http.StatusForbidden, sectionstest.Do(t, r, http.MethodDelete, path, nil, bob).Code)
	assert.Equal(t, http.StatusForbidden, sectionstest.Do(t, r, http.MethodGet, path+"/models", nil, bob).Code)

	w = sectionstest.Do(t, r, http.MethodGet, "/api/projects", nil, bob)
	assert.Equal(t, "[]", w.Body.String())
}

func TestProjectBadRequests(t *testing.T) {
	r, alice, _ := setup(t)

	assert.Equal(t, http.StatusBadRequest, sectionstest.Do(t, r, http.MethodGet, "/api/projects/not-a-uuid", nil, alice).Code)
	assert.Equal(t, http.StatusBadRequest, sectionstest.Do(t, r, http.MethodPost, "/api/projects", ProjectRequest{}, alice).Code)
	assert.Equal(t, http.StatusUnauthorized, sectionstest.Do(t, r, http.MethodGet, "/api/projects", nil, "").Code)
}

func TestGetIncludesModels(t *testing.T) {
	deps, store := sectionstest.NewDeps(t)
	r := gin.New()
	RegisterRoutes(r, deps)
	user, cookie := sectionstest.SignIn(t, deps, "gina@example.com")

	ctx := context.Background()
	project := &models.Project{UserID: user.ID, Name: "House"}
	require.NoError(t, store.CreateProject(ctx, project))
	require.NoError(t, store.CreateModel(ctx, &models.Model{ProjectID: project.ID, OriginalURL: "https://cdn/plan.png"}))

	w := sectionstest.Do(t, r, http.MethodGet, "/api/projects/"+project.ID.String(), nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	got := sectionstest.Decode[models.Project](t, w)
	require.Len(t, got.Models, 1)
	assert.Equal(t, "uploaded", string(got.Models[0].Status))
}
