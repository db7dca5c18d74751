package sections

import (
	"context"

	"architect-studio/common"
	"architect-studio/middleware"
	"architect-studio/sections/common/auth"
	"architect-studio/sections/models"
	"architect-studio/services"
	"architect-studio/storage"
	"architect-studio/utils"
	"architect-studio/workflow"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

// Store is the persistence surface the handlers use. *db.DB implements it.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	TouchLogin(ctx context.Context, id uuid.UUID) error

	ListProjects(ctx context.Context, userID uuid.UUID) ([]models.Project, error)
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	DeleteProject(ctx context.Context, id uuid.UUID) error

	CreateModel(ctx context.Context, model *models.Model) error
	GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error)
	ListModels(ctx context.Context, projectID uuid.UUID) ([]models.Model, error)
	DeleteModel(ctx context.Context, id uuid.UUID) error
	AdvanceModel(ctx context.Context, id uuid.UUID, from, to workflow.ModelStatus, fields map[string]any) error
	ClaimRetexture(ctx context.Context, id uuid.UUID, prompt string) error
	MarkRetextureUsed(ctx context.Context, id uuid.UUID, taskID string) error
	SetMeshTask(ctx context.Context, id uuid.UUID, taskID string) error

	CreatePlanning(ctx context.Context, analysis *models.PlanningAnalysis) error
	GetPlanning(ctx context.Context, id, userID uuid.UUID) (*models.PlanningAnalysis, error)
	ListPlanning(ctx context.Context, userID uuid.UUID) ([]models.PlanningAnalysis, error)
	DeletePlanning(ctx context.Context, id, userID uuid.UUID) error
	AdvancePlanning(ctx context.Context, id uuid.UUID, from, to workflow.PlanningStatus, fields map[string]any) error
	SelectOptionTier(ctx context.Context, id uuid.UUID, tier string) error

	GetSubscription(ctx context.Context, userID uuid.UUID, freeLimit int) (*models.UserSubscription, error)
	ConsumeGeneration(ctx context.Context, userID uuid.UUID, freeLimit int) error
	RefundGeneration(ctx context.Context, userID uuid.UUID) error
	ActivatePlan(ctx context.Context, sub *models.UserSubscription) error
}

// ImageGenerator renders images from a source image (Gemini)
type ImageGenerator interface {
	GenerateIsometricFloorplan(ctx context.Context, sourceURL, prompt string) services.ImageResult
	GenerateVisualization(ctx context.Context, sourceURL, title, description string) services.ImageResult
}

// PlanningAdvisor produces planning assessments and extension options (Gemini)
type PlanningAdvisor interface {
	AnalyzeProperty(ctx context.Context, in services.PropertyInput) services.AnalysisResult
	GenerateExtensionOptions(ctx context.Context, in services.PropertyInput) services.OptionsResult
}

// Blob stores uploaded and generated assets
type Blob interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Mirror(ctx context.Context, url, key string) (string, error)
	Delete(ctx context.Context, url string) error
}

type PostcodeLookup interface {
	Lookup(ctx context.Context, postcode string) (*services.PostcodeInfo, error)
}

// Billing is the Stripe surface used by the billing section
type Billing interface {
	Plans() []common.Plan
	ListProducts(ctx context.Context) ([]services.Product, error)
	GetOrCreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, customerEmail, customerID, priceID string, metadata map[string]string) (*stripe.CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error)
	ParseWebhookData(data *stripe.EventData, target interface{}) error
}

// Dependencies holds all shared dependencies for handlers
type Dependencies struct {
	Config   *common.Config
	Store    Store
	Redis    *storage.RedisClient
	Sessions *auth.SessionManager
	Prompts  *utils.PromptBuilder
	Images   ImageGenerator
	Advisor  PlanningAdvisor

	// Mesh starts new 3D generations. MeshProviders resolves the provider a
	// model was started with when polling it.
	Mesh          services.MeshGenerator
	MeshProviders map[string]services.MeshGenerator
	Retexturer    services.Retexturer

	Blob       Blob
	Normalizer *services.ImageNormalizer
	Postcodes  PostcodeLookup
	Billing    Billing
	Metrics    *middleware.Metrics
	Limiter    *middleware.RateLimiter
}

// MeshProvider returns the generator registered under name, falling back to
// the default one for rows that predate provider tracking.
func (d *Dependencies) MeshProvider(name string) services.MeshGenerator {
	if p, ok := d.MeshProviders[name]; ok {
		return p
	}
	return d.Mesh
}
