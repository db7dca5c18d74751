package workflow

// ModelStatus tracks a floorplan through isometric rendering and 3D generation.
type ModelStatus string

const (
	ModelUploaded            ModelStatus = "uploaded"
	ModelGeneratingIsometric ModelStatus = "generating_isometric"
	ModelIsometricReady      ModelStatus = "isometric_ready"
	ModelGenerating3D        ModelStatus = "generating_3d"
	ModelCompleted           ModelStatus = "completed"
	ModelFailed              ModelStatus = "failed"
	ModelRetexturing         ModelStatus = "retexturing"
)

// PlanningStatus tracks a planning feasibility analysis.
type PlanningStatus string

const (
	PlanningPending           PlanningStatus = "pending"
	PlanningAnalyzing         PlanningStatus = "analyzing"
	PlanningSearching         PlanningStatus = "searching"
	PlanningAwaitingSelection PlanningStatus = "awaiting_selection"
	PlanningGenerating        PlanningStatus = "generating"
	PlanningOptionsReady      PlanningStatus = "options_ready"
	PlanningCompleted         PlanningStatus = "completed"
	PlanningFailed            PlanningStatus = "failed"
)

// WorkflowMode selects how a planning analysis continues after the search stage.
type WorkflowMode string

const (
	// ModeModify suggests modifications; the user picks one to visualise.
	ModeModify WorkflowMode = "modify"
	// ModeExtend produces tiered extension options; the user picks a tier.
	ModeExtend WorkflowMode = "extend"
)

func (m WorkflowMode) Valid() bool {
	return m == ModeModify || m == ModeExtend
}

// Models is the floorplan-to-3D pipeline.
var Models = newMachine("model",
	[]ModelStatus{
		ModelUploaded,
		ModelGeneratingIsometric,
		ModelIsometricReady,
		ModelGenerating3D,
		ModelCompleted,
		ModelFailed,
		ModelRetexturing,
	},
	map[ModelStatus][]ModelStatus{
		ModelUploaded:            {ModelGeneratingIsometric},
		ModelGeneratingIsometric: {ModelIsometricReady, ModelFailed},
		ModelIsometricReady:      {ModelGeneratingIsometric, ModelGenerating3D},
		ModelGenerating3D:        {ModelCompleted, ModelFailed},
		// completed is re-enterable: retexture runs from it and returns to it
		ModelCompleted:   {ModelRetexturing},
		ModelRetexturing: {ModelCompleted},
		ModelFailed:      {ModelGeneratingIsometric, ModelGenerating3D},
	},
	ModelCompleted, ModelFailed,
)

// Planning is the planning-analysis pipeline.
var Planning = newMachine("planning",
	[]PlanningStatus{
		PlanningPending,
		PlanningAnalyzing,
		PlanningSearching,
		PlanningAwaitingSelection,
		PlanningGenerating,
		PlanningOptionsReady,
		PlanningCompleted,
		PlanningFailed,
	},
	map[PlanningStatus][]PlanningStatus{
		PlanningPending:           {PlanningAnalyzing},
		PlanningAnalyzing:         {PlanningSearching, PlanningFailed},
		PlanningSearching:         {PlanningAwaitingSelection, PlanningGenerating, PlanningFailed},
		PlanningAwaitingSelection: {PlanningGenerating},
		PlanningGenerating: {
			PlanningOptionsReady,
			PlanningCompleted,
			PlanningFailed,
			PlanningAwaitingSelection,
		},
		PlanningOptionsReady: {PlanningGenerating},
		PlanningFailed:       {PlanningAnalyzing},
	},
	PlanningCompleted, PlanningFailed,
)
