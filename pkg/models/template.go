package models

// Template is a reusable onboarding flow definition, e.g. technician
// onboarding or branch setup.
type Template struct {
	ID          string           `json:"id"                    validate:"required"`
	Name        string           `json:"name"                  validate:"required"`
	Description string           `json:"description,omitempty"`
	Steps       []StepDefinition `json:"steps"                 validate:"required,min=1,dive"`
}
