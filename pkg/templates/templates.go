// Package templates loads reusable onboarding process definitions.
//
// A template is a JSON document checked three times before it is accepted:
// against the embedded JSON schema, by struct validation, and by building its
// step graph so cycles and unknown references are rejected at load time.
package templates

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidTemplate  = errors.New("invalid template")
	ErrDuplicateID      = errors.New("duplicate template id")
)

//go:embed schema.json
var schemaJSON string

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse validates a template document and returns the template.
func Parse(data []byte) (*models.Template, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidTemplate, strings.Join(messages, "; "))
	}

	var template models.Template
	if err := json.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	if err := validate.Struct(template); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	if _, err := workflow.NewGraph(template.Steps); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidTemplate, template.ID, err)
	}

	return &template, nil
}

// Catalog is a read-only set of templates keyed by id.
type Catalog struct {
	templates map[string]*models.Template
}

// NewCatalog creates a catalog from already parsed templates.
func NewCatalog(templates ...*models.Template) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*models.Template, len(templates))}

	for _, t := range templates {
		if err := c.add(t); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Load parses every *.json file in dir. An empty dir yields an empty catalog.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*models.Template)}

	if dir == "" {
		return c, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	slices.Sort(files)

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", path, err)
		}

		template, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}

		if err := c.add(template); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}

	return c, nil
}

func (c *Catalog) add(t *models.Template) error {
	if _, exists := c.templates[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
	}

	c.templates[t.ID] = t

	return nil
}

// Get returns a copy of the template with the given id.
func (c *Catalog) Get(id string) (*models.Template, error) {
	t, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}

	return clone(t), nil
}

// List returns every template ordered by id.
func (c *Catalog) List() []*models.Template {
	out := make([]*models.Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, clone(t))
	}

	slices.SortFunc(out, func(a, b *models.Template) int {
		return strings.Compare(a.ID, b.ID)
	})

	return out
}

func clone(t *models.Template) *models.Template {
	c := *t

	c.Steps = make([]models.StepDefinition, len(t.Steps))
	for i, step := range t.Steps {
		step.DependsOn = slices.Clone(step.DependsOn)
		c.Steps[i] = step
	}

	return &c
}
