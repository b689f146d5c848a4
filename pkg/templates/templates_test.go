package templates_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/templates"
	"github.com/fieldserv/onboarding/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name: "valid",
			doc:  `{"id":"tech","name":"Technician","steps":[{"id":"a","name":"A"},{"id":"b","name":"B","depends_on":["a"]}]}`,
		},
		{
			name:    "not json",
			doc:     `{"id":`,
			wantErr: templates.ErrInvalidTemplate,
		},
		{
			name:    "missing steps",
			doc:     `{"id":"tech","name":"Technician"}`,
			wantErr: templates.ErrInvalidTemplate,
		},
		{
			name:    "empty steps",
			doc:     `{"id":"tech","name":"Technician","steps":[]}`,
			wantErr: templates.ErrInvalidTemplate,
		},
		{
			name:    "unknown field",
			doc:     `{"id":"tech","name":"Technician","owner":"hr","steps":[{"id":"a","name":"A"}]}`,
			wantErr: templates.ErrInvalidTemplate,
		},
		{
			name:    "bad id",
			doc:     `{"id":"Tech Support","name":"Technician","steps":[{"id":"a","name":"A"}]}`,
			wantErr: templates.ErrInvalidTemplate,
		},
		{
			name:    "cycle",
			doc:     `{"id":"tech","name":"Technician","steps":[{"id":"a","name":"A","depends_on":["b"]},{"id":"b","name":"B","depends_on":["a"]}]}`,
			wantErr: workflow.ErrCyclicDependency,
		},
		{
			name:    "unknown reference",
			doc:     `{"id":"tech","name":"Technician","steps":[{"id":"a","name":"A","depends_on":["ghost"]}]}`,
			wantErr: workflow.ErrUnknownStepReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			template, err := templates.Parse([]byte(tt.doc))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, templates.ErrInvalidTemplate)
				assert.Nil(t, template)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "tech", template.ID)
			assert.Equal(t, []string{"a"}, template.Steps[1].DependsOn)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "b.json", `{"id":"branch","name":"Branch","steps":[{"id":"lease","name":"Lease"}]}`)
	write(t, dir, "a.json", `{"id":"tech","name":"Technician","steps":[{"id":"contract","name":"Contract"}]}`)
	write(t, dir, "notes.txt", "ignored")

	catalog, err := templates.Load(dir)
	require.NoError(t, err)

	list := catalog.List()
	require.Len(t, list, 2)
	assert.Equal(t, "branch", list[0].ID)
	assert.Equal(t, "tech", list[1].ID)

	template, err := catalog.Get("tech")
	require.NoError(t, err)
	assert.Equal(t, "Technician", template.Name)

	template.Steps[0].Name = "changed"

	again, err := catalog.Get("tech")
	require.NoError(t, err)
	assert.Equal(t, "Contract", again.Steps[0].Name, "Get returns copies")

	_, err = catalog.Get("missing")
	assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	t.Run("invalid file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		write(t, dir, "bad.json", `{"id":"x","name":"X","steps":[{"id":"a","name":"A","depends_on":["a"]}]}`)

		_, err := templates.Load(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.json")
		assert.ErrorIs(t, err, workflow.ErrCyclicDependency)
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		doc := `{"id":"x","name":"X","steps":[{"id":"a","name":"A"}]}`
		write(t, dir, "one.json", doc)
		write(t, dir, "two.json", doc)

		_, err := templates.Load(dir)
		assert.ErrorIs(t, err, templates.ErrDuplicateID)
	})

	t.Run("no directory configured", func(t *testing.T) {
		t.Parallel()

		catalog, err := templates.Load("")
		require.NoError(t, err)
		assert.Empty(t, catalog.List())
	})
}

func TestLoad_ShippedTemplates(t *testing.T) {
	t.Parallel()

	catalog, err := templates.Load(filepath.Join("..", "..", "examples", "templates"))
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, template := range catalog.List() {
		ids = append(ids, template.ID)
	}

	assert.Equal(t, []string{"branch_setup", "technician"}, ids)
}

func TestNewCatalog(t *testing.T) {
	t.Parallel()

	tech := &models.Template{ID: "tech", Name: "Technician", Steps: []models.StepDefinition{{ID: "a", Name: "A"}}}

	catalog, err := templates.NewCatalog(tech)
	require.NoError(t, err)
	assert.Len(t, catalog.List(), 1)

	_, err = templates.NewCatalog(tech, tech)
	assert.ErrorIs(t, err, templates.ErrDuplicateID)
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}
