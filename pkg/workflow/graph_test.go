package workflow_test

import (
	"errors"
	"testing"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func def(id string, deps ...string) models.StepDefinition {
	return models.StepDefinition{ID: id, Name: "Step " + id, DependsOn: deps}
}

func TestNewGraph(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		defs    []models.StepDefinition
		wantErr error
	}{
		{
			name: "empty process",
			defs: nil,
		},
		{
			name: "linear chain",
			defs: []models.StepDefinition{def("A"), def("B", "A"), def("C", "B")},
		},
		{
			name: "diamond",
			defs: []models.StepDefinition{def("A"), def("B", "A"), def("C", "A"), def("D", "B", "C")},
		},
		{
			name: "dependency declared after dependent",
			defs: []models.StepDefinition{def("B", "A"), def("A")},
		},
		{
			name:    "three step cycle",
			defs:    []models.StepDefinition{def("A", "C"), def("B", "A"), def("C", "B")},
			wantErr: workflow.ErrCyclicDependency,
		},
		{
			name:    "self dependency",
			defs:    []models.StepDefinition{def("A", "A")},
			wantErr: workflow.ErrCyclicDependency,
		},
		{
			name:    "cycle behind an acyclic prefix",
			defs:    []models.StepDefinition{def("A"), def("B", "A", "D"), def("C", "B"), def("D", "C")},
			wantErr: workflow.ErrCyclicDependency,
		},
		{
			name:    "unknown reference",
			defs:    []models.StepDefinition{def("A"), def("B", "missing")},
			wantErr: workflow.ErrUnknownStepReference,
		},
		{
			name:    "duplicate id",
			defs:    []models.StepDefinition{def("A"), def("A")},
			wantErr: workflow.ErrDuplicateStep,
		},
		{
			name:    "empty id",
			defs:    []models.StepDefinition{def(" ")},
			wantErr: workflow.ErrInvalidDefinition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			graph, err := workflow.NewGraph(tt.defs)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, graph)
				assert.True(t, workflow.IsConstructionError(err))

				return
			}

			require.NoError(t, err)
			assert.Len(t, graph.Order(), len(tt.defs))
		})
	}
}

func TestNewGraph_CycleReportsPath(t *testing.T) {
	t.Parallel()

	_, err := workflow.NewGraph([]models.StepDefinition{def("A", "C"), def("B", "A"), def("C", "B")})
	require.Error(t, err)

	var cycleErr *workflow.CyclicDependencyError
	require.True(t, errors.As(err, &cycleErr))
	require.Len(t, cycleErr.Cycle, 4)
	assert.Equal(t, cycleErr.Cycle[0], cycleErr.Cycle[3])
	assert.ElementsMatch(t, []string{"A", "B", "C"}, cycleErr.Cycle[:3])
	assert.Contains(t, err.Error(), "->")
}

func TestNewGraph_UnknownReferenceNamesStep(t *testing.T) {
	t.Parallel()

	_, err := workflow.NewGraph([]models.StepDefinition{def("A"), def("B", "ghost")})

	var refErr *workflow.UnknownStepReferenceError
	require.True(t, errors.As(err, &refErr))
	assert.Equal(t, "B", refErr.StepID)
	assert.Equal(t, "ghost", refErr.Reference)
}

func TestGraph_Dependents(t *testing.T) {
	t.Parallel()

	graph, err := workflow.NewGraph([]models.StepDefinition{def("A"), def("B", "A"), def("C", "A", "A"), def("D", "B", "C")})
	require.NoError(t, err)

	dependents, err := graph.Dependents("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, dependents)

	dependents, err = graph.Dependents("D")
	require.NoError(t, err)
	assert.Empty(t, dependents)

	deps, err := graph.Dependencies("C")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, deps, "duplicate dependencies are collapsed")

	_, err = graph.Dependents("nope")
	assert.ErrorIs(t, err, workflow.ErrStepNotFound)

	_, err = graph.Dependencies("nope")
	assert.ErrorIs(t, err, workflow.ErrStepNotFound)
}

func TestGraph_OrderIsACopy(t *testing.T) {
	t.Parallel()

	graph, err := workflow.NewGraph([]models.StepDefinition{def("A"), def("B", "A")})
	require.NoError(t, err)

	order := graph.Order()
	order[0] = "mutated"

	assert.Equal(t, []string{"A", "B"}, graph.Order())
	assert.True(t, graph.Has("A"))
	assert.False(t, graph.Has("mutated"))
}
