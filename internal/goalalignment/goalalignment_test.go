package goalalignment

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

type memGoalRepo struct {
	mu     sync.Mutex
	active []*swarmmodel.Goal
}

func (m *memGoalRepo) Create(context.Context, *swarmmodel.Goal) error { return nil }
func (m *memGoalRepo) Update(context.Context, *swarmmodel.Goal) error { return nil }
func (m *memGoalRepo) Get(context.Context, swarmmodel.ID) (*swarmmodel.Goal, error) {
	return nil, nil
}
func (m *memGoalRepo) ListActive(context.Context) ([]*swarmmodel.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, nil
}
func (m *memGoalRepo) List(context.Context) ([]*swarmmodel.Goal, error) {
	return m.ListActive(context.Background())
}

func TestEvaluateTask_NoActiveGoals_PassesTrivially(t *testing.T) {
	svc := New(&memGoalRepo{}, DefaultConfig())
	eval, err := svc.EvaluateTask(context.Background(), &swarmmodel.Task{ID: swarmmodel.NewID(), Description: "anything"})
	require.NoError(t, err)
	require.True(t, eval.Passes)
	require.Equal(t, 1.0, eval.OverallScore)
}

func TestEvaluateTask_DirectGoalMatchAndKeywordOverlapBoostScore(t *testing.T) {
	goalID := swarmmodel.NewID()
	goals := &memGoalRepo{active: []*swarmmodel.Goal{{
		ID:          goalID,
		Name:        "Ship auth",
		Description: "Implement user authentication",
		Priority:    swarmmodel.PriorityHigh,
		Status:      swarmmodel.GoalActive,
	}}}
	svc := New(goals, DefaultConfig())

	task := &swarmmodel.Task{ID: swarmmodel.NewID(), GoalID: &goalID, Description: "Implement authentication flow for login"}
	eval, err := svc.EvaluateTask(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, eval.GoalAlignments, 1)
	a := eval.GoalAlignments[0]
	require.True(t, a.Score > 0.5)
	require.Contains(t, a.Contributions, "Task directly contributes to this goal")
	require.True(t, a.ConstraintsSatisfied)
}

func TestEvaluateTask_ConstraintViolationLowersScoreAndFailsIsAligned(t *testing.T) {
	goals := &memGoalRepo{active: []*swarmmodel.Goal{{
		ID:          swarmmodel.NewID(),
		Name:        "Secure code",
		Description: "Keep the system secure",
		Priority:    swarmmodel.PriorityNormal,
		Status:      swarmmodel.GoalActive,
		Constraints: []swarmmodel.Constraint{{Name: "must-validate", Description: "Input must always be validated"}},
	}}}
	svc := New(goals, DefaultConfig())

	task := &swarmmodel.Task{ID: swarmmodel.NewID(), Description: "Add a new endpoint"}
	eval, err := svc.EvaluateTask(context.Background(), task)
	require.NoError(t, err)
	a := eval.GoalAlignments[0]
	require.False(t, a.ConstraintsSatisfied)
	require.Len(t, a.Violations, 1)
	require.False(t, a.IsAligned(DefaultConfig().MinAlignmentScore))
}

func TestEvaluateTask_PriorityWeightedOverallScore(t *testing.T) {
	criticalID := swarmmodel.NewID()
	lowID := swarmmodel.NewID()
	goals := &memGoalRepo{active: []*swarmmodel.Goal{
		{ID: criticalID, Name: "Critical", Description: "critical work", Priority: swarmmodel.PriorityCritical, Status: swarmmodel.GoalActive},
		{ID: lowID, Name: "Low", Description: "low priority work", Priority: swarmmodel.PriorityLow, Status: swarmmodel.GoalActive},
	}}
	svc := New(goals, DefaultConfig())

	task := &swarmmodel.Task{ID: swarmmodel.NewID(), GoalID: &criticalID, Description: "do the critical work"}
	eval, err := svc.EvaluateTask(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, eval.GoalAlignments, 2)
	// The critical-goal alignment scores higher and carries 6x the weight
	// of the low-priority one (3.0 vs 0.5 at the default priority weight
	// of 1.5), so overall_score should sit closer to it.
	var criticalScore, lowScore float64
	for _, a := range eval.GoalAlignments {
		if a.GoalID == criticalID {
			criticalScore = a.Score
		} else {
			lowScore = a.Score
		}
	}
	require.True(t, criticalScore > lowScore)
	mid := (criticalScore + lowScore) / 2
	require.True(t, eval.OverallScore > mid)
}

func TestSummaryHTML_RendersMarkdown(t *testing.T) {
	eval := HolisticEvaluation{Summary: "**bold** summary"}
	html, err := eval.SummaryHTML()
	require.NoError(t, err)
	require.Contains(t, html, "<strong>bold</strong>")
}
