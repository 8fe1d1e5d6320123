package mcptools

import (
	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/taskservice"
)

// BuildRegistry assembles a Registry carrying the full task_*/agent_*/
// memory_*/goals_* tool surface, wired to the given services and
// repositories.
func BuildRegistry(tasks *taskservice.Service, agents *agentservice.Service, memories repo.MemoryRepository, goals repo.GoalRepository) *Registry {
	r := NewRegistry()
	r.Register(NewTaskSubmit(tasks))
	r.Register(NewTaskList(tasks))
	r.Register(NewTaskGet(tasks))
	r.Register(NewTaskUpdateStatus(tasks))
	r.Register(NewAgentCreate(agents))
	r.Register(NewAgentList(agents))
	r.Register(NewAgentGet(agents))
	r.Register(NewMemorySearch(memories))
	r.Register(NewMemoryStore(memories))
	r.Register(NewMemoryGet(memories))
	r.Register(NewGoalsList(goals))
	return r
}
