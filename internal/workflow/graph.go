package workflow

import (
	"sort"

	"github.com/cnap-oss/devkit/internal/storage"
)

// taskGraph는 function 안의 태스크 의존성 그래프입니다.
// 간선 a -> b는 "a가 b에 의존한다"(b가 먼저 완료되어야 함)를 의미합니다.
type taskGraph struct {
	edges map[string]map[string]struct{}
}

func newTaskGraph() *taskGraph {
	return &taskGraph{edges: make(map[string]map[string]struct{})}
}

// buildTaskGraph는 depends_on과 blocks 양쪽을 간선으로 반영합니다.
// blocks는 phase 경계를 넘을 수 있으므로 역방향 간선으로 취급합니다.
func buildTaskGraph(tasks []storage.ProjectFunctionPhaseTask) *taskGraph {
	g := newTaskGraph()
	for _, task := range tasks {
		g.addNode(task.TaskID)
		for _, dep := range task.DependsOn {
			g.addEdge(task.TaskID, dep)
		}
		for _, blocked := range task.Blocks {
			g.addEdge(blocked, task.TaskID)
		}
	}
	return g
}

func (g *taskGraph) addNode(id string) {
	if _, ok := g.edges[id]; !ok {
		g.edges[id] = make(map[string]struct{})
	}
}

func (g *taskGraph) addEdge(from, to string) {
	g.addNode(from)
	g.addNode(to)
	g.edges[from][to] = struct{}{}
}

// reaches는 from에서 to로 가는 경로가 있는지 DFS로 확인합니다.
func (g *taskGraph) reaches(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == to {
			return true
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		for next := range g.edges[node] {
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// tryAddEdge는 from -> to 간선이 순환을 만들면 false를 반환하고 그래프를 바꾸지 않습니다.
func (g *taskGraph) tryAddEdge(from, to string) bool {
	if g.reaches(to, from) {
		return false
	}
	g.addEdge(from, to)
	return true
}

// topoOrder는 의존 대상이 먼저 오도록 정렬된 노드 목록을 반환합니다.
// 순환이 있으면 ok=false입니다. 같은 깊이의 노드는 ID 순으로 정렬됩니다.
func (g *taskGraph) topoOrder() ([]string, bool) {
	pending := make(map[string]int, len(g.edges))
	dependents := make(map[string][]string, len(g.edges))
	for node, deps := range g.edges {
		pending[node] = len(deps)
		for dep := range deps {
			dependents[dep] = append(dependents[dep], node)
		}
	}

	var ready []string
	for node, count := range pending {
		if count == 0 {
			ready = append(ready, node)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.edges))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		var unlocked []string
		for _, dependent := range dependents[node] {
			pending[dependent]--
			if pending[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}
	return order, len(order) == len(g.edges)
}
