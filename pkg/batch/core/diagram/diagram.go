// Package diagram keeps the workflow diagram of a cycle in step with the
// progress of its tasks.
package diagram

import (
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// Update returns a copy of d with the task node named taskName set to status,
// and its enclosing groups updated to match. d itself is never modified.
// A task already FAILED keeps its status. An unknown task name yields an
// unchanged copy.
func Update(d model.Diagram, taskName string, status model.DiagramNodeStatus) model.Diagram {
	updated := d.Clone()

	node := findTask(updated, taskName)
	if node == nil {
		return updated
	}
	if node.Status != model.DiagramStatusFailed {
		setStatus(node, status)
	}
	if group := findGroup(updated, node.Group); group != nil {
		updateGroup(updated, group, status, map[string]struct{}{})
	}
	return updated
}

func findTask(d model.Diagram, name string) *model.DiagramNode {
	for i := range d.Nodes {
		if d.Nodes[i].Name == name && d.Nodes[i].Category == model.DiagramCategoryTask {
			return &d.Nodes[i]
		}
	}
	return nil
}

func findGroup(d model.Diagram, id string) *model.DiagramNode {
	if id == "" {
		return nil
	}
	for i := range d.Nodes {
		if d.Nodes[i].ID == id && d.Nodes[i].IsGroup {
			return &d.Nodes[i]
		}
	}
	return nil
}

func setStatus(node *model.DiagramNode, status model.DiagramNodeStatus) {
	node.Status = status
	switch status {
	case model.DiagramStatusRunning, model.DiagramStatusInProgress, model.DiagramStatusFailed:
		node.Active = true
	case model.DiagramStatusCompleted, model.DiagramStatusSkipped:
		node.Active = false
	}
}

// updateGroup applies a child's new status to group and walks up the parents.
// visited stops malformed diagrams whose groups contain each other.
func updateGroup(d model.Diagram, group *model.DiagramNode, status model.DiagramNodeStatus, visited map[string]struct{}) {
	if _, seen := visited[group.ID]; seen {
		return
	}
	visited[group.ID] = struct{}{}

	switch status {
	case model.DiagramStatusRunning, model.DiagramStatusInProgress:
		group.Status = model.DiagramStatusInProgress
		group.Active = true
	case model.DiagramStatusCompleted, model.DiagramStatusSkipped:
		running, allSkipped := childSummary(d, group.ID)
		switch {
		case running:
			group.Status = model.DiagramStatusInProgress
			group.Active = true
		case allSkipped:
			group.Status = model.DiagramStatusSkipped
			group.Active = false
		default:
			group.Status = status
			group.Active = false
		}
	default:
		return
	}

	if parent := findGroup(d, group.Group); parent != nil {
		updateGroup(d, parent, group.Status, visited)
	}
}

// childSummary reports whether any direct task of the group is running and
// whether all of them are skipped or not started. Nested groups are ignored.
func childSummary(d model.Diagram, groupID string) (running, allSkipped bool) {
	allSkipped = true
	for _, n := range d.Nodes {
		if n.Group != groupID || n.ID == groupID || n.IsGroup {
			continue
		}
		switch n.Status {
		case model.DiagramStatusRunning, model.DiagramStatusInProgress:
			running = true
			allSkipped = false
		case model.DiagramStatusSkipped, model.DiagramStatusNotStarted:
		default:
			allSkipped = false
		}
	}
	return running, allSkipped
}
