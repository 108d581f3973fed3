package model

import (
	"fmt"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// DiagramNodeStatus is the visual status of a workflow diagram node.
type DiagramNodeStatus string

const (
	DiagramStatusRunning    DiagramNodeStatus = "running"
	DiagramStatusInProgress DiagramNodeStatus = "in_progress"
	DiagramStatusCompleted  DiagramNodeStatus = "completed"
	DiagramStatusFailed     DiagramNodeStatus = "failed"
	DiagramStatusSkipped    DiagramNodeStatus = "skipped"
	DiagramStatusNotStarted DiagramNodeStatus = "not_started"
)

// DiagramCategoryTask is the category of task nodes.
const DiagramCategoryTask = "task"

// DiagramNode is a task or group node of a workflow diagram.
// Attributes without a typed field are kept in Extra and written back unchanged.
type DiagramNode struct {
	ID       string
	Name     string
	Category string
	Status   DiagramNodeStatus
	Active   bool
	Group    string
	IsGroup  bool
	Extra    map[string]interface{}
}

// Diagram is the wfDiagram attribute of a cycle.
type Diagram struct {
	Nodes []DiagramNode
	Extra map[string]interface{}
}

// ParseDiagram decodes a JSON-shaped diagram value.
func ParseDiagram(v interface{}) (Diagram, error) {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return Diagram{}, fmt.Errorf("workflow diagram must be an object, got %T", v)
	}
	raw = serialization.DeepCopyMap(raw)

	d := Diagram{Extra: raw}
	nodes, _ := raw["nodes"].([]interface{})
	delete(raw, "nodes")
	for i, n := range nodes {
		m, ok := n.(map[string]interface{})
		if !ok {
			return Diagram{}, fmt.Errorf("workflow diagram node %d must be an object, got %T", i, n)
		}
		node := DiagramNode{
			ID:       stringOf(m["id"]),
			Name:     stringOf(m["name"]),
			Category: stringOf(m["category"]),
			Status:   DiagramNodeStatus(stringOf(m["status"])),
			Group:    stringOf(m["group"]),
		}
		node.Active, _ = m["active"].(bool)
		node.IsGroup, _ = m["isGroup"].(bool)
		for _, attr := range []string{"name", "category", "status", "active", "isGroup"} {
			delete(m, attr)
		}
		node.Extra = m
		d.Nodes = append(d.Nodes, node)
	}
	return d, nil
}

func stringOf(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ToMap encodes the diagram back to its JSON-shaped form.
// The original id and group values are preserved.
func (d Diagram) ToMap() map[string]interface{} {
	out := serialization.DeepCopyMap(d.Extra)
	nodes := make([]interface{}, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		m := serialization.DeepCopyMap(n.Extra)
		if _, ok := m["id"]; !ok {
			m["id"] = n.ID
		}
		if n.Group == "" {
			delete(m, "group")
		} else if _, ok := m["group"]; !ok || stringOf(m["group"]) != n.Group {
			m["group"] = n.Group
		}
		m["name"] = n.Name
		m["category"] = n.Category
		m["status"] = string(n.Status)
		m["active"] = n.Active
		m["isGroup"] = n.IsGroup
		nodes = append(nodes, m)
	}
	out["nodes"] = nodes
	return out
}

// Clone returns a deep copy.
func (d Diagram) Clone() Diagram {
	c := Diagram{Extra: serialization.DeepCopyMap(d.Extra)}
	if d.Nodes != nil {
		c.Nodes = make([]DiagramNode, len(d.Nodes))
		for i, n := range d.Nodes {
			n.Extra = serialization.DeepCopyMap(n.Extra)
			c.Nodes[i] = n
		}
	}
	return c
}

// Node returns the node with id, or nil.
func (d Diagram) Node(id string) *DiagramNode {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}
