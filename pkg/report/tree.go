package report

import "fmt"

// Tree is an in-memory report tree patched by step path.
// It is not safe for concurrent use.
type Tree struct {
	root  *StepExecutionReport
	nodes map[string]*StepExecutionReport
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{nodes: make(map[string]*StepExecutionReport)}
}

// Empty reports whether no root fragment was patched in yet.
func (t *Tree) Empty() bool {
	return t.root == nil
}

// Patch replaces the subtree at path with a copy of fragment.
func (t *Tree) Patch(path string, fragment *StepExecutionReport) error {
	if fragment == nil {
		return fmt.Errorf("patch %s: nil fragment", path)
	}
	node := fragment.Clone()
	if path == RootPath {
		t.root = node
		t.nodes = make(map[string]*StepExecutionReport)
		t.index(path, node)
		return nil
	}
	parentPath, idx, ok := SplitPath(path)
	if !ok {
		return fmt.Errorf("patch: malformed path %q", path)
	}
	parent := t.nodes[parentPath]
	if parent == nil {
		return fmt.Errorf("patch %s: parent %s unknown", path, parentPath)
	}
	if idx >= len(parent.Steps) {
		return fmt.Errorf("patch %s: parent %s has %d children", path, parentPath, len(parent.Steps))
	}
	parent.Steps[idx] = node
	t.index(path, node)
	return nil
}

// SetStatus updates the status of the node at path.
func (t *Tree) SetStatus(path string, status Status) error {
	n := t.nodes[path]
	if n == nil {
		return fmt.Errorf("set status %s: unknown path", path)
	}
	n.Status = status
	return nil
}

// Node returns the live node at path. Callers must not retain it.
func (t *Tree) Node(path string) *StepExecutionReport {
	return t.nodes[path]
}

// Snapshot returns a deep copy of the whole tree, or nil when empty.
func (t *Tree) Snapshot() *StepExecutionReport {
	return t.root.Clone()
}

func (t *Tree) index(path string, n *StepExecutionReport) {
	walk(path, n, func(p string, s *StepExecutionReport) {
		t.nodes[p] = s
	})
}
