package report

import (
	"strings"
	"testing"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		children []Status
		want     Status
	}{
		{"empty", nil, StatusSuccess},
		{"all success", []Status{StatusSuccess, StatusSuccess}, StatusSuccess},
		{"one failure", []Status{StatusSuccess, StatusFailure, StatusNotExecuted}, StatusFailure},
		{"stopped wins over failure", []Status{StatusFailure, StatusStopped, StatusNotExecuted}, StatusStopped},
		{"not executed ignored", []Status{StatusSuccess, StatusNotExecuted}, StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var children []*StepExecutionReport
			for _, s := range tt.children {
				children = append(children, &StepExecutionReport{Status: s})
			}
			if got := Aggregate(children); got != tt.want {
				t.Errorf("Aggregate = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	r := &StepExecutionReport{
		Name:        "root",
		Information: []string{"a"},
		StepOutputs: map[string]any{"x": "1"},
		Steps:       []*StepExecutionReport{{Name: "child", Status: StatusSuccess}},
	}
	c := r.Clone()
	c.Information[0] = "changed"
	c.StepOutputs["x"] = "2"
	c.Steps[0].Status = StatusFailure

	if r.Information[0] != "a" {
		t.Errorf("information mutated through clone: %v", r.Information)
	}
	if r.StepOutputs["x"] != "1" {
		t.Errorf("outputs mutated through clone: %v", r.StepOutputs)
	}
	if r.Steps[0].Status != StatusSuccess {
		t.Errorf("child status = %s, want SUCCESS", r.Steps[0].Status)
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path   string
		parent string
		index  int
		ok     bool
	}{
		{RootPath, "", 0, false},
		{"0/2", "0", 2, true},
		{"0/1/3", "0/1", 3, true},
		{"0/x", "", 0, false},
	}
	for _, tt := range tests {
		parent, idx, ok := SplitPath(tt.path)
		if parent != tt.parent || idx != tt.index || ok != tt.ok {
			t.Errorf("SplitPath(%q) = (%q, %d, %v), want (%q, %d, %v)", tt.path, parent, idx, ok, tt.parent, tt.index, tt.ok)
		}
	}
	if got := ChildPath(ChildPath(RootPath, 1), 0); got != "0/1/0" {
		t.Errorf("ChildPath = %q, want 0/1/0", got)
	}
}

func TestTree_PatchBySnapshot(t *testing.T) {
	tree := NewTree()
	if !tree.Empty() {
		t.Fatal("new tree should be empty")
	}
	skeleton := &StepExecutionReport{
		Name:   "scenario",
		Status: StatusRunning,
		Steps:  []*StepExecutionReport{NotExecuted("given"), NotExecuted("when")},
	}
	if err := tree.Patch(RootPath, skeleton); err != nil {
		t.Fatal(err)
	}
	if err := tree.Patch("0/0", &StepExecutionReport{Name: "given", Status: StatusSuccess}); err != nil {
		t.Fatal(err)
	}
	if err := tree.SetStatus("0/1", StatusPaused); err != nil {
		t.Fatal(err)
	}

	snap := tree.Snapshot()
	if snap.Steps[0].Status != StatusSuccess {
		t.Errorf("given = %s, want SUCCESS", snap.Steps[0].Status)
	}
	if snap.Steps[1].Status != StatusPaused {
		t.Errorf("when = %s, want PAUSED", snap.Steps[1].Status)
	}
	// the skeleton passed in must not be aliased by the tree
	if skeleton.Steps[0].Status != StatusNotExecuted {
		t.Errorf("patch aliased caller fragment")
	}
}

func TestTree_PatchErrors(t *testing.T) {
	tree := NewTree()
	if err := tree.Patch("0/0", NotExecuted("orphan")); err == nil {
		t.Error("expected error for unknown parent")
	}
	_ = tree.Patch(RootPath, &StepExecutionReport{Name: "root"})
	if err := tree.Patch("0/3", NotExecuted("out of range")); err == nil {
		t.Error("expected error for out-of-range child")
	}
	if err := tree.SetStatus("0/9", StatusPaused); err == nil {
		t.Error("expected error for unknown path")
	}
}

func TestMarkdown(t *testing.T) {
	r := &StepExecutionReport{
		Name:   "login scenario",
		Status: StatusFailure,
		Steps: []*StepExecutionReport{
			{Name: "open page", Type: "success", Status: StatusSuccess},
			{Name: "submit", Type: "fail", Status: StatusFailure, Errors: []string{"boom"}},
			NotExecuted("check"),
		},
	}
	md := Markdown(r)
	for _, want := range []string{"# ✗ login scenario", "**open page** `success`", "**error:** boom", "○ **check**"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}
