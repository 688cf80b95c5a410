package core

import "testing"

type captureArtifacts struct {
	saved   map[string]int
	content map[string]*Artifact
}

func (c *captureArtifacts) Save(_ SessionRef, name string, data []byte, mimeType string) (int, error) {
	if c.saved == nil {
		c.saved = map[string]int{}
		c.content = map[string]*Artifact{}
	}
	c.saved[name]++
	version := c.saved[name]
	c.content[name] = &Artifact{Name: name, Version: version, Data: data, MimeType: mimeType}
	return version, nil
}

func (c *captureArtifacts) Load(_ SessionRef, name string, _ int) (*Artifact, error) {
	art, ok := c.content[name]
	if !ok {
		return nil, &StateError{Op: "artifact", Key: name, Msg: "not found"}
	}
	return art, nil
}

func (c *captureArtifacts) List(SessionRef) ([]string, error) {
	names := make([]string, 0, len(c.content))
	for name := range c.content {
		names = append(names, name)
	}
	return names, nil
}

func TestToolContext_StateReadThrough(t *testing.T) {
	ic := newTestIC(nil, nil)
	ic.SetState("from_agent", "a")
	tc := NewToolContext(ic, "call-1")

	if v, ok := tc.GetState("from_agent"); !ok || v != "a" {
		t.Fatal("tool must see the invocation's dirty state")
	}

	tc.SetState("from_tool", "t")
	if v, ok := tc.GetState("from_tool"); !ok || v != "t" {
		t.Fatal("tool must see its own writes")
	}
	// Dirty-visible to the rest of the invocation too.
	if v, ok := ic.GetState("from_tool"); !ok || v != "t" {
		t.Fatal("tool write not dirty-visible on the session")
	}
}

func TestToolContext_ApplyActions(t *testing.T) {
	ic := newTestIC(nil, nil)
	ic.Artifacts = &captureArtifacts{}
	tc := NewToolContext(ic, "call-1")

	tc.SetState("k", "v")
	if _, err := tc.SaveArtifact("report.txt", []byte("data"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	tc.Transfer("OtherAgent")
	tc.Escalate()
	tc.SkipSummarization()

	ev := NewFunctionResponseEvent("inv-1", "agent", "call-1", "f", "ok", nil)
	tc.ApplyActions(&ev)

	if ev.Actions.StateDelta["k"] != "v" {
		t.Error("state delta not applied")
	}
	if ev.Actions.ArtifactDelta["report.txt"] != 1 {
		t.Error("artifact delta not applied")
	}
	if ev.Actions.TransferToAgent != "OtherAgent" {
		t.Error("transfer not applied")
	}
	if !ev.Actions.Escalate || !ev.Actions.SkipSummarization {
		t.Error("flags not applied")
	}
}

func TestToolContext_ApplyActionsEmpty(t *testing.T) {
	tc := NewToolContext(newTestIC(nil, nil), "call-1")
	ev := NewFunctionResponseEvent("inv-1", "agent", "call-1", "f", "ok", nil)
	tc.ApplyActions(&ev)
	if ev.Actions.StateDelta != nil || ev.Actions.ArtifactDelta != nil {
		t.Fatal("no-op tool call should leave actions empty")
	}
}

func TestToolContext_ArtifactVersions(t *testing.T) {
	ic := newTestIC(nil, nil)
	ic.Artifacts = &captureArtifacts{}
	tc := NewToolContext(ic, "call-1")

	v1, err := tc.SaveArtifact("doc", []byte("one"), "text/plain")
	if err != nil || v1 != 1 {
		t.Fatalf("first save: %d %v", v1, err)
	}
	v2, err := tc.SaveArtifact("doc", []byte("two"), "text/plain")
	if err != nil || v2 != 2 {
		t.Fatalf("second save: %d %v", v2, err)
	}

	ev := NewEvent("inv-1", "agent")
	tc.ApplyActions(&ev)
	if ev.Actions.ArtifactDelta["doc"] != 2 {
		t.Fatal("artifact delta should record the latest version")
	}

	art, err := tc.LoadArtifact("doc", 0)
	if err != nil || string(art.Data) != "two" {
		t.Fatalf("load latest: %v %v", art, err)
	}
}

func TestInvocationContext_ArtifactServiceMissing(t *testing.T) {
	ic := newTestIC(nil, nil)
	if _, err := ic.SaveArtifact("x", nil, ""); err == nil {
		t.Fatal("expected error without artifact service")
	}
	if _, err := ic.LoadArtifact("x", 0); err == nil {
		t.Fatal("expected error without artifact service")
	}
	// Memory is optional and degrades to empty results.
	entries, err := ic.SearchMemory("anything", 5)
	if err != nil || entries != nil {
		t.Fatalf("memoryless search: %v %v", entries, err)
	}
}
