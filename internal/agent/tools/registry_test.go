package tools

import (
	"context"
	"strings"
	"testing"
)

func noopSpec(name string) Spec {
	return Spec{
		Name:        name,
		Description: "test tool",
		ParameterSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) Result {
			return Result{Success: true, Data: "ok"}
		},
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(noopSpec("a")); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := r.Register(noopSpec("a")); err == nil {
		t.Error("duplicate registration should fail")
	}
}

func TestMustRegister_PanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(noopSpec("a"))

	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on duplicate")
		}
	}()
	r.MustRegister(noopSpec("a"))
}

func TestGet_Unknown(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Error("Get should report missing tool")
	}
}

func TestList_PreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.MustRegister(noopSpec(name))
	}

	specs := r.List()
	if len(specs) != 3 {
		t.Fatalf("List returned %d specs", len(specs))
	}
	for i, want := range []string{"zeta", "alpha", "mid"} {
		if specs[i].Name != want {
			t.Errorf("specs[%d].Name = %q, want %q", i, specs[i].Name, want)
		}
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), "ghost", nil)

	if result.Success {
		t.Error("executing an unregistered tool should fail")
	}
	if result.ToolName != "ghost" {
		t.Errorf("ToolName = %q, want ghost", result.ToolName)
	}
}

func TestExecute_SetsToolName(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(noopSpec("echo"))

	result := r.Execute(context.Background(), "echo", nil)
	if !result.Success || result.ToolName != "echo" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecute_RecoversPanic(t *testing.T) {
	r := NewRegistry()
	spec := noopSpec("boom")
	spec.Handler = func(ctx context.Context, args map[string]interface{}) Result {
		panic("handler exploded")
	}
	r.MustRegister(spec)

	result := r.Execute(context.Background(), "boom", nil)
	if result.Success {
		t.Error("panicking handler must surface as a failed result")
	}
	if !strings.Contains(result.Error, "handler exploded") {
		t.Errorf("panic message lost: %q", result.Error)
	}
	if result.ToolName != "boom" {
		t.Errorf("ToolName = %q", result.ToolName)
	}
}

func TestExecute_HandlerErrorNotRaised(t *testing.T) {
	r := NewRegistry()
	spec := noopSpec("failing")
	spec.Handler = func(ctx context.Context, args map[string]interface{}) Result {
		return Result{Success: false, Error: "upstream unavailable"}
	}
	r.MustRegister(spec)

	result := r.Execute(context.Background(), "failing", nil)
	if result.Success || result.Error != "upstream unavailable" {
		t.Errorf("result = %+v", result)
	}
}
