package task

import "testing"

func TestTokenCoordinatorAccumulatesRequest(t *testing.T) {
	c := NewTokenCoordinator()
	c.Commit(CurrentTask)
	c.Shutdown(CurrentTask)

	req := c.Drain()
	if !req.Commit || !req.Shutdown {
		t.Fatalf("expected both commit and shutdown latched, got %+v", req)
	}
	if req.CommitScope != CurrentTask || req.ShutdownScope != CurrentTask {
		t.Fatalf("expected CURRENT_TASK scopes, got %+v", req)
	}
}

func TestTokenCoordinatorScopesAreIndependent(t *testing.T) {
	c := NewTokenCoordinator()
	c.Commit(CurrentTask)
	c.Shutdown(AllTasksInContainer)

	req := c.Drain()
	if req.CommitScope != CurrentTask {
		t.Fatalf("expected commit scope to stay CURRENT_TASK, got %v", req.CommitScope)
	}
	if req.ShutdownScope != AllTasksInContainer {
		t.Fatalf("expected shutdown scope ALL_TASKS_IN_CONTAINER, got %v", req.ShutdownScope)
	}
}

func TestTokenCoordinatorWidensScopeWithinSameCallKind(t *testing.T) {
	c := NewTokenCoordinator()
	c.Commit(CurrentTask)
	c.Commit(AllTasksInContainer)

	req := c.Drain()
	if req.CommitScope != AllTasksInContainer {
		t.Fatalf("expected commit scope to widen to ALL_TASKS_IN_CONTAINER, got %v", req.CommitScope)
	}
}

func TestTokenCoordinatorIdempotentWithinDispatch(t *testing.T) {
	c := NewTokenCoordinator()
	c.Commit(CurrentTask)
	c.Commit(CurrentTask)

	req := c.Drain()
	if !req.Commit {
		t.Fatal("expected commit latched")
	}
}

func TestTokenCoordinatorDropsCallsAfterDrain(t *testing.T) {
	c := NewTokenCoordinator()
	c.Drain()

	c.Commit(CurrentTask)
	c.Shutdown(AllTasksInContainer)

	req := c.Drain()
	if req.Commit || req.Shutdown {
		t.Fatalf("expected calls after drain to be dropped, got %+v", req)
	}
}

func TestInertCoordinatorDropsEverything(t *testing.T) {
	c := Inert()
	c.Commit(AllTasksInContainer)
	c.Shutdown(AllTasksInContainer)
}
