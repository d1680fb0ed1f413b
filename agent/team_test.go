package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/GoCodeAlone/agency/provider/mock"
	"github.com/GoCodeAlone/agency/task"
)

func TestTeam_AssignPrefersIdle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := NewRuntime(e.config("a", mock.New()))
	b := NewRuntime(e.config("b", mock.New()))
	team := NewTeam("t1", "Research team", e.tasks)
	team.AddAgent(a)
	team.AddAgent(b)

	// a has been stopped, so b is the only idle member.
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	created, err := e.tasks.Create(ctx, task.NewTask{Description: "work"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := team.AssignTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if got != "b" {
		t.Errorf("assigned to %q, want b", got)
	}
	assignees, _ := e.tasks.Assignees(ctx, created.ID)
	if len(assignees) != 1 || assignees[0] != "b" {
		t.Errorf("Assignees = %v, want [b]", assignees)
	}
	if info := b.Info(); info.TeamID != "t1" {
		t.Errorf("TeamID = %q, want t1", info.TeamID)
	}
}

func TestTeam_NoAvailableAgent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := NewRuntime(e.config("a", mock.New()))
	team := NewTeam("t1", "solo", e.tasks)
	team.AddAgent(a)
	_ = a.Stop(ctx)

	if _, err := team.AssignTask(ctx, "task_x"); err == nil {
		t.Fatal("expected error with every member stopped")
	}
}

func TestTeam_GetAndInfos(t *testing.T) {
	e := newEnv(t)
	lead := NewRuntime(e.config("lead", mock.New()))
	member := NewRuntime(e.config("member", mock.New()))
	team := NewTeam("t1", "crew", e.tasks)
	team.SetLead(lead)
	team.AddAgent(member)

	if r, err := team.Get("member"); err != nil || r != member {
		t.Errorf("Get(member) = %v, %v", r, err)
	}
	if _, err := team.Get("ghost"); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("Get(ghost) error = %v, want ErrUnknownAgent", err)
	}
	infos := team.Infos()
	if len(infos) != 2 || infos[0].ID != "lead" || !infos[0].IsLead {
		t.Errorf("Infos = %+v", infos)
	}

	ctx := context.Background()
	if err := team.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := team.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for _, info := range team.Infos() {
		if info.Status != StatusStopped {
			t.Errorf("%s status = %q, want stopped", info.ID, info.Status)
		}
	}
}
