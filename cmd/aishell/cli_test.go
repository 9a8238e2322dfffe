package main

import (
	"testing"

	"github.com/alecthomas/kong"
)

func TestRunCmd_Basic(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"run", "back up the orders database"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.Task != "back up the orders database" {
		t.Errorf("task = %q", cli.Run.Task)
	}
	if cli.Run.Agent != "dba" {
		t.Errorf("default agent = %q", cli.Run.Agent)
	}
}

func TestRunCmd_Inputs(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"run", "-i", "db=orders", "-i", "dest=/backups", "--agent", "backup", "migrate"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.Input["db"] != "orders" || cli.Run.Input["dest"] != "/backups" {
		t.Errorf("inputs = %v", cli.Run.Input)
	}
	if cli.Run.Agent != "backup" {
		t.Errorf("agent = %q", cli.Run.Agent)
	}
}

func TestWorkflowCmd_Concurrency(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"workflow", "--max-concurrency", "8", "archive and reindex"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Workflow.MaxConcurrency != 8 {
		t.Errorf("max concurrency = %d", cli.Workflow.MaxConcurrency)
	}
}

func TestReplayCmd_Flags(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"replay", "-v", "--no-pager", "task-123"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Replay.TaskID != "task-123" {
		t.Errorf("task id = %q", cli.Replay.TaskID)
	}
	if cli.Replay.Verbose != 1 {
		t.Errorf("verbose = %d", cli.Replay.Verbose)
	}
	if !cli.Replay.NoPager {
		t.Error("no-pager not set")
	}
}

func TestResumeCmd_Basic(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"resume", "task-456"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Resume.TaskID != "task-456" {
		t.Errorf("task id = %q", cli.Resume.TaskID)
	}
}

func TestStatusCmd_Basic(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"status", "task-789"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Status.TaskID != "task-789" {
		t.Errorf("task id = %q", cli.Status.TaskID)
	}
}

func TestToolsCmd_Filters(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"tools", "--capability", "backup", "--max-risk", "medium"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Tools.Capability != "backup" || cli.Tools.MaxRisk != "medium" {
		t.Errorf("filters = %+v", cli.Tools)
	}
}

func TestToInput(t *testing.T) {
	if toInput(nil) != nil {
		t.Error("nil input should stay nil")
	}
	got := toInput(map[string]string{"db": "orders"})
	if got["db"] != "orders" {
		t.Errorf("input = %v", got)
	}
}
