package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"time"

	"github.com/openclaw/aishell/internal/orchestrator"
	"github.com/openclaw/aishell/internal/task"
)

// Run executes one task on one agent and prints the outcome.
func (c *RunCmd) Run() error {
	rt, err := newRuntime(c.Config, c.Policy)
	if err != nil {
		return err
	}
	defer rt.close()

	st, err := rt.orch.ExecuteWorkflow(context.Background(), c.Agent, c.Task, toInput(c.Input))
	if err != nil {
		return err
	}
	return printStatus(st, c.JSON)
}

// Run executes a composite task as a multi-agent workflow.
func (c *WorkflowCmd) Run() error {
	rt, err := newRuntime(c.Config, c.Policy)
	if err != nil {
		return err
	}
	defer rt.close()

	if c.MaxConcurrency > 0 {
		rt.cfg.Orchestrator.MaxConcurrency = c.MaxConcurrency
		if err := rt.createOrchestrator(); err != nil {
			return err
		}
	}

	st, err := rt.orch.ExecuteMultiAgentWorkflow(context.Background(), c.Task, toInput(c.Input))
	if err != nil {
		return err
	}
	return printStatus(st, c.JSON)
}

// Run resumes a task from its latest checkpoint.
func (c *ResumeCmd) Run() error {
	rt, err := newRuntime(c.Config, c.Policy)
	if err != nil {
		return err
	}
	defer rt.close()

	ag, err := rt.buildAgent(c.Agent)
	if err != nil {
		return err
	}

	res, err := ag.Resume(context.Background(), &task.Context{
		ID:          c.TaskID,
		Description: "resumed task",
	})
	if err != nil {
		return err
	}
	return printResult(res, c.JSON)
}

func toInput(kv map[string]string) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	input := make(map[string]any, len(kv))
	for k, v := range kv {
		input[k] = v
	}
	return input
}

func printStatus(st *orchestrator.Status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Printf("workflow %s: %s\n", st.ID, st.State)
	if st.Error != "" {
		fmt.Printf("error: %s\n", st.Error)
	}
	for _, res := range st.Results {
		printResultSummary(res)
	}
	if st.State != orchestrator.WorkflowCompleted {
		return fmt.Errorf("workflow %s", st.State)
	}
	return nil
}

func printResult(res *task.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResultSummary(res)
	if res.Status != task.StatusSuccess {
		return fmt.Errorf("task %s", res.Status)
	}
	return nil
}

func printResultSummary(res *task.Result) {
	fmt.Printf("task %s (%s): %s in %s, %d steps\n",
		res.TaskID, res.AgentID, res.Status, res.Duration.Round(time.Millisecond), len(res.ActionsTaken))
	if res.Reasoning != "" {
		fmt.Printf("  %s\n", res.Reasoning)
	}
	if res.Error != "" {
		fmt.Printf("  error: %s\n", res.Error)
	}
}
