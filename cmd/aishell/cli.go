// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run a task through a single agent"`
	Workflow WorkflowCmd `cmd:"" help:"Run a composite task as a multi-agent workflow"`
	Resume   ResumeCmd   `cmd:"" help:"Resume a task from its latest checkpoint"`
	Status   StatusCmd   `cmd:"" help:"Show a task's recorded progress"`
	Replay   ReplayCmd   `cmd:"" help:"Replay a task trail for forensic analysis"`
	Tools    ToolsCmd    `cmd:"" help:"List registered tools"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd executes one task on one agent.
type RunCmd struct {
	Task   string            `arg:"" help:"Task description"`
	Agent  string            `default:"dba" help:"Agent profile from config"`
	Input  map[string]string `short:"i" help:"Input key=value (repeatable)"`
	Config string            `help:"Config file path"`
	Policy string            `help:"Safety policy file path (overrides config)"`
	JSON   bool              `help:"Print the result as JSON"`
}

// WorkflowCmd decomposes a composite task across agents.
type WorkflowCmd struct {
	Task           string            `arg:"" help:"Composite task description"`
	Input          map[string]string `short:"i" help:"Input key=value (repeatable)"`
	Config         string            `help:"Config file path"`
	Policy         string            `help:"Safety policy file path (overrides config)"`
	MaxConcurrency int               `help:"Concurrent subtask limit (overrides config)"`
	JSON           bool              `help:"Print the result as JSON"`
}

// ResumeCmd continues an interrupted task.
type ResumeCmd struct {
	TaskID string `arg:"" help:"Task ID to resume"`
	Agent  string `default:"dba" help:"Agent profile from config"`
	Config string `help:"Config file path"`
	Policy string `help:"Safety policy file path (overrides config)"`
	JSON   bool   `help:"Print the result as JSON"`
}

// StatusCmd summarizes a task's persisted progress.
type StatusCmd struct {
	TaskID string `arg:"" help:"Task ID to inspect"`
	Config string `help:"Config file path"`
}

// ReplayCmd replays a task trail.
type ReplayCmd struct {
	TaskID  string `arg:"" help:"Task ID to replay"`
	Verbose int    `short:"v" type:"counter" help:"Include checkpoint payloads"`
	NoPager bool   `help:"Disable pager for output"`
	Live    bool   `help:"Follow the trail as it grows (file backend only)"`
	Config  string `help:"Config file path"`
}

// ToolsCmd lists the registered tool catalogue.
type ToolsCmd struct {
	Capability string `help:"Only tools with this capability"`
	MaxRisk    string `help:"Only tools at or below this risk level"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
