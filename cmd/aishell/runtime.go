// Package main provides runtime wiring for the engine components.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/openclaw/aishell/internal/agent"
	"github.com/openclaw/aishell/internal/config"
	"github.com/openclaw/aishell/internal/orchestrator"
	"github.com/openclaw/aishell/internal/planner"
	"github.com/openclaw/aishell/internal/safety"
	"github.com/openclaw/aishell/internal/state"
	"github.com/openclaw/aishell/internal/tool"
)

// runtime holds the wired engine components for one CLI invocation.
type runtime struct {
	cfg       *config.Config
	provider  llm.Provider
	registry  *tool.Registry
	safetyCtl *safety.Controller
	stateMgr  *state.Manager
	orch      *orchestrator.Orchestrator
	telem     telemetry.Exporter

	storagePath string

	// Cleanup
	closers []func()
}

// newRuntime loads configuration and wires all components. policyPath, when
// non-empty, overrides the config's safety policy file.
func newRuntime(configPath, policyPath string) (*runtime, error) {
	rt := &runtime{}
	if err := rt.loadConfig(configPath); err != nil {
		return nil, err
	}
	rt.storagePath = rt.cfg.StoragePath()

	if err := rt.createProvider(); err != nil {
		return nil, err
	}
	if err := rt.setupRegistry(); err != nil {
		return nil, err
	}
	if err := rt.setupSafety(policyPath); err != nil {
		rt.close()
		return nil, err
	}
	if err := rt.setupState(); err != nil {
		rt.close()
		return nil, err
	}
	if err := rt.setupTelemetry(); err != nil {
		rt.close()
		return nil, err
	}
	if err := rt.createOrchestrator(); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) loadConfig(path string) error {
	cfg, err := loadConfigOrDefault(path)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

// createProvider creates the planner's LLM provider.
func (rt *runtime) createProvider() error {
	llmProvider := rt.cfg.LLM.Provider
	if llmProvider == "" {
		llmProvider = llm.InferProviderFromModel(rt.cfg.LLM.Model)
	}
	if rt.cfg.LLM.Model == "" {
		return fmt.Errorf("LLM model not configured (set [llm] model in aishell.toml)")
	}

	var err error
	rt.provider, err = llm.NewProvider(llm.ProviderConfig{
		Provider:  llmProvider,
		Model:     rt.cfg.LLM.Model,
		APIKey:    rt.cfg.GetAPIKey(),
		MaxTokens: rt.cfg.LLM.MaxTokens,
		BaseURL:   rt.cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	return nil
}

// setupRegistry creates the tool registry and installs the builtin
// database tools.
func (rt *runtime) setupRegistry() error {
	rt.registry = tool.NewRegistry()
	if err := tool.RegisterDatabaseTools(rt.registry); err != nil {
		return fmt.Errorf("registering builtin tools: %w", err)
	}
	return nil
}

// setupSafety loads the policy file, selects the approval sink, and starts
// the policy hot-reload watcher.
func (rt *runtime) setupSafety(policyPath string) error {
	if policyPath == "" {
		policyPath = rt.cfg.Safety.PolicyPath
	}

	var pol *safety.Policy
	if policyPath != "" {
		var err error
		pol, err = safety.LoadPolicy(policyPath)
		if err != nil {
			return fmt.Errorf("loading safety policy: %w", err)
		}
	}

	approvalTimeout, err := config.ParseDuration(rt.cfg.Safety.ApprovalTimeout, 0)
	if err != nil {
		return err
	}

	var sink safety.ApprovalSink
	switch rt.cfg.Safety.Sink {
	case "nats":
		nsink, err := safety.NewNATSSink(rt.cfg.Safety.NATSURL, rt.cfg.Safety.NATSSubject, approvalTimeout)
		if err != nil {
			return fmt.Errorf("connecting approval sink: %w", err)
		}
		rt.addCloser(nsink.Close)
		sink = nsink
	default:
		sink = &safety.InteractiveSink{In: os.Stdin, Out: os.Stderr, Approver: os.Getenv("USER")}
	}

	rt.safetyCtl = safety.NewController(safety.Options{
		Sink:            sink,
		Policy:          pol,
		ApprovalTimeout: approvalTimeout,
	})

	if policyPath != "" {
		stop, err := safety.WatchPolicy(policyPath, rt.safetyCtl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: policy hot-reload unavailable: %v\n", err)
		} else {
			rt.addCloser(stop)
		}
	}
	return nil
}

// setupState creates the checkpoint store per the configured backend.
func (rt *runtime) setupState() error {
	if err := os.MkdirAll(rt.storagePath, 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	var store state.Store
	var err error
	switch rt.cfg.Storage.Backend {
	case "sqlite":
		store, err = state.NewSQLiteStore(filepath.Join(rt.storagePath, "state.db"))
	default:
		store, err = state.NewFileStore(filepath.Join(rt.storagePath, "tasks"))
	}
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	rt.stateMgr = state.NewManager(store)
	rt.addCloser(func() { rt.stateMgr.Close() })
	return nil
}

// setupTelemetry creates the telemetry exporter.
func (rt *runtime) setupTelemetry() error {
	var err error
	if rt.cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })
	return nil
}

// createOrchestrator wires the workflow orchestrator with an agent factory
// that builds agents from the config's per-type profiles.
func (rt *runtime) createOrchestrator() error {
	workflowTimeout, err := config.ParseDuration(rt.cfg.Orchestrator.WorkflowTimeout, 0)
	if err != nil {
		return err
	}

	rt.orch = orchestrator.New(orchestrator.Options{
		Factory:        rt.buildAgent,
		Coordinator:    planner.NewLLMCoordinator(rt.provider),
		State:          rt.stateMgr,
		MaxConcurrency: rt.cfg.Orchestrator.MaxConcurrency,
		Timeout:        workflowTimeout,
	})
	return nil
}

// buildAgent constructs an agent of the given type from its profile.
func (rt *runtime) buildAgent(agentType string) (*agent.Agent, error) {
	profile := rt.cfg.AgentProfile(agentType)
	level, err := safety.ParseLevel(profile.SafetyLevel)
	if err != nil {
		return nil, err
	}
	stepTimeout, err := config.ParseDuration(profile.StepTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}

	return agent.New(agent.Config{
		ID:           fmt.Sprintf("%s-%d", agentType, time.Now().UnixNano()%10000),
		Type:         agentType,
		Capabilities: profile.Capabilities,
		SafetyLevel:  level,
		MaxRetries:   profile.MaxRetries,
		StepTimeout:  stepTimeout,
	}, rt.registry, rt.safetyCtl, rt.stateMgr, planner.NewLLMPlanner(rt.provider)), nil
}

func (rt *runtime) addCloser(f func()) {
	rt.closers = append(rt.closers, f)
}

// close runs cleanup in reverse registration order.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
