package main

import (
	"fmt"
	"sort"

	"github.com/openclaw/aishell/internal/tool"
)

// Run lists the registered tool catalogue.
func (c *ToolsCmd) Run() error {
	reg := tool.NewRegistry()
	if err := tool.RegisterDatabaseTools(reg); err != nil {
		return err
	}

	filter := tool.Filter{}
	if c.Capability != "" {
		filter.Capabilities = []string{c.Capability}
	}
	if c.MaxRisk != "" {
		risk, err := tool.ParseRiskLevel(c.MaxRisk)
		if err != nil {
			return err
		}
		filter.MaxRisk = &risk
	}

	defs := reg.Find(filter)
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	for _, def := range defs {
		gate := ""
		if def.RequiresApproval {
			gate = " [approval required]"
		}
		fmt.Printf("%-22s %-14s risk=%-8s %s%s\n",
			def.Name, def.Category, def.Risk, def.Description, gate)
	}
	if len(defs) == 0 {
		fmt.Println("no tools match the filter")
	}
	return nil
}
