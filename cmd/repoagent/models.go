package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/martinemde/repoagent/unifiedllm"
)

// ModelsCmd lists the built-in model catalog.
type ModelsCmd struct {
	Provider string `arg:"" optional:"" help:"Only list models for this provider (anthropic, openai, gemini)."`
}

func (c *ModelsCmd) Run() error {
	models := unifiedllm.ListModels(c.Provider)
	if len(models) == 0 {
		return fmt.Errorf("no models known for provider %q", c.Provider)
	}
	return printModels(os.Stdout, models)
}

func printModels(w io.Writer, models []unifiedllm.ModelInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tPROVIDER\tCONVENTION\tCONTEXT\tALIASES")
	for _, m := range models {
		convention := "-"
		if route, err := unifiedllm.ResolveModel(m.ID); err == nil {
			convention = string(route.Convention)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.ID, m.Provider, convention, m.ContextWindow, strings.Join(m.Aliases, ","))
	}
	return tw.Flush()
}
