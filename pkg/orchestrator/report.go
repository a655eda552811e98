package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// State writes the build plan to w without building anything
func (o *Orchestrator) State(ctx context.Context, w io.Writer) error {
	plan, err := o.Plan(ctx)
	if err != nil {
		return err
	}

	return WriteReport(w, plan, o.StateFormat)
}

// WriteReport renders plan as "text" (the default) or "yaml"
func WriteReport(w io.Writer, plan *Plan, format string) error {
	switch format {
	case "", "text":
		return writeText(w, plan)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		err := encoder.Encode(plan)
		if err != nil {
			return eris.Wrap(err, "failed to encode plan")
		}
		return encoder.Close()
	default:
		return eris.Errorf("unknown report format %s", format)
	}
}

func writeText(w io.Writer, plan *Plan) error {
	buffer := strings.Builder{}
	fmt.Fprintf(&buffer, "Projects changed since %s:\n", plan.Since.Format(time.RFC3339))
	if len(plan.Projects) == 0 {
		buffer.WriteString("  (none)\n")
	}

	for _, project := range plan.Projects {
		fmt.Fprintf(&buffer, "  %s (%s) -> %s\n", project.Path, project.Kind, project.Dest)
		for _, action := range project.Actions {
			fmt.Fprintf(&buffer, "    %s\n", action)
		}
		for _, sel := range project.Selectors {
			fmt.Fprintf(&buffer, "      %s\n", sel.Glob())
		}
	}

	_, err := io.WriteString(w, buffer.String())
	return err
}
