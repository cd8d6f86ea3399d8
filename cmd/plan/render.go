package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/plan"
	"github.com/ValentinKolb/dkv-admin/lib/task"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	stateColors = map[string]*color.Color{
		"CREATED":     color.New(color.FgWhite),
		"APPROVED":    color.New(color.FgBlue),
		"PENDING":     color.New(color.FgWhite),
		"RUNNING":     color.New(color.FgCyan),
		"SUCCEEDED":   color.New(color.FgGreen),
		"ERROR":       color.New(color.FgRed),
		"INTERRUPTED": color.New(color.FgYellow),
		"CANCELED":    color.New(color.FgMagenta),
	}

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func colored(state string) string {
	if c, ok := stateColors[state]; ok {
		return c.Sprint(state)
	}
	return state
}

func coloredState(s plan.State) string { return colored(s.String()) }

// writePlanList renders plans as a table
func writePlanList(w io.Writer, plans []*plan.Plan) error {
	if len(plans) == 0 {
		_, err := fmt.Fprintln(w, "no plans")
		return err
	}
	rows := make([][]string, 0, len(plans))
	for _, p := range plans {
		done := 0
		for _, r := range p.Runs {
			if r.State == task.StateSucceeded {
				done++
			}
		}
		rows = append(rows, []string{
			strconv.FormatUint(p.ID, 10),
			p.Name,
			coloredState(p.State),
			fmt.Sprintf("%d/%d", done, len(p.Runs)),
			strconv.Itoa(len(p.Attempts)),
			humanize.Time(p.Updated),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "STATE", "TASKS", "ATTEMPTS", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// --------------------------------------------------------------------------
// Plan details
// --------------------------------------------------------------------------

// planView is the output form of a plan for show -o yaml|json
type planView struct {
	ID       uint64        `json:"id" yaml:"id"`
	Name     string        `json:"name" yaml:"name"`
	State    string        `json:"state" yaml:"state"`
	Created  time.Time     `json:"created" yaml:"created"`
	Updated  time.Time     `json:"updated" yaml:"updated"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Locks    []string      `json:"locks,omitempty" yaml:"locks,omitempty"`
	Attempts []attemptView `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Tasks    []taskView    `json:"tasks" yaml:"tasks"`
}

type attemptView struct {
	ID       string `json:"id" yaml:"id"`
	State    string `json:"state" yaml:"state"`
	Started  string `json:"started" yaml:"started"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

type taskView struct {
	Index       int      `json:"index" yaml:"index"`
	Kind        string   `json:"kind" yaml:"kind"`
	Name        string   `json:"name" yaml:"name"`
	State       string   `json:"state" yaml:"state"`
	Info        string   `json:"info,omitempty" yaml:"info,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
	Detail      string   `json:"detail,omitempty" yaml:"detail,omitempty"`
	Locks       []string `json:"locks,omitempty" yaml:"locks,omitempty"`
	Invocations int      `json:"invocations,omitempty" yaml:"invocations,omitempty"`
	Runs        int      `json:"runs,omitempty" yaml:"runs,omitempty"`
}

func viewOf(p *plan.Plan) planView {
	v := planView{
		ID:      p.ID,
		Name:    p.Name,
		State:   p.State.String(),
		Created: p.Created,
		Updated: p.Updated,
		Error:   p.Error,
		Locks:   p.Locks,
	}
	for _, a := range p.Attempts {
		av := attemptView{ID: a.ID, State: a.State.String(), Started: a.Start.Format(time.RFC3339), Error: a.Error}
		if !a.End.IsZero() {
			av.Duration = a.End.Sub(a.Start).Round(time.Millisecond).String()
		}
		v.Attempts = append(v.Attempts, av)
	}
	for _, r := range p.Runs {
		v.Tasks = append(v.Tasks, taskView{
			Index:       r.Index,
			Kind:        r.Kind,
			Name:        r.Name,
			State:       r.State.String(),
			Info:        r.Info,
			Error:       r.Error,
			Detail:      r.Detail,
			Locks:       r.Locks,
			Invocations: r.Invocations,
			Runs:        r.Runs,
		})
	}
	return v
}

// writePlan renders one plan in the given format
func writePlan(w io.Writer, p *plan.Plan, format string) error {
	v := viewOf(p)
	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		return writePlanText(w, v)
	default:
		return fmt.Errorf("invalid output format %q (expected text, yaml or json)", format)
	}
}

func writePlanText(w io.Writer, v planView) error {
	var b strings.Builder
	bold := color.New(color.Bold)

	bold.Fprintf(&b, "Plan %d: %s\n", v.ID, v.Name)
	fmt.Fprintf(&b, "  %-10s %s\n", "State", colored(v.State))
	fmt.Fprintf(&b, "  %-10s %s (%s)\n", "Created", v.Created.Format(time.RFC3339), humanize.Time(v.Created))
	fmt.Fprintf(&b, "  %-10s %s\n", "Updated", humanize.Time(v.Updated))
	if v.Error != "" {
		fmt.Fprintf(&b, "  %-10s %s\n", "Error", v.Error)
	}
	if len(v.Locks) > 0 {
		fmt.Fprintf(&b, "  %-10s %s\n", "Locks", strings.Join(v.Locks, ", "))
	}

	if len(v.Attempts) > 0 {
		bold.Fprintf(&b, "\nAttempts\n")
		for i, a := range v.Attempts {
			fmt.Fprintf(&b, "  %d. %s %s started %s", i+1, a.ID, colored(a.State), a.Started)
			if a.Duration != "" {
				fmt.Fprintf(&b, " took %s", a.Duration)
			}
			b.WriteString("\n")
			if a.Error != "" {
				fmt.Fprintf(&b, "     %s\n", a.Error)
			}
		}
	}

	bold.Fprintf(&b, "\nTasks\n")
	for _, t := range v.Tasks {
		fmt.Fprintf(&b, "  %3d %-11s %s", t.Index, colored(t.State), t.Name)
		if t.Info != "" {
			fmt.Fprintf(&b, " (%s)", t.Info)
		}
		b.WriteString("\n")
		if t.Error != "" {
			fmt.Fprintf(&b, "      error: %s\n", t.Error)
		}
		if t.Detail != "" {
			fmt.Fprintf(&b, "      %s\n", t.Detail)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
