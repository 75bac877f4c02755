// Package inspect renders operator reports for a single job.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/workspace"
)

// JobReader is the part of the job store a report reads.
type JobReader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	Edge(ctx context.Context, releaseID, schemaVersionID string) (*job.Edge, error)
}

// Report is the structured JSON representation of a job report.
type Report struct {
	JobID           string     `json:"job_id"`
	Type            job.Type   `json:"type"`
	Status          job.Status `json:"status"`
	Creator         string     `json:"creator"`
	ReleaseID       string     `json:"release_id"`
	NodeName        string     `json:"node_name,omitempty"`
	CompletionCount int        `json:"completion_count"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	Duration        string     `json:"duration,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ErrorDetail     string     `json:"error_detail,omitempty"`
	Properties      []Property `json:"properties"`
	Migration       *Migration `json:"migration,omitempty"`
	Workspace       *Workspace `json:"workspace,omitempty"`
}

type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Migration is the version edge a schema-migration job drives.
type Migration struct {
	From     string     `json:"from_schema_version_id"`
	To       string     `json:"to_schema_version_id"`
	Status   job.Status `json:"edge_status,omitempty"`
	Active   bool       `json:"edge_active"`
	Attached bool       `json:"edge_attached"`
}

// Workspace lists what is left in the job's extraction directory.
type Workspace struct {
	Path  string   `json:"path"`
	Files []string `json:"files"`
}

// BuildReport renders a terminal-friendly report for a job.
func BuildReport(ctx context.Context, jobs JobReader, ws workspace.Manager, jobID string) (string, error) {
	report, err := gatherReportData(ctx, jobs, ws, jobID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Job Report\n")
	fmt.Fprintf(&out, "Job ID      : %s\n", report.JobID)
	fmt.Fprintf(&out, "Type        : %s\n", report.Type)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Creator     : %s\n", renderUnset(report.Creator, "<unknown>"))
	fmt.Fprintf(&out, "Release     : %s\n", report.ReleaseID)
	fmt.Fprintf(&out, "Node        : %s\n", renderUnset(report.NodeName, "<unclaimed>"))
	fmt.Fprintf(&out, "Completed   : %d\n", report.CompletionCount)
	fmt.Fprintf(&out, "Created     : %s\n", report.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Started     : %s\n", renderTime(report.StartedAt))
	fmt.Fprintf(&out, "Stopped     : %s\n", renderTime(report.StoppedAt))
	if report.Duration != "" {
		fmt.Fprintf(&out, "Duration    : %s\n", report.Duration)
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Properties\n")
	if len(report.Properties) == 0 {
		fmt.Fprintf(&out, "    <none>\n")
	}
	for _, p := range report.Properties {
		fmt.Fprintf(&out, "    %-16s : %s\n", p.Key, p.Value)
	}

	if m := report.Migration; m != nil {
		fmt.Fprintf(&out, "\nMigration\n")
		fmt.Fprintf(&out, "    from        : %s\n", m.From)
		fmt.Fprintf(&out, "    to          : %s\n", m.To)
		if m.Attached {
			fmt.Fprintf(&out, "    edge status : %s\n", m.Status)
			fmt.Fprintf(&out, "    edge active : %t\n", m.Active)
		} else {
			fmt.Fprintf(&out, "    edge        : <none>\n")
		}
	}

	if report.ErrorMessage != "" {
		fmt.Fprintf(&out, "\nError\n")
		fmt.Fprintf(&out, "    message : %s\n", report.ErrorMessage)
		if report.ErrorDetail != "" {
			fmt.Fprintf(&out, "    detail  :\n")
			for _, line := range strings.Split(strings.TrimSpace(report.ErrorDetail), "\n") {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		}
	}

	if w := report.Workspace; w != nil {
		fmt.Fprintf(&out, "\nWorkspace   : %s\n", w.Path)
		if len(w.Files) == 0 {
			fmt.Fprintf(&out, "    <empty>\n")
		}
		for _, f := range w.Files {
			fmt.Fprintf(&out, "    - %s\n", f)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON job report.
func BuildJSONReport(ctx context.Context, jobs JobReader, ws workspace.Manager, jobID string) (string, error) {
	report, err := gatherReportData(ctx, jobs, ws, jobID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, jobs JobReader, ws workspace.Manager, jobID string) (*Report, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job_id is required")
	}

	j, err := jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		JobID:           j.ID,
		Type:            j.Type,
		Status:          j.Status,
		Creator:         j.Creator,
		ReleaseID:       j.ReleaseID,
		NodeName:        j.NodeName,
		CompletionCount: j.CompletionCount,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		StoppedAt:       j.StoppedAt,
		ErrorMessage:    j.ErrorMessage,
		ErrorDetail:     j.ErrorDetail,
		Properties:      sortedProperties(j.Properties),
	}
	if j.StartedAt != nil && j.StoppedAt != nil {
		report.Duration = j.StoppedAt.Sub(*j.StartedAt).Round(time.Millisecond).String()
	}

	if j.IsMigration() {
		m := &Migration{From: j.FromSchemaVersionID, To: j.ToSchemaVersionID}
		edge, err := jobs.Edge(ctx, j.ReleaseID, j.ToSchemaVersionID)
		switch {
		case errors.Is(err, job.ErrEdgeNotFound):
		case err != nil:
			return nil, fmt.Errorf("load version edge: %w", err)
		default:
			m.Attached = edge.JobID == j.ID
			m.Status = edge.MigrationStatus
			m.Active = edge.Active
		}
		report.Migration = m
	}

	if ws != nil {
		w, err := ws.Open(ctx, j.ID)
		if err == nil {
			files, err := ws.Files(ctx, j.ID)
			if err != nil {
				return nil, fmt.Errorf("list workspace: %w", err)
			}
			report.Workspace = &Workspace{Path: w.Dir, Files: files}
		}
	}

	return report, nil
}

func sortedProperties(m map[string]string) []Property {
	out := make([]Property, 0, len(m))
	for k, v := range m {
		out = append(out, Property{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func renderTime(t *time.Time) string {
	if t == nil {
		return "<none>"
	}
	return t.Format(time.RFC3339)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
