package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/journal"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// Plan is a computed StateDiff as shown before (or instead of) applying it
type Plan struct {
	TransactionID string          `json:"transaction_id,omitempty" yaml:"transaction_id,omitempty"`
	Profile       string          `json:"profile,omitempty" yaml:"profile,omitempty"`
	DryRun        bool            `json:"dry_run" yaml:"dry_run"`
	Diff          types.StateDiff `json:"diff" yaml:"diff"`
	// Unavailable names phases whose backend could not be reached
	Unavailable []string `json:"unavailable,omitempty" yaml:"unavailable,omitempty"`
	// Previews maps BackupAndReplace targets to a content diff
	Previews map[string]string `json:"previews,omitempty" yaml:"previews,omitempty"`
}

// Report is the outcome of an apply run
type Report struct {
	journal.Entry  `yaml:",inline"`
	RollbackFailed bool     `json:"rollback_failed,omitempty" yaml:"rollback_failed,omitempty"`
	StagingDir     string   `json:"staging_dir,omitempty" yaml:"staging_dir,omitempty"`
	Backups        []string `json:"backups,omitempty" yaml:"backups,omitempty"`
	ExitCode       int      `json:"exit_code" yaml:"exit_code"`
}

// Backup is an original a transaction saved before replacing it
type Backup struct {
	Target     string `json:"target" yaml:"target"`
	BackupPath string `json:"backup_path" yaml:"backup_path"`
	// Missing is set when the backup is no longer on disk
	Missing bool `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// Backups is the listing or restore result for one transaction
type Backups struct {
	TransactionID string   `json:"transaction_id" yaml:"transaction_id"`
	Restored      bool     `json:"restored" yaml:"restored"`
	Backups       []Backup `json:"backups" yaml:"backups"`
}

// Renderer writes plans, reports and history in one output format
type Renderer struct {
	out    io.Writer
	format Format
}

// NewRenderer creates a renderer. FormatAuto is resolved against out when
// it is a file and falls back to plain text otherwise.
func NewRenderer(format Format, out io.Writer) *Renderer {
	if format == FormatAuto {
		f, _ := out.(*os.File)
		format = Resolve(format, f)
	}
	return &Renderer{out: out, format: format}
}

// Format returns the resolved output format
func (r *Renderer) Format() Format { return r.format }

func (r *Renderer) RenderPlan(p Plan) error {
	if r.format.Structured() {
		return r.encode(p)
	}

	var b strings.Builder
	title := "Plan"
	if p.DryRun {
		title = "Plan (dry run)"
	}
	if p.TransactionID != "" {
		title += " " + r.paint(mutedStyle, p.TransactionID)
	}
	b.WriteString(r.paint(titleStyle, title))
	if p.Profile != "" {
		fmt.Fprintf(&b, " %s", r.paint(mutedStyle, "[profile "+p.Profile+"]"))
	}
	b.WriteString("\n")

	for _, phase := range p.Unavailable {
		fmt.Fprintf(&b, "%s %s backend unavailable\n", r.paint(warningStyle, indicatorWarning), phase)
	}

	if p.Diff.IsEmpty() {
		b.WriteString(r.paint(successStyle, indicatorSuccess) + " Nothing to do: the system matches the declaration\n")
		return r.write(b.String())
	}

	sections := []struct {
		phase types.Phase
		ops   []types.Operation
	}{
		{types.PhasePackages, p.Diff.Packages},
		{types.PhaseFiles, p.Diff.Files},
		{types.PhaseServices, p.Diff.Services},
	}
	for _, s := range sections {
		if len(s.ops) == 0 {
			continue
		}
		b.WriteString(r.paint(phaseStyle, s.phase.String()) + "\n")
		for _, op := range s.ops {
			fmt.Fprintf(&b, "  %s %s\n", r.paint(mutedStyle, indicatorPending), r.describe(op))
			if preview, ok := p.Previews[op.Target]; ok && op.Kind == types.OpBackupAndReplace {
				b.WriteString(r.renderPreview(preview))
			}
		}
	}
	fmt.Fprintf(&b, "%d %s\n", p.Diff.Len(), plural(p.Diff.Len(), "operation", "operations"))
	return r.write(b.String())
}

func (r *Renderer) RenderReport(rep Report) error {
	if r.format.Structured() {
		return r.encode(rep)
	}

	var b strings.Builder
	state := rep.State
	if rep.RollbackFailed {
		state = "rollback_failed"
	}
	fmt.Fprintf(&b, "%s transaction %s", r.badge(state), rep.ID)
	if rep.Description != "" {
		fmt.Fprintf(&b, " %s", r.paint(mutedStyle, rep.Description))
	}
	b.WriteString("\n")

	for _, res := range rep.Results {
		b.WriteString("  " + r.resultLine(res) + "\n")
	}
	for _, op := range rep.Skipped {
		fmt.Fprintf(&b, "  %s skipped %s (backend unavailable)\n", r.paint(warningStyle, indicatorWarning), r.describe(op))
	}
	if len(rep.Findings) > 0 {
		b.WriteString(r.paint(warningStyle, "verification findings") + "\n")
		for _, f := range rep.Findings {
			fmt.Fprintf(&b, "  %s %s\n", r.paint(warningStyle, indicatorWarning), f)
		}
	}
	if rep.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", r.paint(errorStyle, "error:"), rep.Error)
	}
	if rep.RollbackFailed {
		b.WriteString(r.paint(errorStyle, "rollback failed; manual recovery required") + "\n")
		if rep.StagingDir != "" {
			fmt.Fprintf(&b, "  staging: %s\n", r.paint(pathStyle, rep.StagingDir))
		}
		for _, backup := range rep.Backups {
			fmt.Fprintf(&b, "  backup:  %s\n", r.paint(pathStyle, backup))
		}
	}
	return r.write(b.String())
}

// RenderHistory lists journal entries, newest first
func (r *Renderer) RenderHistory(entries []journal.Entry) error {
	if r.format.Structured() {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return r.encode(entries)
	}
	if len(entries) == 0 {
		return r.write("No transactions recorded\n")
	}

	var b strings.Builder
	for _, e := range entries {
		failed := 0
		for _, res := range e.Results {
			if !res.Success {
				failed++
			}
		}
		line := fmt.Sprintf("%s  %s  %-11s  %d %s",
			e.StartedAt.Local().Format(time.DateTime),
			r.paint(mutedStyle, e.ID),
			e.State,
			len(e.Results),
			plural(len(e.Results), "operation", "operations"))
		if failed > 0 {
			line += r.paint(errorStyle, fmt.Sprintf(" (%d failed)", failed))
		}
		if e.Description != "" {
			line += "  " + e.Description
		}
		b.WriteString(line + "\n")
	}
	return r.write(b.String())
}

// RenderBackups lists a transaction's backups, or the ones just restored
func (r *Renderer) RenderBackups(b Backups) error {
	if r.format.Structured() {
		if b.Backups == nil {
			b.Backups = []Backup{}
		}
		return r.encode(b)
	}
	if len(b.Backups) == 0 {
		return r.write(fmt.Sprintf("Transaction %s saved no backups\n", b.TransactionID))
	}

	var sb strings.Builder
	if b.Restored {
		sb.WriteString(r.paint(titleStyle, fmt.Sprintf("Restored from %s", b.TransactionID)) + "\n")
	} else {
		sb.WriteString(r.paint(titleStyle, fmt.Sprintf("Backups of %s", b.TransactionID)) + "\n")
	}
	for _, bk := range b.Backups {
		indicator := r.paint(successStyle, indicatorSuccess)
		if !b.Restored {
			indicator = r.paint(mutedStyle, indicatorPending)
		}
		line := fmt.Sprintf("  %s %s  %s", indicator, displayPath(bk.Target), r.paint(pathStyle, displayPath(bk.BackupPath)))
		if bk.Missing {
			line = fmt.Sprintf("  %s %s  %s", r.paint(errorStyle, indicatorFailure), displayPath(bk.Target),
				r.paint(errorStyle, "backup missing"))
		}
		sb.WriteString(line + "\n")
	}
	return r.write(sb.String())
}

func (r *Renderer) RenderError(err error) error {
	if r.format.Structured() {
		obj := map[string]interface{}{"error": err.Error()}
		if code := errors.GetErrorCode(err); code != errors.ErrUnknown {
			obj["code"] = string(code)
		}
		if details := errors.GetErrorDetails(err); len(details) > 0 {
			obj["details"] = details
		}
		return r.encode(obj)
	}
	return r.write(r.paint(errorStyle, "Error:") + " " + err.Error() + "\n")
}

func (r *Renderer) RenderMessage(msg string) error {
	if r.format.Structured() {
		return r.encode(map[string]string{"message": msg})
	}
	return r.write(msg + "\n")
}

func (r *Renderer) resultLine(res types.OperationResult) string {
	line := r.describe(res.Operation)
	switch {
	case res.RolledBack:
		return fmt.Sprintf("%s %s %s", r.paint(warningStyle, indicatorRolledBack), line, r.paint(mutedStyle, "(rolled back)"))
	case res.Success:
		return fmt.Sprintf("%s %s %s", r.paint(successStyle, indicatorSuccess), line, r.paint(mutedStyle, res.Duration.Round(time.Millisecond).String()))
	default:
		msg := res.Message
		if msg == "" {
			msg = res.ErrorText()
		}
		return fmt.Sprintf("%s %s: %s", r.paint(errorStyle, indicatorFailure), line, msg)
	}
}

// describe renders an operation as a short imperative phrase
func (r *Renderer) describe(op types.Operation) string {
	target := r.paint(pathStyle, displayPath(op.Target))
	source := r.paint(pathStyle, displayPath(op.Source))
	switch op.Kind {
	case types.OpInstallPackage:
		return fmt.Sprintf("install %s (%s)", op.Name, op.Version)
	case types.OpRemovePackage:
		return fmt.Sprintf("remove %s", op.Name)
	case types.OpCreateSymlink:
		return fmt.Sprintf("link %s -> %s [%s]", target, source, op.Resolution)
	case types.OpRemoveSymlink:
		return fmt.Sprintf("unlink %s", target)
	case types.OpBackupAndReplace:
		line := fmt.Sprintf("replace %s with %s [%s]", target, source, op.Resolution)
		if op.BackupPath != "" {
			line += ", backup " + r.paint(pathStyle, displayPath(op.BackupPath))
		}
		return line
	case types.OpEnableService:
		return fmt.Sprintf("enable %s (%s)", op.Name, op.Scope)
	case types.OpDisableService:
		return fmt.Sprintf("disable %s (%s)", op.Name, op.Scope)
	case types.OpStartService:
		return fmt.Sprintf("start %s (%s)", op.Name, op.Scope)
	case types.OpStopService:
		return fmt.Sprintf("stop %s (%s)", op.Name, op.Scope)
	default:
		return op.String()
	}
}

func (r *Renderer) renderPreview(preview string) string {
	var b strings.Builder
	for _, line := range strings.Split(preview, "\n") {
		styled := line
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			styled = r.paint(mutedStyle, line)
		case strings.HasPrefix(line, "+"):
			styled = r.paint(addedStyle, line)
		case strings.HasPrefix(line, "-"):
			styled = r.paint(removedStyle, line)
		}
		b.WriteString("      " + styled + "\n")
	}
	return b.String()
}

func (r *Renderer) badge(state string) string {
	if r.format != FormatTerminal {
		return "[" + state + "]"
	}
	return stateBadge(state).Sprint(" " + strings.ToUpper(strings.ReplaceAll(state, "_", " ")) + " ")
}

func (r *Renderer) paint(s lipgloss.Style, text string) string {
	if r.format != FormatTerminal || text == "" {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) encode(v interface{}) error {
	if r.format == FormatYAML {
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Renderer) write(s string) error {
	_, err := io.WriteString(r.out, s)
	return err
}

// displayPath abbreviates the home directory to ~
func displayPath(path string) string {
	if path == "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	rel, err := filepath.Rel(home, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return path
	}
	if rel == "." {
		return "~"
	}
	return "~/" + rel
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
