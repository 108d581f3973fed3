// Package progress renders the progress of a batch run to the terminal. The
// progress document lives in the shared state so that every worker, and
// every process sharing the state backend, draws the same picture.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const moduleName = "progress"

const (
	lineLength       = 100
	barLength        = 50
	statusInProgress = "in progress"
)

// clearScreen moves the cursor home and clears the terminal.
const clearScreen = "\033[H\033[2J"

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Options configure a Reporter.
type Options struct {
	// Enabled turns rendering on. The progress document is maintained either way.
	Enabled bool
	// Clear clears the terminal before each frame.
	Clear bool
	// Color renders status columns with lipgloss styles.
	Color bool
	// QuietLogs silences console logging while the progress is shown.
	QuietLogs bool
}

// Reporter implements port.ProgressReporter over the shared progress state.
type Reporter struct {
	state *state.ProgressState
	out   io.Writer
	opts  Options
	pid   int
}

var _ port.ProgressReporter = (*Reporter)(nil)

// NewReporter creates a Reporter that draws to out.
func NewReporter(st *state.ProgressState, out io.Writer, opts Options) *Reporter {
	return &Reporter{state: st, out: out, opts: opts, pid: os.Getpid()}
}

// Start resets the progress document for total items and prints the header.
func (r *Reporter) Start(ctx context.Context, total int) error {
	if err := r.state.Start(ctx, total); err != nil {
		return exception.NewBatchError(moduleName, "progress could not be reset", err, false, true)
	}
	if !r.opts.Enabled {
		return nil
	}
	if r.opts.QuietLogs {
		logger.SetConsole(io.Discard)
	}
	_, err := fmt.Fprintln(r.out, r.header())
	return err
}

// Progress records item as in progress, or as finished when result is set,
// and redraws the in-progress table and the progress bar.
func (r *Reporter) Progress(ctx context.Context, item *model.WorkItemConfig, result *model.BatchRunResult) error {
	var (
		snapshot state.Progress
		err      error
	)
	if result == nil {
		if err = r.state.PutInProgress(ctx, r.pid, item.Key(), r.itemLine(item)); err == nil && r.opts.Enabled {
			snapshot, err = r.state.Snapshot(ctx)
		}
	} else {
		snapshot, err = r.state.Finish(ctx, r.pid, item.Key(), r.resultLine(*result), result.Elapsed)
	}
	if err != nil {
		return exception.NewBatchError(moduleName, "progress could not be updated", err, false, true)
	}
	if !r.opts.Enabled {
		return nil
	}
	_, err = io.WriteString(r.out, r.frame(snapshot))
	return err
}

// Stop prints the footer with the total elapsed item time and the report and
// log locations. Empty paths are omitted.
func (r *Reporter) Stop(ctx context.Context, reportPath, logPath string) error {
	if !r.opts.Enabled {
		return nil
	}
	if r.opts.QuietLogs {
		logger.SetConsole(os.Stderr)
	}
	elapsed, err := r.state.TotalElapsed(ctx)
	if err != nil {
		return exception.NewBatchError(moduleName, "progress could not be read", err, false, true)
	}
	_, err = io.WriteString(r.out, Footer(elapsed, reportPath, logPath))
	return err
}

func (r *Reporter) header() string {
	rule := strings.Repeat("-", lineLength)
	columns := fmt.Sprintf("%-10s%-15s%-25s%-15s%-15s%-15s", "pid", "object type", "object id", "action", "status", "elapsed time")
	if r.opts.Color {
		columns = headerStyle.Render(columns)
	}
	return "Running the Cirrus batch utility...\n" + rule + "\n" + columns + "\n" + rule
}

func (r *Reporter) itemLine(item *model.WorkItemConfig) string {
	return pad(fmt.Sprintf("%-10d%-15s%-25s%-15s%s",
		r.pid, item.Type, item.Identifier.Key(), item.Action, statusInProgress))
}

func (r *Reporter) resultLine(result model.BatchRunResult) string {
	status := string(result.Status())
	if r.opts.Color {
		status = styleFor(result.Status()).Render(fmt.Sprintf("%-15s", status))
	} else {
		status = fmt.Sprintf("%-15s", status)
	}
	return pad(fmt.Sprintf("%-10d%-15s%-25s%-15s%s%s",
		r.pid, result.ObjectType, result.ObjectID+":"+result.SourceSystemCd, result.Action, status, result.ElapsedString()))
}

func styleFor(s model.StepState) lipgloss.Style {
	switch s {
	case model.StepStateCompleted:
		return completedStyle
	case model.StepStateSkipped:
		return mutedStyle
	}
	return failedStyle
}

// frame renders the whole picture: header, in-progress lines and bar.
func (r *Reporter) frame(p state.Progress) string {
	var b strings.Builder
	if r.opts.Clear {
		b.WriteString(clearScreen)
		b.WriteString(r.header())
		b.WriteString("\n")
	}
	for _, k := range p.InProgressKeys() {
		b.WriteString(p.InProgress[k])
		b.WriteString("\n")
	}
	b.WriteString(Bar(p.Step, p.Total))
	return b.String()
}

// Bar renders "\rProgress |████----| 50% Complete". A finished bar ends the line.
func Bar(step, total int) string {
	percent := 100
	filled := barLength
	if total > 0 {
		percent = 100 * step / total
		filled = barLength * step / total
	}
	if filled > barLength {
		filled = barLength
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("-", barLength-filled)
	out := fmt.Sprintf("\rProgress |%s| %d%% Complete", bar, percent)
	if step >= total {
		out += "\n"
	}
	return out
}

// Footer renders the final summary lines.
func Footer(elapsed time.Duration, reportPath, logPath string) string {
	var b strings.Builder
	b.WriteString(strings.Repeat("-", lineLength))
	b.WriteString("\nBatch run has completed: ")
	b.WriteString(model.FormatElapsed(elapsed))
	b.WriteString("\n")
	if reportPath != "" {
		fmt.Fprintf(&b, "Log report file is available for review at:\n\t%s\n", reportPath)
	}
	if logPath != "" {
		fmt.Fprintf(&b, "Log file is available for review at:\n\t%s\n", logPath)
	}
	return b.String()
}

// pad fills line with spaces up to lineLength.
func pad(line string) string {
	if n := lineLength - len(line); n > 0 {
		return line + strings.Repeat(" ", n)
	}
	return line + " "
}
