// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// ProgressDisplay manages interactive run progress output. It provides
// animated spinners for in-flight tasks and formatted completion lines,
// falling back to static output when not running in a TTY or disabled.
type ProgressDisplay struct {
	mu         sync.Mutex
	isTTY      bool
	noProgress bool
	verbose    bool

	benchmarkName string
	runID         string

	// Current task tracking
	currentTaskID   string
	currentTaskName string
	taskStartTime   time.Time
	taskIndex       int
	totalTasks      int

	// Log messages for the current task (verbose mode)
	currentLogs []string

	// Completed tasks
	completedTasks []CompletedTask

	// Animation state
	spinnerFrames []string
	frameIdx      int
	done          chan struct{}
	running       bool
}

// CompletedTask tracks information about a completed task.
type CompletedTask struct {
	Name      string
	Status    string // "success", "error", "skipped"
	Cost      float64
	Accuracy  string // "exact", "estimated", or "unavailable"
	Duration  time.Duration
	TokensIn  int
	TokensOut int
}

// NewProgressDisplay creates a new ProgressDisplay.
func NewProgressDisplay(noProgress, verbose bool) *ProgressDisplay {
	return &ProgressDisplay{
		isTTY:         term.IsTerminal(int(os.Stdout.Fd())),
		noProgress:    noProgress,
		verbose:       verbose,
		spinnerFrames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	}
}

// Start begins the progress display with the run's identity.
func (p *ProgressDisplay) Start(benchmarkName, runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.benchmarkName = benchmarkName
	p.runID = runID

	header := fmt.Sprintf("Running benchmark: %s", benchmarkName)
	if runID != "" {
		header += fmt.Sprintf(" %s", Muted.Render("("+runID+")"))
	}
	fmt.Println(header)
	fmt.Println()
}

// TaskStarted is called when a task begins execution.
func (p *ProgressDisplay) TaskStarted(taskID, taskName string, index, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentTaskID = taskID
	p.currentTaskName = taskName
	p.taskStartTime = time.Now()
	p.taskIndex = index
	p.totalTasks = total
	p.currentLogs = nil

	if p.isInteractive() {
		p.startSpinner()
	} else {
		fmt.Printf("  %s %s...\n", Muted.Render(SymbolInfo), taskName)
	}
}

// TaskCompleted is called when a task reaches a terminal state.
func (p *ProgressDisplay) TaskCompleted(taskID, taskName, status string, cost float64, accuracy string, durationMs int64, tokensIn, tokensOut int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	duration := time.Duration(durationMs) * time.Millisecond

	p.completedTasks = append(p.completedTasks, CompletedTask{
		Name:      taskName,
		Status:    status,
		Cost:      cost,
		Accuracy:  accuracy,
		Duration:  duration,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
	})

	if p.isInteractive() {
		p.stopSpinner()
		p.clearCurrentLines()
	}

	p.printCompletedTask(taskName, status, cost, accuracy, duration)

	p.currentTaskID = ""
	p.currentTaskName = ""
	p.currentLogs = nil
}

// LogMessage adds a log message (for verbose mode).
func (p *ProgressDisplay) LogMessage(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.verbose {
		return
	}

	if p.isInteractive() && p.currentTaskName != "" {
		p.currentLogs = append(p.currentLogs, message)
		p.redrawSpinnerLine()
	} else {
		fmt.Printf("    %s %s\n", Muted.Render("│"), message)
	}
}

// Finish completes the progress display with the run's final status.
func (p *ProgressDisplay) Finish(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopSpinner()
	fmt.Println()

	switch status {
	case "completed":
		fmt.Printf("%s Run completed\n", StatusOK.Render(SymbolOK))
	case "failed":
		fmt.Printf("%s Run failed\n", StatusError.Render(SymbolError))
	case "cancelled":
		fmt.Printf("%s Run cancelled\n", StatusWarn.Render(SymbolWarn))
	default:
		fmt.Printf("Run %s\n", status)
	}
}

// isInteractive returns true if we should use interactive mode.
func (p *ProgressDisplay) isInteractive() bool {
	return p.isTTY && !p.noProgress
}

// startSpinner begins the spinner animation goroutine.
func (p *ProgressDisplay) startSpinner() {
	if p.running {
		return
	}
	p.running = true
	p.done = make(chan struct{})
	p.frameIdx = 0

	p.renderSpinnerLine()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				p.mu.Lock()
				if p.running {
					p.frameIdx = (p.frameIdx + 1) % len(p.spinnerFrames)
					p.redrawSpinnerLine()
				}
				p.mu.Unlock()
			}
		}
	}()
}

// stopSpinner stops the spinner animation.
func (p *ProgressDisplay) stopSpinner() {
	if !p.running {
		return
	}
	p.running = false
	close(p.done)
}

// clearCurrentLines clears the spinner line and any log lines below it.
func (p *ProgressDisplay) clearCurrentLines() {
	if !p.isTTY {
		return
	}
	fmt.Print("\r\033[K")
	for i := 0; i < len(p.currentLogs); i++ {
		fmt.Print("\033[A\033[K")
	}
}

// renderSpinnerLine renders the current spinner state.
func (p *ProgressDisplay) renderSpinnerLine() {
	elapsed := time.Since(p.taskStartTime)
	elapsedStr := formatDuration(elapsed)

	frame := p.spinnerFrames[p.frameIdx]
	if !ColorEnabled() {
		frame = "..."
	}

	taskDisplay := p.currentTaskName + "..."
	line := fmt.Sprintf("  %s %s", StatusInfo.Render(frame), taskDisplay)

	timeStr := Muted.Render("(" + elapsedStr + ")")
	padding := 60 - len(taskDisplay) - 4 // 4 = "  " + frame + " "
	if padding < 2 {
		padding = 2
	}
	line += strings.Repeat(" ", padding) + timeStr

	fmt.Print(line)
}

// redrawSpinnerLine redraws the spinner line (and logs in verbose mode).
func (p *ProgressDisplay) redrawSpinnerLine() {
	if !p.isTTY {
		return
	}

	fmt.Print("\r\033[K")
	for i := 0; i < len(p.currentLogs); i++ {
		fmt.Print("\033[A\033[K")
	}

	p.renderSpinnerLine()

	for _, log := range p.currentLogs {
		fmt.Printf("\n    %s %s", Muted.Render("│"), log)
	}
}

// printCompletedTask prints a completed task line.
func (p *ProgressDisplay) printCompletedTask(taskName, status string, cost float64, accuracy string, duration time.Duration) {
	var symbol string
	switch status {
	case "success":
		symbol = StatusOK.Render(SymbolOK)
	case "error", "failed":
		symbol = StatusError.Render(SymbolError)
	case "skipped":
		symbol = Muted.Render("-")
	default:
		symbol = StatusOK.Render(SymbolOK)
	}

	costStr := formatCostValue(cost, accuracy)
	durationStr := formatDuration(duration)

	maxNameLen := 35
	nameLen := len(taskName)
	if nameLen > maxNameLen {
		taskName = taskName[:maxNameLen-3] + "..."
		nameLen = maxNameLen
	}
	padding := maxNameLen - nameLen
	if padding < 1 {
		padding = 1
	}

	fmt.Printf("  %s %s%s%s  %s\n",
		symbol,
		taskName,
		strings.Repeat(" ", padding),
		costStr,
		Muted.Render("("+durationStr+")"),
	)
}

// formatCostValue formats a cost value with accuracy indicator.
func formatCostValue(cost float64, accuracy string) string {
	if accuracy == "unavailable" || cost == 0 {
		return Muted.Render("--")
	}

	prefix := ""
	if accuracy == "estimated" {
		prefix = "~"
	}

	return fmt.Sprintf("%s$%.2f", prefix, cost)
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	d = d.Round(100 * time.Millisecond)
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := d.Seconds() - float64(minutes*60)
	return fmt.Sprintf("%dm %.0fs", minutes, seconds)
}
