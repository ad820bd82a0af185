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

package runs

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/tombee/taskbench/internal/commands/shared"
	"github.com/tombee/taskbench/internal/runregistry"
)

func printRunList(runsFound []runregistry.Run) error {
	if shared.GetJSON() {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(runsFound)
	}

	if len(runsFound) == 0 {
		fmt.Println(shared.Muted.Render("no runs recorded"))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, shared.RenderLabel("RUN ID")+"\t"+shared.RenderLabel("BENCHMARK")+"\t"+
		shared.RenderLabel("STATUS")+"\t"+shared.RenderLabel("TASKS")+"\t"+
		shared.RenderLabel("COST")+"\t"+shared.RenderLabel("STARTED"))
	for _, run := range runsFound {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t$%.4f\t%s\n",
			run.RunID, run.Benchmark, statusLabel(run.Status),
			run.CompletedCount, run.TaskCount, run.TotalCost,
			run.StartedAt.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func printRun(run runregistry.Run) error {
	if shared.GetJSON() {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(run)
	}

	fmt.Println(shared.Header.Render("Run " + run.RunID))
	fmt.Printf("  %s %s\n", shared.RenderLabel("Benchmark:"), run.Benchmark)
	fmt.Printf("  %s %s\n", shared.RenderLabel("Agent:"), run.AgentName)
	fmt.Printf("  %s %s\n", shared.RenderLabel("Execution mode:"), run.ExecutionMode)
	fmt.Printf("  %s %s\n", shared.RenderLabel("Status:"), statusLabel(run.Status))
	fmt.Printf("  %s %d/%d\n", shared.RenderLabel("Tasks completed:"), run.CompletedCount, run.TaskCount)
	fmt.Printf("  %s $%.4f\n", shared.RenderLabel("Total cost:"), run.TotalCost)
	fmt.Printf("  %s %s\n", shared.RenderLabel("Started:"), run.StartedAt.Local().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Printf("  %s %s\n", shared.RenderLabel("Completed:"), run.CompletedAt.Local().Format(time.RFC3339))
	}
	return nil
}

func statusLabel(status string) string {
	switch status {
	case runregistry.StatusCompleted:
		return shared.RenderOK(status)
	case runregistry.StatusFailed:
		return shared.RenderError(status)
	case runregistry.StatusIncomplete:
		return shared.RenderWarn(status)
	default:
		return status
	}
}
