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

package run

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tombee/taskbench/internal/commands/shared"
	"github.com/tombee/taskbench/internal/dataset"
)

// summaryOutput is the run command's JSON response shape: the run ID, the
// bundle's total cost and per-model usage, plus the per-task result kinds
// the bundle's flattened Results map no longer distinguishes. The rest of
// the bundle is only in the file at the run's upload path.
type summaryOutput struct {
	RunID      string                    `json:"run_id"`
	TotalCost  float64                   `json:"total_cost"`
	TotalUsage map[string]any            `json:"total_usage"`
	TaskCounts map[string]int            `json:"task_counts"`
	Results    map[string]dataset.TaskResult `json:"-"`
}

// printResult renders a finished run's summary to stdout, as JSON when
// --json was requested and as a short human-readable report otherwise. A
// dry-run Result (nil Bundle) is a no-op here; dryRun already printed its
// own report.
func printResult(res *Result) error {
	if res.Bundle == nil {
		return nil
	}

	counts := taskCounts(res.Results)

	if shared.GetJSON() {
		usage := make(map[string]any, len(res.Bundle.TotalUsage))
		for model, u := range res.Bundle.TotalUsage {
			usage[model] = u
		}
		out := summaryOutput{
			RunID:      res.RunID,
			TotalCost:  res.Bundle.TotalCost,
			TotalUsage: usage,
			TaskCounts: counts,
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	fmt.Println()
	fmt.Println(shared.Header.Render("Run " + res.RunID))
	fmt.Printf("  %s succeeded, %s errored, %s timed out\n",
		shared.RenderOK(fmt.Sprintf("%d", counts[string(dataset.ResultSuccess)])),
		shared.RenderError(fmt.Sprintf("%d", counts[string(dataset.ResultError)])),
		shared.RenderWarn(fmt.Sprintf("%d", counts[string(dataset.ResultTimeout)])))
	fmt.Printf("  Cost: $%.4f\n", res.Bundle.TotalCost)

	if len(res.Bundle.TotalUsage) > 0 {
		models := make([]string, 0, len(res.Bundle.TotalUsage))
		for model := range res.Bundle.TotalUsage {
			models = append(models, model)
		}
		sort.Strings(models)
		fmt.Println("  Usage:")
		for _, model := range models {
			u := res.Bundle.TotalUsage[model]
			fmt.Printf("    %s: %d in / %d out tokens, $%.4f\n", model, u.PromptTokens, u.CompletionTokens, u.CostUSD)
		}
	}

	fmt.Printf("  Results bundle: %s\n", res.Dir.UploadPath("json"))
	return nil
}

func taskCounts(results map[string]dataset.TaskResult) map[string]int {
	counts := map[string]int{
		string(dataset.ResultSuccess): 0,
		string(dataset.ResultError):   0,
		string(dataset.ResultTimeout): 0,
	}
	for _, r := range results {
		counts[string(r.Kind)]++
	}
	return counts
}
