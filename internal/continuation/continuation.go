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

// Package continuation implements the pre-dispatch Continuation Filter:
// given a dataset and a run's submissions log, it removes task IDs that
// should not be re-run.
package continuation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tombee/taskbench/internal/dataset"
)

// Filter removes already-completed task IDs from ds using the submissions
// log at logPath.
//
//   - If logPath does not exist, ds is returned unchanged.
//   - If ignoreErrors is false, every task_id whose most recent log entry is
//     a non-error result is removed; erroring tasks are retained for retry.
//   - If ignoreErrors is true, every task_id that appears in the log at all
//     is removed, committing to never re-running anything seen before.
//
// maxTasks controls how many tasks the returned dataset may contain after
// filtering: negative is unlimited, zero means no tasks are dispatched at
// all, and positive caps the returned dataset to that size.
func Filter(ds dataset.Dataset, logPath string, ignoreErrors bool, maxTasks int, logger *slog.Logger) (dataset.Dataset, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seen, erroring, err := readLog(logPath, logger)
	if err != nil {
		return nil, err
	}

	filtered := make(dataset.Dataset, len(ds))
	for taskID, task := range ds {
		if !seen[taskID] {
			filtered[taskID] = task
			continue
		}
		if ignoreErrors {
			continue
		}
		if erroring[taskID] {
			filtered[taskID] = task
		}
	}

	switch {
	case maxTasks == 0:
		filtered = dataset.Dataset{}
	case maxTasks > 0 && len(filtered) > maxTasks:
		filtered = capTasks(filtered, maxTasks)
	}

	return filtered, nil
}

// readLog parses the submissions log, returning the set of task_ids seen at
// all and the subset whose most recent entry is an error. Malformed lines
// are skipped with a warning.
func readLog(path string, logger *slog.Logger) (seen, erroring map[string]bool, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]bool{}, map[string]bool{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening submissions log %s: %w", path, err)
	}
	defer f.Close()

	seen = make(map[string]bool)
	erroring = make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record map[string]any
		if uerr := json.Unmarshal(line, &record); uerr != nil || len(record) != 1 {
			logger.Warn("skipping malformed submissions log line",
				slog.String("path", path), slog.Int("line", lineNo))
			continue
		}
		for taskID, value := range record {
			seen[taskID] = true
			if dataset.IsErrorValue(value) {
				erroring[taskID] = true
			} else {
				delete(erroring, taskID)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading submissions log %s: %w", path, err)
	}
	return seen, erroring, nil
}

// capTasks returns at most n entries from ds. Iteration order over a map is
// unspecified, which matches the dataset's documented "no semantic order"
// contract.
func capTasks(ds dataset.Dataset, n int) dataset.Dataset {
	capped := make(dataset.Dataset, n)
	for taskID, task := range ds {
		if len(capped) >= n {
			break
		}
		capped[taskID] = task
	}
	return capped
}
