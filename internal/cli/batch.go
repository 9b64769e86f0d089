package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/ppiankov/petitrace/internal/worker"
	"github.com/spf13/cobra"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Extract and report many projects in parallel",
	Long: `Batch processes several projects concurrently:
- Read projects from the input file, one per line: <project> <document...>
- Extract each project's documents (already extracted ones are skipped)
- Write a JSON and a Markdown readiness report per project

Lines starting with # are ignored.

Example:
  petitrace batch cases.txt
  petitrace batch cases.txt --concurrency 4 --output-dir ./reports`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./petitrace-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
}

// batchEntry is one input line
type batchEntry struct {
	Project   string
	Documents []string
}

// batchResult is the outcome for one project
type batchResult struct {
	Project string
	Report  *model.Report
	Err     error
}

func (r batchResult) GetError() error { return r.Err }

// readBatchFile parses <project> <document...> lines
func readBatchFile(path string) ([]batchEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []batchEntry
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%s:%d: expected <project> <document...>", path, line)
		}
		entries = append(entries, batchEntry{Project: fields[0], Documents: fields[1:]})
	}
	return entries, scanner.Err()
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	entries, err := readBatchFile(file)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Petitrace Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Projects:     %d\n", len(entries))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	jobs := make([]worker.Job, len(entries))
	for i, e := range entries {
		e := e
		jobs[i] = worker.FuncJob(func(ctx context.Context) worker.Result {
			return processProject(ctx, svc, e)
		})
	}

	successCount := 0
	failureCount := 0
	renderer := svc.Renderer()
	for i, r := range worker.Run(ctx, concurrency, jobs) {
		result, ok := r.(batchResult)
		if !ok {
			result = batchResult{Project: entries[i].Project, Err: r.GetError()}
		}
		if result.Err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Project, result.Err)
			continue
		}

		slug := sanitizeFilename(result.Project)
		jsonPath := filepath.Join(outputDir, slug+".json")
		mdPath := filepath.Join(outputDir, slug+".md")
		if err := renderer.RenderJSON(result.Report, jsonPath); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", result.Project, err)
			continue
		}
		if err := renderer.RenderMarkdown(result.Report, mdPath); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write Markdown: %v\n", result.Project, err)
			continue
		}

		successCount++
		fmt.Fprintf(os.Stderr, "✓ %s (readiness: %d/100, stage: %s)\n", result.Project, result.Report.Score.Index, result.Report.Stage)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d projects\n", len(entries))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if failureCount > 0 {
		return fmt.Errorf("%d of %d projects failed", failureCount, len(entries))
	}
	return nil
}

func processProject(ctx context.Context, svc *pipeline.Service, e batchEntry) batchResult {
	if _, err := svc.Extract(ctx, e.Project, pipeline.ExtractRequest{DocumentIDs: e.Documents}); err != nil {
		return batchResult{Project: e.Project, Err: err}
	}
	report, err := svc.Report(ctx, e.Project)
	return batchResult{Project: e.Project, Report: report, Err: err}
}

// sanitizeFilename makes a project id safe to use as a file name
func sanitizeFilename(s string) string {
	s = strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "-",
	).Replace(s)
	s = filepath.Base(filepath.Clean(s))

	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
