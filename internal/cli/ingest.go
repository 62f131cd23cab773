package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"patient-assistant/internal/bootstrap"
)

const maxJSONLLine = 4 << 20

var (
	ingestCollection string
	ingestGlob       string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Embed JSONL knowledge items into a collection",
	Long: `Reads one JSON object per line and stores it with its embedding in the
given collection. The collection's index is rebuilt on the next query.

Example usage:
  patient-assistant ingest -c questions data/medquad.jsonl
  patient-assistant ingest -c myth_facts -g "data/**/myths*.jsonl"`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestCollection, "collection", "c", "", "target collection")
	ingestCmd.Flags().StringVarP(&ingestGlob, "glob", "g", "", "glob of JSONL files, ** allowed")
	_ = ingestCmd.MarkFlagRequired("collection")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	files, err := resolveFiles(args, ingestGlob)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no input files")
	}

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	for _, path := range files {
		items, err := readJSONL(path)
		if err != nil {
			return err
		}

		bar := progressbar.NewOptions(len(items),
			progressbar.OptionSetWriter(out),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(path),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(out)
			}),
		)
		result, err := app.Knowledge.Ingest(ctx, ingestCollection, items, func(done int) {
			_ = bar.Set(done)
		})
		_ = bar.Finish()
		if err != nil {
			return fmt.Errorf("ingest %s failed: %w", path, err)
		}
		fmt.Fprintf(out, "%s: %d ingested, %d skipped\n", path, result.Ingested, result.Skipped)
	}
	return nil
}

// resolveFiles merges explicit paths with glob matches, deduplicated and
// sorted.
func resolveFiles(paths []string, pattern string) ([]string, error) {
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		seen[p] = struct{}{}
	}
	if pattern != "" {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			seen[m] = struct{}{}
		}
	}

	files := make([]string, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	sort.Strings(files)
	return files, nil
}

func readJSONL(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", path, err)
	}
	defer f.Close()

	var items []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var item map[string]any
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("%s:%d: invalid json: %w", path, line, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s failed: %w", path, err)
	}
	return items, nil
}
