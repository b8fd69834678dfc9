package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/weft/internal/telemetry"
)

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "View the JSONL telemetry stream",
	Long: `Reads and formats the telemetry file in the state directory.

With --session, only events of that session are shown.
With --follow (-f), watches the file for new events (like tail -f).`,
	Args: cobra.NoArgs,
	RunE: runTelemetry,
}

func init() {
	telemetryCmd.Flags().String("session", "", "only show events of this session")
	telemetryCmd.Flags().BoolP("follow", "f", false, "follow the file for new events")
	rootCmd.AddCommand(telemetryCmd)
}

func runTelemetry(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	session, _ := cmd.Flags().GetString("session")
	follow, _ := cmd.Flags().GetBool("follow")

	path := cfg.TelemetryPath()
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	defer f.Close()

	w := cmd.OutOrStdout()
	// Print all existing events.
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		printEvent(w, line, session)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("telemetry: read %s: %w", path, err)
	}

	if !follow {
		return nil
	}

	return tailFollow(cmd.Context(), w, f, path, session)
}

// tailFollow watches the file for new data using fsnotify and prints new
// events until ctx is done.
func tailFollow(ctx context.Context, w io.Writer, f *os.File, path, session string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("telemetry: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("telemetry: watch %s: %w", path, err)
	}

	reader := bufio.NewReader(f)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == 0 {
				continue
			}
			// Read all new lines available.
			for {
				line, err := reader.ReadString('\n')
				line = strings.TrimSpace(line)
				if line != "" {
					printEvent(w, line, session)
				}
				if err != nil {
					break
				}
			}
		}
	}
}

// printEvent decodes a JSONL line and prints a human-readable representation.
// Events of sessions other than session are skipped when session is set.
func printEvent(w io.Writer, line, session string) {
	var evt telemetry.Event
	if err := json.Unmarshal([]byte(line), &evt); err != nil {
		fmt.Fprintf(w, "??? %s\n", line)
		return
	}
	if session != "" && evt.Session != session {
		return
	}

	ts := evt.Timestamp.Format(time.TimeOnly)
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", ts))
	parts = append(parts, evt.Kind)

	if evt.Session != "" {
		parts = append(parts, fmt.Sprintf("session=%s", evt.Session))
	}
	if evt.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", evt.Key))
	}
	if evt.Data != nil {
		if m, ok := evt.Data.(map[string]any); ok {
			parts = append(parts, formatDataMap(m))
		} else {
			data, _ := json.Marshal(evt.Data)
			parts = append(parts, string(data))
		}
	}

	fmt.Fprintln(w, strings.Join(parts, " "))
}

// formatDataMap formats a data map as key=value pairs sorted by key.
func formatDataMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, m[k])
	}
	return b.String()
}
