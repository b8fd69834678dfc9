package cmd

import (
	"encoding/json"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/weft/internal/status"
	"github.com/papapumpkin/weft/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent generation history",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Int("limit", 20, "number of transitions to show")
	statusCmd.Flags().Bool("latest", false, "show only the latest state of each template")
	statusCmd.Flags().Bool("json", false, "output history as JSON to stdout")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	printer := ui.New(os.Stderr, cfg.Root, cfg.Verbose)

	h, err := status.OpenHistory(cmd.Context(), cfg.HistoryPath(), printer)
	if err != nil {
		printer.Error(err.Error())
		return err
	}
	defer h.Close()

	var reports []status.Report
	if latest, _ := cmd.Flags().GetBool("latest"); latest {
		reports, err = h.LatestPerKey(cmd.Context())
	} else {
		limit, _ := cmd.Flags().GetInt("limit")
		reports, err = h.Recent(cmd.Context(), limit)
		slices.Reverse(reports)
	}
	if err != nil {
		printer.Error(err.Error())
		return err
	}

	if jsonFlag, _ := cmd.Flags().GetBool("json"); jsonFlag {
		return writeStatusJSON(cmd.OutOrStdout(), reports)
	}
	printer.History(reports)
	return nil
}

// statusJSON is one history entry in --json output.
type statusJSON struct {
	Key     string    `json:"key"`
	State   string    `json:"state"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// writeStatusJSON encodes reports as a JSON array to the given writer.
func writeStatusJSON(w io.Writer, reports []status.Report) error {
	out := make([]statusJSON, len(reports))
	for i, r := range reports {
		out[i] = statusJSON{
			Key:     r.Key,
			State:   r.Status.String(),
			Message: r.Message,
			At:      r.At,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
