package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lastmile/app"
	"github.com/kilianp07/lastmile/core/dispatch/logging"
)

var logsQuery struct {
	since   time.Duration
	vehicle string
	order   string
	source  string
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print assignment log records as JSON lines",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

func init() {
	f := logsCmd.Flags()
	f.DurationVar(&logsQuery.since, "since", 0, "only records newer than this duration")
	f.StringVar(&logsQuery.vehicle, "vehicle", "", "filter by vehicle id")
	f.StringVar(&logsQuery.order, "order", "", "filter by order id")
	f.StringVar(&logsQuery.source, "source", "", "filter by source")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := app.OpenLogStore(cfg.Logging)
	if err != nil {
		return fmt.Errorf("log store: %w", err)
	}
	if store == nil {
		return errors.New("assignment logging is disabled")
	}
	defer store.Close()

	q := logging.LogQuery{VehicleID: logsQuery.vehicle, OrderID: logsQuery.order, Source: logsQuery.source}
	if logsQuery.since > 0 {
		q.Start = time.Now().Add(-logsQuery.since)
	}
	recs, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
