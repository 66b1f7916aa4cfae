package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lastmile/core/targets"
	"github.com/kilianp07/lastmile/infra/logger"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Inspect and change driver daily targets",
}

var targetsShowCmd = &cobra.Command{
	Use:   "show <driver>...",
	Short: "Print the progress of drivers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTargetsShow,
}

var (
	setDeliveries int
	setRevenue    float64
)

var targetsSetCmd = &cobra.Command{
	Use:   "set <driver>",
	Short: "Set the daily goals of a driver",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetsSet,
}

var targetsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the daily counters of every known driver",
	Args:  cobra.NoArgs,
	RunE:  runTargetsReset,
}

func init() {
	targetsSetCmd.Flags().IntVar(&setDeliveries, "deliveries", 0, "daily delivery goal")
	targetsSetCmd.Flags().Float64Var(&setRevenue, "revenue", 0, "daily revenue goal")
	targetsCmd.AddCommand(targetsShowCmd, targetsSetCmd, targetsResetCmd)
	rootCmd.AddCommand(targetsCmd)
}

func openTracker() (*targets.Tracker, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := targets.NewStore(cfg.Targets)
	if err != nil {
		return nil, nil, fmt.Errorf("target store: %w", err)
	}
	closeFn := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return targets.NewTracker(store, logger.New("targets")), closeFn, nil
}

func runTargetsShow(cmd *cobra.Command, args []string) error {
	tr, closeFn, err := openTracker()
	if err != nil {
		return err
	}
	defer closeFn()
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, id := range args {
		p, err := tr.GetProgress(cmd.Context(), id)
		if errors.Is(err, targets.ErrNotFound) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: no targets\n", id)
			continue
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

func runTargetsSet(cmd *cobra.Command, args []string) error {
	if setDeliveries < 0 || setRevenue < 0 {
		return errors.New("goals must not be negative")
	}
	tr, closeFn, err := openTracker()
	if err != nil {
		return err
	}
	defer closeFn()
	t, err := tr.SetTargets(cmd.Context(), args[0], targets.Targets{Deliveries: setDeliveries, Revenue: setRevenue})
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(t)
}

func runTargetsReset(cmd *cobra.Command, args []string) error {
	tr, closeFn, err := openTracker()
	if err != nil {
		return err
	}
	defer closeFn()
	n, err := tr.ResetAll(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset %d drivers\n", n)
	return nil
}
