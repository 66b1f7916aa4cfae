package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lastmile/app"
	"github.com/kilianp07/lastmile/core/model"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize [request.json]",
	Short: "Run one optimisation and print the response",
	Long:  "Reads an optimisation request from the given file, or from stdin when none is given, and prints the response as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOptimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		in = f
	}
	var req model.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	m, err := app.NewManager(cfg)
	if err != nil {
		return err
	}
	resp, err := m.Optimize(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
