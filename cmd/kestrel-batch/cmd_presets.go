package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/presets"
)

func newPresetsCommand() *cobra.Command {
	var presetsFile, tenant, output string

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List scoring presets or export them to YAML",
		Long: `List the built-in scoring presets, plus any loaded from --presets-file.

With --output the presets are written to a YAML file that run accepts as
--presets-file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := presets.NewStore()
			if presetsFile != "" {
				if err := store.LoadFile(tenant, presetsFile); err != nil {
					return err
				}
			}

			if output != "" {
				if err := store.SaveFile(tenant, output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Presets written: %s\n", output)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tASSET\tMARKET\tCAPITAL\tSTRATEGIC\tFINANCIAL\tREGULATORY\tDISCOUNT")
			for _, p := range store.List(tenant) {
				wt := p.Weights
				fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
					p.Name, wt.AssetQuality, wt.MarketOutlook, wt.CapitalIntensity,
					wt.StrategicFit, wt.FinancialReadiness, wt.RegulatoryRisk, p.DiscountRate)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&presetsFile, "presets-file", "", "YAML file with additional scoring presets")
	cmd.Flags().StringVar(&tenant, "tenant", "batch", "Tenant the presets belong to")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Export presets to a YAML file")

	return cmd
}
