package cli

import (
	"fmt"
	"io"

	"github.com/malbeclabs/latencymap/internal/config"
	"github.com/spf13/cobra"
)

type LocationsCmd struct{}

func NewLocationsCmd() *LocationsCmd {
	return &LocationsCmd{}
}

func (c *LocationsCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "locations",
		Short: "Print the configured locations, fallback regions and known exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			printLocations(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printLocations(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Hub:", cfg.Hub.Code, "-", cfg.Hub.Name)
	fmt.Fprintln(w, "Latency URL:", cfg.Proxy.LatencyURL)
	fmt.Fprintln(w, "Metadata URL:", cfg.Proxy.MetadataURL)

	table := newTable(w)
	table.SetHeader([]string{"Location", "Provider", "Fallback\nName", "Latitude", "Longitude"})
	for _, code := range cfg.Locations {
		row := []string{code, cfg.ProviderForRegion(code), "-", "-", "-"}
		if r, ok := cfg.FallbackRegion(code); ok {
			row[2] = r.Name
			row[3] = fmt.Sprintf("%.4f", r.Latitude)
			row[4] = fmt.Sprintf("%.4f", r.Longitude)
		}
		table.Append(row)
	}
	table.Render()

	table = newTable(w)
	table.SetHeader([]string{"Exchange", "Name", "Region", "Provider", "Status", "Latitude", "Longitude"})
	for _, ex := range cfg.Exchanges {
		table.Append([]string{
			ex.ID,
			ex.Name,
			ex.Region,
			ex.Provider,
			ex.Status,
			fmt.Sprintf("%.4f", ex.Latitude),
			fmt.Sprintf("%.4f", ex.Longitude),
		})
	}
	table.Render()
}
