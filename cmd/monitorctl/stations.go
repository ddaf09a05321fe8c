package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sodav/monitor-core/internal/database"
	"github.com/sodav/monitor-core/internal/models"
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "List and manage monitored stations",
}

var stationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every station and its current status",
	RunE: func(cmd *cobra.Command, args []string) error {
		connectDB()
		defer database.Close()
		return listStations()
	},
}

var stationsAddCmd = &cobra.Command{
	Use:   "add <name> <stream-url>",
	Short: "Register a new station",
	Long: `Registers a new station row as active. A running Supervisor loads
active stations only when it starts, and its health-check sweep does
not look for new rows, so the station gets a worker on the
Supervisor's next restart — monitorctl does not reach into a live process.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectDB()
		defer database.Close()
		return addStation(args[0], args[1])
	},
}

var stationsRemoveCmd = &cobra.Command{
	Use:   "remove <station-id>",
	Short: "Soft-delete a station",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectDB()
		defer database.Close()
		return removeStation(args[0])
	},
}

func init() {
	stationsCmd.AddCommand(stationsListCmd)
	stationsCmd.AddCommand(stationsAddCmd)
	stationsCmd.AddCommand(stationsRemoveCmd)
}

func listStations() error {
	var stations []models.Station
	if err := database.DB.Order("name").Find(&stations).Error; err != nil {
		return fmt.Errorf("failed to list stations: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFAILURES\tLAST CHECK")
	for _, st := range stations {
		lastCheck := "never"
		if st.LastCheckAt != nil {
			lastCheck = st.LastCheckAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", st.ID, st.Name, st.Status, st.FailureCount, lastCheck)
	}
	return nil
}

func addStation(name, streamURL string) error {
	station := &models.Station{
		Name:      name,
		StreamURL: streamURL,
		Status:    models.StationActive,
	}
	if err := database.DB.Create(station).Error; err != nil {
		return fmt.Errorf("failed to create station: %w", err)
	}
	fmt.Printf("created station %s (%s)\n", station.ID, station.Name)
	return nil
}

func removeStation(id string) error {
	result := database.DB.Where("id = ?", id).Delete(&models.Station{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove station: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no station found with id %s", id)
	}
	fmt.Printf("removed station %s\n", id)
	return nil
}
