package cmd

import (
	"fmt"

	"github.com/ihavespoons/ctxai/internal/dashboard"
	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// dashboardCmd represents the dashboard command
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the dashboard API",
	Long: `Start a local HTTP server exposing the indexes as JSON.

Endpoints:
  GET    /api/health
  GET    /api/indexes
  GET    /api/indexes/{name}
  GET    /api/indexes/{name}/search?q=&n=&mode=&lang=&kind=&file=&format=
  DELETE /api/indexes/{name}
  GET    /api/events`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		host, _ := cmd.Flags().GetString("host")
		open, _ := cmd.Flags().GetBool("open")

		manager := openManager()
		defer func() { _ = manager.Close() }()

		server := dashboard.NewServer(manager, Version)
		addr := fmt.Sprintf("%s:%d", host, port)
		url := fmt.Sprintf("http://%s:%d/api/indexes", displayHost(host), port)

		if jsonOutput {
			if err := outputJSON(map[string]interface{}{
				"url":  url,
				"port": port,
				"home": manager.Home().Path,
			}); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
		} else {
			fmt.Printf("Starting dashboard at %s\n", url)
			fmt.Printf("Home: %s\n", manager.Home().Path)
			fmt.Println("\nPress Ctrl+C to stop")
		}

		if open {
			go func() {
				if err := browser.OpenURL(url); err != nil {
					logrus.WithError(err).Warn("failed to open browser")
				}
			}()
		}

		ctx, cancel := signalContext()
		defer cancel()

		if err := server.Start(ctx, addr); err != nil {
			exitError("server error: %v", err)
		}
	},
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}

func init() {
	rootCmd.AddCommand(dashboardCmd)

	dashboardCmd.Flags().IntP("port", "p", dashboard.DefaultPort, "Port to run dashboard on")
	dashboardCmd.Flags().String("host", "127.0.0.1", "Address to bind")
	dashboardCmd.Flags().Bool("open", false, "Open the index list in a browser")
}
