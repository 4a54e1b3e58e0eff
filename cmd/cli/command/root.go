package command

// root.go defines the root command for ptzctl and the global flags.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ptzserver/internal/microservices/tcp"
)

var (
	serverAddr string  // TCP address of the ptz server
	adminURL   string  // base URL of the admin API
	token      string  // admin bearer token (jwt)
	magic      string  // identity marker sent in the client hello
	version    float64 // protocol version sent in the client hello
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ptzctl",
	Short: "ptzctl - client and operator tool for the ptz server",
	Long: `ptzctl talks to a ptz server the way a camera client does, and to its
admin API the way an operator does. It can:
- Run the client handshake against a server
- Listen for discovery announcements on the local network
- Show server status and connected clients
- Disconnect a client or stop the server (needs an admin token)

Use "ptzctl command --help" to see the flags of a command.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultServer := fmt.Sprintf("localhost:%d", tcp.DefaultPort)
	if v := os.Getenv("PTZ_SERVER_ADDR"); v != "" {
		defaultServer = v
	}
	defaultAdmin := "http://127.0.0.1:8090"
	if v := os.Getenv("PTZ_ADMIN_URL"); v != "" {
		defaultAdmin = v
	}

	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer, "ptz server TCP address (host:port)")
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin", defaultAdmin, "admin API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("PTZ_ADMIN_TOKEN"), "admin API bearer token")
	rootCmd.PersistentFlags().StringVar(&magic, "magic", tcp.Magic, "identity marker")
	rootCmd.PersistentFlags().Float64Var(&version, "protocol-version", tcp.ProtocolVersion, "protocol version")

	rootCmd.AddCommand(handshakeCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clientsCmd)
	rootCmd.AddCommand(handshakesCmd)
	rootCmd.AddCommand(kickCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(tokenCmd)
}
