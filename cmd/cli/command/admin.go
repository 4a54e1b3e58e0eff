package command

// admin.go = operator commands backed by the admin API.

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"ptzserver/cmd/cli/command/client"
)

var (
	handshakesLimit int
	loginSubject    string
	loginPassword   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the admin API and print a token",
	Long: `Trade the operator password for an admin token. The server must run
with ADMIN_PASSWORD_HASH set. Export the printed token as PTZ_ADMIN_TOKEN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginPassword == "" {
			loginPassword = os.Getenv("PTZ_ADMIN_PASSWORD")
		}
		if loginPassword == "" {
			return errors.New("a password is required (--password or PTZ_ADMIN_PASSWORD)")
		}
		resp, err := client.NewAdminClient(adminURL, "").Login(loginSubject, loginPassword)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Logged in, token valid until %s\n", resp.ExpiresAt.Local().Format(time.DateTime))
		fmt.Println(resp.AccessToken)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := client.NewAdminClient(adminURL, token).Status()
		if err != nil {
			return err
		}

		serving := "✗ not serving"
		if st.Serving {
			serving = "✓ serving"
		}
		fmt.Printf("Server:   %s on port %d (protocol %v)\n", serving, st.Port, st.ProtocolVersion)
		fmt.Printf("Clients:  %d\n", st.Clients)

		names := make([]string, 0, len(st.Subsystems))
		for name := range st.Subsystems {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("   %-16s %s\n", name, st.Subsystems[name])
		}

		if a := st.Announcer; a != nil {
			fmt.Printf("Announcer: active=%t sent=%d", a.Active, a.Sent)
			if a.Error != "" {
				fmt.Printf(" error=%q", a.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List connected clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.NewAdminClient(adminURL, token).Clients()
		if err != nil {
			return err
		}
		if resp.Count == 0 {
			fmt.Println("No clients connected.")
			return nil
		}
		fmt.Printf("%d client(s):\n", resp.Count)
		for _, s := range resp.Clients {
			fmt.Printf("   %s  %-22s %-10s since %s\n",
				s.ID, s.RemoteAddr, s.State, s.ConnectedAt.Format(time.TimeOnly))
		}
		return nil
	},
}

var handshakesCmd = &cobra.Command{
	Use:   "handshakes",
	Short: "Show recent handshake outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.NewAdminClient(adminURL, token).Handshakes(handshakesLimit)
		if err != nil {
			return err
		}
		fmt.Printf("verified=%d rejected=%d\n", resp.Stats["verified"], resp.Stats["rejected"])
		for _, ev := range resp.Events {
			line := fmt.Sprintf("   %s  %-22s %-8s", ev.At.Format(time.DateTime), ev.RemoteAddr, ev.Outcome)
			if ev.Reason != "" {
				line += "  " + ev.Reason
			}
			fmt.Println(line)
		}
		return nil
	},
}

var kickCmd = &cobra.Command{
	Use:   "kick <session-id>",
	Short: "Disconnect a client (admin token required)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.NewAdminClient(adminURL, token).Disconnect(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Disconnected %s\n", args[0])
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the server (admin token required)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.NewAdminClient(adminURL, token).Shutdown(); err != nil {
			return err
		}
		fmt.Println("✓ Shutdown requested")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginSubject, "subject", "operator", "name recorded in the token")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "operator password")
	handshakesCmd.Flags().IntVar(&handshakesLimit, "limit", 20, "number of events to show")
}
