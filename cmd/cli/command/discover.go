package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	udp "ptzserver/internal/microservices/udp-server"
)

var (
	discoverBind    string
	discoverPort    int
	discoverTimeout time.Duration
	discoverWatch   bool
)

// discoverCmd listens for server announcements
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Listen for ptz servers announcing themselves",
	Long: `Bind the discovery port and print every server that announces itself.

By default the command listens for --timeout and prints the hosts it found.
With --watch it keeps listening until Ctrl+C and prints hosts as they appear.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := udp.NewHostRegistry(3 * time.Minute)
		listener, err := udp.ListenDiscovery(discoverBind, discoverPort, udp.ListenerOptions{
			Magic:    magic,
			Registry: registry,
		})
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		defer listener.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if !discoverWatch {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, discoverTimeout)
			defer cancel()
		}

		fmt.Printf("🔍 Listening for announcements on %s\n\n", listener.Addr())

		for {
			found, err := listener.Next(ctx)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					break
				}
				return err
			}
			if discoverWatch {
				fmt.Printf("   %s  %-24s %s\n", found.ReceivedAt.Format(time.TimeOnly), found.Hostname, found.TCPAddr())
			}
		}

		hosts := registry.GetAll()
		if len(hosts) == 0 {
			fmt.Println("No servers found.")
			return nil
		}
		fmt.Printf("Found %d server(s):\n", len(hosts))
		for _, h := range hosts {
			fmt.Printf("   %-24s %-22s seen %d time(s), last %s\n",
				h.Hostname, h.Addr, h.Seen, h.LastSeen.Format(time.TimeOnly))
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverBind, "bind", "0.0.0.0", "local address to listen on")
	discoverCmd.Flags().IntVar(&discoverPort, "port", udp.DefaultBroadcastPort, "discovery port")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 12*time.Second, "how long to listen")
	discoverCmd.Flags().BoolVar(&discoverWatch, "watch", false, "keep listening until interrupted")
}
