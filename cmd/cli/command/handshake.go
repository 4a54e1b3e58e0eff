package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"ptzserver/internal/microservices/tcp"
	"ptzserver/internal/protocol"
)

var (
	handshakeFormat  string
	handshakeCount   int
	handshakeTimeout time.Duration
	handshakeStrict  bool
)

// handshakeCmd runs the client side of the handshake
var handshakeCmd = &cobra.Command{
	Use:   "handshake",
	Short: "Run the client handshake against a server",
	Long: `Connect to the server, read its hello, answer with version and magic and
wait for the server to close the connection.

With --count N the handshake runs N times in parallel, which is a quick way to
check that the server keeps up with concurrent clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := protocol.CodecByName(handshakeFormat)
		if err != nil {
			return err
		}
		opts := tcp.DialOptions{
			Version:             version,
			Magic:               magic,
			Codec:               codec,
			Timeout:             handshakeTimeout,
			RequireVersionMatch: handshakeStrict,
		}

		if handshakeCount <= 1 {
			start := time.Now()
			hello, err := tcp.Handshake(cmd.Context(), serverAddr, opts)
			if err != nil {
				return fmt.Errorf("handshake with %s failed: %w", serverAddr, err)
			}
			fmt.Printf("✓ Handshake with %s completed in %s\n", serverAddr, time.Since(start).Round(time.Millisecond))
			fmt.Printf("   Server hello: %v\n", map[string]any(hello))
			return nil
		}

		return runParallelHandshakes(cmd.Context(), opts)
	},
}

func runParallelHandshakes(ctx context.Context, opts tcp.DialOptions) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	start := time.Now()
	for i := 0; i < handshakeCount; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := tcp.Handshake(ctx, serverAddr, opts); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				fmt.Printf("✗ #%d: %v\n", n, err)
			}
		}(i)
	}
	wg.Wait()

	fmt.Printf("%d/%d handshakes completed in %s\n",
		handshakeCount-failed, handshakeCount, time.Since(start).Round(time.Millisecond))
	if failed > 0 {
		return fmt.Errorf("%d handshakes failed", failed)
	}
	return nil
}

func init() {
	handshakeCmd.Flags().StringVar(&handshakeFormat, "format", protocol.FormatJSON, "wire format of the client hello (json|cbor)")
	handshakeCmd.Flags().IntVar(&handshakeCount, "count", 1, "number of parallel handshakes")
	handshakeCmd.Flags().DurationVar(&handshakeTimeout, "timeout", 10*time.Second, "overall timeout per handshake")
	handshakeCmd.Flags().BoolVar(&handshakeStrict, "strict", false, "abort when the server announces another version")
}
