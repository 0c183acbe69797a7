package cmd

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/lrcp/client"
	"github.com/luma/lrcp/internal/env"
)

var (
	// Address of the server to connect to
	serverAddr string

	// Session id to use, 0 picks one at random
	sessionID uint32

	connectTimeout time.Duration
)

func init() {
	flags := ClientCmd.PersistentFlags()

	flags.StringVar(&serverAddr, "addr", "127.0.0.1:7363", "The address of the lrcp server")
	flags.Uint32Var(&sessionID, "session", 0, "The session id to use, random when 0")
	flags.DurationVar(&connectTimeout, "connect-timeout", 30*time.Second, "How long to wait for the server to accept the session")
}

var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send lines from stdin to an lrcp server and print the replies",
	Long: `Send lines from stdin to an lrcp server and print the replies

Usage
	echo hello | lrcp client --addr 127.0.0.1:7363

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer func() {
			_ = log.Sync()
		}()

		id := sessionID
		if id == 0 {
			id = rand.Uint32()
		}

		conn := client.New(log.Named("client"), client.Options{
			RetransmitInterval: conf.RetransmitInterval,
			ExpiryInterval:     conf.ExpiryInterval,
		})
		defer conn.Close()

		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		if err := conn.Connect(connectCtx, serverAddr, id); err != nil {
			return fmt.Errorf("Failed to connect to %s: %w", serverAddr, err)
		}

		log.Info("Connected", zap.String("addr", serverAddr), zap.Uint32("session", id))

		// Count lines so we know when every reply is in
		sent := make(chan int, 1)
		go func() {
			lines := 0
			scanner := bufio.NewScanner(os.Stdin)

			for scanner.Scan() {
				if _, err := conn.Write(append(scanner.Bytes(), '\n')); err != nil {
					log.Error("Failed to write line", zap.Error(err))
					break
				}
				lines++
			}

			if err := scanner.Err(); err != nil {
				log.Error("Failed to read stdin", zap.Error(err))
			}

			sent <- lines
		}()

		received, expected := 0, -1
		for expected < 0 || received < expected {
			select {
			case line := <-conn.Lines():
				fmt.Print(line)
				received++

			case expected = <-sent:

			case <-conn.Closed():
				return fmt.Errorf("Server closed session %d", id)

			case <-ctx.Done():
				return nil
			}
		}

		return conn.Close()
	},
}
