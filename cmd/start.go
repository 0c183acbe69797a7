package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/lrcp/internal/env"
	"github.com/luma/lrcp/storage"
	"github.com/luma/lrcp/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for LRCP datagrams on
	port int

	// Log every datagram and statistics update
	trace bool
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 7363, "The UDP port to listen for LRCP clients on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.BoolVar(&trace, "trace", false, "Log every datagram and statistics update, implies debug logging")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the lrcp line reversal server",
	Long: `Start up the lrcp line reversal server

Usage
	lrcp start --port 7363 --http-port 7362

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		level := conf.LogLevel
		if trace {
			level = "debug"
		}

		log, err := env.MakeLogger(level)
		if err != nil {
			return err
		}
		defer func() {
			_ = log.Sync()
		}()

		store := storage.NewInmemoryStore()
		defer store.Close()

		if trace {
			go logUpdates(store.ListenToUpdates(), log.Named("store"))
		}

		router := setupRouter(conf.DebugHTTP, log.Named("http"))
		registerAdminRoutes(router, store)

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		udp := transport.NewUDP(transport.Options{
			Host:               host,
			Port:               port,
			Reuseport:          true,
			Trace:              trace,
			MailboxSize:        conf.MailboxSize,
			RetransmitInterval: conf.RetransmitInterval,
			ExpiryInterval:     conf.ExpiryInterval,
			ClosedSessionTTL:   conf.ClosedSessionTTL,
			Store:              store,
			Log:                log.Named("transport"),
		})

		if err := udp.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("host", host),
			zap.Int("port", port),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// Sessions get their closes out before the admin endpoints go away
		if err := udp.Close(); err != nil {
			log.Error("UDP server forced to shutdown", zap.Error(err))
		}

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

// logUpdates logs every statistics change until the store is closed.
func logUpdates(updates <-chan *storage.Update, log *zap.Logger) {
	for update := range updates {
		if update.Value == nil {
			log.Debug("Deleted", zap.ByteString("key", update.Key))
			continue
		}

		log.Debug("Updated",
			zap.ByteString("key", update.Key),
			zap.ByteString("value", update.Value))
	}
}
