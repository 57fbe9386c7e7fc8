package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrel-labs/swiftdrop/internal/rendezvous"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	addr         string
	pingInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "rendezvousd",
	Short: "runs the swiftdrop rendezvous service",
	Long:  "rendezvousd announces presence of co-located peers and relays signaling (and, in fallback mode, session frames) between them.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := logrus.New()
		srv := rendezvous.NewServer(rendezvous.ServerConfig{
			Addr:         addr,
			PingInterval: pingInterval,
			Logger:       logger,
		})

		mux := http.NewServeMux()
		mux.HandleFunc("/webrtc", srv.Handler(true))
		mux.HandleFunc("/fallback", srv.Handler(false))

		httpSrv := &http.Server{Addr: addr, Handler: mux}

		go func() {
			logger.Infof("rendezvous service listening on %s", addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatalf("rendezvous service exited: %v", err)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down rendezvous service")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	rootCmd.Flags().DurationVar(&pingInterval, "ping-interval", 30*time.Second, "interval between server-initiated pings")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
