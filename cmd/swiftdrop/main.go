package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kestrel-labs/swiftdrop/internal/cliapp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	rendezvousAddr string
	outputDir      string
	auditDBPath    string
	noRTC          bool
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:  "swiftdrop",
	Long: "swiftdrop is a peer-to-peer file and text transfer daemon",
}

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "connect to a rendezvous service and exchange files with peers there",
	Long:  "run connects to a rendezvous service, announces presence, accepts inbound transfers into --out, and sends any files named on the command line to every peer that joins.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		}

		app, err := cliapp.New(cliapp.Options{
			RendezvousAddr: rendezvousAddr,
			RTCSupported:   !noRTC,
			OutputDir:      outputDir,
			AuditDBPath:    auditDBPath,
			SendFiles:      args,
			Logger:         logger,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			<-sigChan
			logger.Info("shutting down")
			cancel()
		}()

		if err := app.Run(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&rendezvousAddr, "rendezvous", "ws://localhost:8080", "rendezvous service address")
	runCmd.Flags().StringVar(&outputDir, "out", ".", "directory to write received files into")
	runCmd.Flags().StringVar(&auditDBPath, "audit-db", "swiftdrop-audit.sqlite3", "path to the transfer audit database")
	runCmd.Flags().BoolVar(&noRTC, "no-rtc", false, "disable direct RTC sessions and always relay through the rendezvous service")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
