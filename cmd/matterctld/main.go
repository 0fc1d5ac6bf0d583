package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"matterctl/internal/logging"
)

const version = "0.1.0"

func main() {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var debug bool
	var socketOverride string
	var dataRootOverride string
	var vendorID uint16
	var productID uint16

	cmd := &cobra.Command{
		Use:     "matterctld",
		Short:   "Matter controller-core daemon",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, runOptions{
				socketOverride:   socketOverride,
				dataRootOverride: dataRootOverride,
				vendorID:         vendorID,
				productID:        productID,
			})
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&socketOverride, "socket", "", "Control-plane Unix socket path (overrides engine.yaml)")
	cmd.Flags().StringVar(&dataRootOverride, "data-root", "", "State/cache directory (overrides engine.yaml)")
	cmd.Flags().Uint16Var(&vendorID, "vendor-id", 0xFFF1, "Default vendor ID for generated commissioning windows")
	cmd.Flags().Uint16Var(&productID, "product-id", 0x8000, "Default product ID for generated commissioning windows")
	return cmd
}
