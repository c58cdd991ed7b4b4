package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/malbeclabs/latencymap/internal/metrics"
	"github.com/malbeclabs/latencymap/internal/server"
	"github.com/malbeclabs/latencymap/internal/sink"
	"github.com/malbeclabs/latencymap/internal/tracing"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultListenAddr = ":8080"

type ServeCmd struct{}

func NewServeCmd() *ServeCmd {
	return &ServeCmd{}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh controller and serve the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr, err := cmd.Flags().GetString("listen")
			if err != nil {
				return fmt.Errorf("failed to get listen flag: %w", err)
			}
			if !cmd.Flags().Changed("listen") {
				if addr := os.Getenv(envListenAddr); addr != "" {
					listenAddr = addr
				}
			}
			trace, err := cmd.Flags().GetBool("trace")
			if err != nil {
				return fmt.Errorf("failed to get trace flag: %w", err)
			}
			origins, err := cmd.Flags().GetStringSlice("allowed-origin")
			if err != nil {
				return fmt.Errorf("failed to get allowed-origin flag: %w", err)
			}

			log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			httpClient := &http.Client{}
			var middleware func(http.Handler) http.Handler
			if trace {
				shutdown, err := tracing.Init(ctx, tracing.Config{Version: version, Writer: cmd.ErrOrStderr()})
				if err != nil {
					return fmt.Errorf("failed to initialize tracing: %w", err)
				}
				defer func() {
					if err := shutdown(context.Background()); err != nil {
						log.Warn("serve: failed to shut down tracing", "error", err)
					}
				}()
				httpClient.Transport = tracing.Transport(http.DefaultTransport)
				middleware = tracing.Middleware
			}

			p, err := newPipeline(log, cfg, httpClient)
			if err != nil {
				return err
			}
			defer p.Close()

			srv, err := server.NewServer(&server.ServerConfig{
				Logger:         log,
				Dashboard:      p.controller,
				Config:         cfg,
				Middleware:     middleware,
				AllowedOrigins: origins,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			g, ctx := errgroup.WithContext(ctx)

			if influxCfg := sink.InfluxConfigFromEnv(); influxCfg.Enabled() {
				api, closeInflux := sink.NewInfluxWriteAPI(influxCfg)
				defer closeInflux()
				s, err := sink.New(log, api)
				if err != nil {
					return fmt.Errorf("failed to create sink: %w", err)
				}
				updates, unsubscribe := p.controller.Subscribe()
				defer unsubscribe()
				log.Info("serve: influx sink enabled", "url", influxCfg.URL, "bucket", influxCfg.Bucket)
				g.Go(func() error {
					s.Run(ctx, updates)
					return nil
				})
			}

			listener, err := net.Listen("tcp", listenAddr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
			}

			g.Go(func() error {
				return p.controller.Run(ctx)
			})
			g.Go(func() error {
				return srv.Serve(ctx, listener)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("serve: stopped with error", "error", err)
				return err
			}
			log.Info("serve: stopped")
			return nil
		},
	}

	cmd.Flags().String("listen", defaultListenAddr, "Address to listen on (overridden by "+envListenAddr+" when unset)")
	cmd.Flags().Bool("trace", false, "Export OpenTelemetry traces for API and proxy requests to stderr")
	cmd.Flags().StringSlice("allowed-origin", nil, "Extra origins allowed to open the websocket stream")

	return cmd
}
