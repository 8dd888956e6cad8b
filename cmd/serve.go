/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/chazu/mfhost/internal/config"
	"github.com/chazu/mfhost/internal/controller"
	"github.com/chazu/mfhost/internal/host"
	"github.com/chazu/mfhost/internal/server"
	"github.com/chazu/mfhost/pkg/resolver"
)

// ServeFlags holds the serve command's configuration
type ServeFlags struct {
	Address    string
	Watch      bool
	Kubernetes bool
	EntryKey   string
}

var serveFlags = &ServeFlags{}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the host with its ops HTTP surface",
	Long: `Seed the registry, resolve the configuration and serve the ops HTTP surface.

With --kubernetes the host reads configmap:// references through the cluster and
runs a controller that invalidates a remote when its ConfigMap entry changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	fs := serveCmd.Flags()
	fs.StringVar(&serveFlags.Address, "addr", "", "Address the ops HTTP surface listens on.")
	fs.BoolVar(&serveFlags.Watch, "watch", false, "Reload when a file static manifest changes.")
	fs.BoolVar(&serveFlags.Kubernetes, "kubernetes", false,
		"Connect to the cluster for configmap references and the remote entry controller.")
	fs.StringVar(&serveFlags.EntryKey, "entry-key", "",
		"ConfigMap key holding a remote entry. Defaults to remoteEntry.go.")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := flags.loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.ServeAddress = serveFlags.Address
	}
	if cmd.Flags().Changed("watch") {
		cfg.WatchStatic = serveFlags.Watch
	}

	ctx := commandContext(cmd)
	if serveFlags.Kubernetes {
		return serveWithManager(ctx, cfg)
	}
	return serveStandalone(ctx, cfg)
}

// serveStandalone runs the host without a cluster connection
func serveStandalone(ctx context.Context, cfg *config.Config) error {
	h, err := host.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}
	srv := server.New(cfg.ServeAddress, h)

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(srv.Start)
	p.Go(hostRunnable(h, cfg))
	return p.Wait()
}

// serveWithManager runs the host, the server and the remote entry
// controller under a controller-runtime manager
func serveWithManager(ctx context.Context, cfg *config.Config) error {
	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		// The ops server exposes metrics and health endpoints itself
		Metrics:                metricsserver.Options{BindAddress: "0"},
		HealthProbeBindAddress: "0",
		Cache: cache.Options{
			DefaultNamespaces: map[string]cache.Config{cfg.Namespace: {}},
		},
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	h, err := host.New(cfg, host.WithClient(mgr.GetClient()))
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}

	if err := (&controller.RemoteEntryReconciler{
		Client:      mgr.GetClient(),
		Invalidator: h,
		Key:         serveFlags.EntryKey,
	}).SetupWithManager(mgr); err != nil {
		return fmt.Errorf("unable to set up remote entry controller: %w", err)
	}
	if err := mgr.Add(server.New(cfg.ServeAddress, h)); err != nil {
		return fmt.Errorf("unable to add server: %w", err)
	}
	if err := mgr.Add(manager.RunnableFunc(hostRunnable(h, cfg))); err != nil {
		return fmt.Errorf("unable to add host: %w", err)
	}

	setupLog.Info("starting manager", "namespace", cfg.Namespace)
	return mgr.Start(ctx)
}

// hostRunnable starts h, then watches the static manifest when configured
// and blocks until ctx is done
func hostRunnable(h *host.Host, cfg *config.Config) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := h.Start(ctx); err != nil {
			return err
		}
		if path, ok := resolver.StaticFilePath(cfg.StaticManifest); ok && cfg.WatchStatic {
			return h.WatchStatic(ctx, path)
		}
		if cfg.WatchStatic {
			setupLog.Info("static manifest is not a file, not watching", "ref", cfg.StaticManifest)
		}
		<-ctx.Done()
		return nil
	}
}
