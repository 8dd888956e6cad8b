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
	"flag"
	"fmt"
	"os"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/chazu/mfhost/internal/config"
	"github.com/chazu/mfhost/internal/host"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

// Flags holds the command-line configuration shared by every subcommand
type Flags struct {
	ConfigPath     string
	RegistryURL    string
	Environment    string
	StaticManifest string
	Namespace      string
	CacheDir       string
	TraceEvents    bool

	zapOpts zap.Options
}

// bindFlags registers the shared flags on fs. The zap flags are defined on
// a go FlagSet and bridged.
func (f *Flags) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", "", "Path to the host configuration file (YAML or JSON).")
	fs.StringVar(&f.RegistryURL, "registry-url", "",
		"Registry service endpoint. Overrides the config file and "+config.EnvRegistryURL+".")
	fs.StringVar(&f.Environment, "env", "", "Environment: development or production.")
	fs.StringVar(&f.StaticManifest, "static-manifest", "",
		"Static manifest reference: http(s) origin, file path, embedded:<path> or configmap://ns/name[/key].")
	fs.StringVar(&f.Namespace, "namespace", "", "Default namespace for configmap references.")
	fs.StringVar(&f.CacheDir, "cache-dir", "", "Directory caching git and OCI remote entries.")
	fs.BoolVar(&f.TraceEvents, "trace-events", false, "Log every event bus emission.")

	f.zapOpts = zap.Options{Development: true, TimeEncoder: zapcore.ISO8601TimeEncoder}
	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	f.zapOpts.BindFlags(goFlags)
	fs.AddGoFlagSet(goFlags)
}

// loadConfig reads the configuration and applies the flags the user set
func (f *Flags) loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("registry-url") {
		cfg.RegistryURL = f.RegistryURL
	}
	if fs.Changed("env") {
		cfg.Environment = f.Environment
	}
	if fs.Changed("static-manifest") {
		cfg.StaticManifest = f.StaticManifest
	}
	if fs.Changed("namespace") {
		cfg.Namespace = f.Namespace
	}
	if fs.Changed("cache-dir") {
		cfg.CacheDir = f.CacheDir
	}
	if fs.Changed("trace-events") {
		cfg.TraceEvents = f.TraceEvents
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var flags = &Flags{}

var rootCmd = &cobra.Command{
	Use:   "mfhost",
	Short: "Runtime module federation host",
	Long: `mfhost discovers remotes from a registry service, falling back to a static
manifest, and links their remote entries on demand.

Available subcommands:
  resolve  - Print the merged configuration
  seed     - Seed an empty registry from the static manifest
  load     - Load one exposed module and print it
  health   - Check that every configured remote is reachable
  validate - Validate a manifest file
  serve    - Run the host with its ops HTTP surface`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ctrl.SetLogger(zap.New(zap.UseFlagOptions(&flags.zapOpts)))
	},
}

func init() {
	flags.bindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(resolveCmd, seedCmd, loadCmd, healthCmd, validateCmd, serveCmd)
}

// newHost loads the configuration and builds a host from it
func newHost(cmd *cobra.Command, opts ...host.Option) (*host.Host, *config.Config, error) {
	cfg, err := flags.loadConfig(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	h, err := host.New(cfg, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create host: %w", err)
	}
	return h, cfg, nil
}

// commandContext returns the command's context, cancelled on SIGINT or SIGTERM
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func main() {
	if err := rootCmd.ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
