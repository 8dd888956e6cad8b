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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/mfhost/pkg/federation"
	"github.com/chazu/mfhost/pkg/schema"
)

// loadAttempts overrides the configured attempts for the load command
var loadAttempts int

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the merged configuration",
	Long: `Fetch the registry and the static manifest, merge them by scope and print
the result. The registry entry wins for a scope present in both.`,
	Args: cobra.NoArgs,
	RunE: runResolve,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed an empty registry from the static manifest",
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

var loadCmd = &cobra.Command{
	Use:   "load <scope> [module]",
	Short: "Load one exposed module and print it",
	Long: `Resolve the configuration, link the remote registered for scope and load
module from it. module defaults to the first exposed path of the remote.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().IntVar(&loadAttempts, "attempts", 0,
		"Attempts for this load. Defaults to the configured maxRetries.")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that every configured remote is reachable",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var validateCmd = &cobra.Command{
	Use:   "validate <manifest>",
	Short: "Validate a manifest file",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

// errUnhealthy makes the health command exit non-zero
var errUnhealthy = errors.New("one or more remotes are unhealthy")

func runResolve(cmd *cobra.Command, args []string) error {
	h, _, err := newHost(cmd)
	if err != nil {
		return err
	}
	manifest, err := h.Resolver().LoadConfig(commandContext(cmd))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), manifest)
}

func runSeed(cmd *cobra.Command, args []string) error {
	h, _, err := newHost(cmd)
	if err != nil {
		return err
	}
	result := h.Resolver().SeedRegistryFromStatic(commandContext(cmd))
	if result.Skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "seeding skipped: %s\n", result.Reason)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d entries, %d failed\n", result.Upserted, result.Failed)
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	h, _, err := newHost(cmd)
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	module := ""
	if len(args) > 1 {
		module = args[1]
	}
	var opts []federation.LoadOption
	if loadAttempts > 0 {
		opts = append(opts, federation.WithAttempts(loadAttempts))
	}
	export, err := h.Mount(ctx, args[0], module, opts...)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"module":   export.Key.String(),
		"url":      export.URL,
		"attempts": export.Attempts,
		"value":    fmt.Sprintf("%v", export.Value),
	})
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	h, _, err := newHost(cmd)
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	report := h.HealthCheck(ctx)
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if len(report.Unhealthy) > 0 {
		return errUnhealthy
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	validator, err := schema.NewValidator()
	if err != nil {
		return err
	}
	if err := validator.ValidateManifest(data); err != nil {
		return fmt.Errorf("%s is invalid: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
