package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/domain"
	"github.com/oriys/pulsar/internal/executor"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/pool"
)

func runCmd() *cobra.Command {
	var (
		configName string
		walltime   string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- <shell command>",
		Short: "Run one command through the pre-allocation pools",
		Long: "Route a single shell command through the configured pools. " +
			"When no pool has a compatible idle wrapper the command runs directly on the local backend.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			registry := pool.NewRegistry()
			if err := registry.InitPools(context.Background(), executor.LocalFactory{}, cfg); err != nil {
				registry.ShutdownAll()
				return fmt.Errorf("init pools: %w", err)
			}
			defer registry.ShutdownAll()

			shell := strings.Join(args, " ")
			pipelineCmd := &domain.Command{
				ID:           domain.NewCommandID(),
				Name:         name,
				Cmd:          shell,
				CreateTimeMs: domain.NowMs(),
				Cfg: &domain.ResolvedConfig{
					Name:     configName,
					Walltime: walltime,
				},
			}
			if pipelineCmd.Name == "" {
				pipelineCmd.Name = "run"
			}

			bound, err := registry.RequestExecutor(context.Background(), pipelineCmd, pipelineCmd.Cfg, os.Stdout)
			if err != nil {
				return err
			}

			var code int
			if bound.Handle != nil {
				code, err = bound.Handle.WaitFor()
				if err != nil {
					return err
				}
			} else {
				// No pool accepted; dispatch directly on the local backend.
				exe := executor.NewLocalExecutor()
				if err := exe.Start(pipelineCmd.Cfg, pipelineCmd, os.Stdout, os.Stderr); err != nil {
					return err
				}
				code, err = exe.WaitFor()
				if err != nil {
					return err
				}
			}

			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configName, "config-name", "default", "Backend config name the command resolves against")
	cmd.Flags().StringVar(&walltime, "walltime", "", "Wall-time requirement (HH:MM:SS)")
	cmd.Flags().StringVar(&name, "name", "", "Command name for logs")
	return cmd
}
