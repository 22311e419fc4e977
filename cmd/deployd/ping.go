package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/deployd/pkg/ping"
	"github.com/cuemby/deployd/pkg/storage"
	"github.com/cuemby/deployd/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var pingCmd = &cobra.Command{
	Use:   "ping --host HOST_ID",
	Short: "Answer one host ping against the local store",
	Long: `Answer one ping for a host as if the host had sent it, and print the
instruction. Reports are read from Report documents of the given file.
Agent records are updated exactly as for a real ping.`,
	RunE: runPing,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze -f FIXTURE --host HOST_ID",
	Short: "Answer a ping for a fixture without touching the store",
	Long: `Load a resource file into a throwaway store, answer one ping for the
host and print the instruction. Useful to check how a fleet state is
classified before applying it.

Example:
  deployd analyze -f host.yaml --host h1`,
	RunE: runAnalyze,
}

func init() {
	pingCmd.Flags().String("host", "", "Host id (required)")
	pingCmd.Flags().String("host-name", "", "Host name")
	pingCmd.Flags().StringP("file", "f", "", "YAML file with Report documents")
	_ = pingCmd.MarkFlagRequired("host")

	analyzeCmd.Flags().String("host", "", "Host id (required)")
	analyzeCmd.Flags().StringP("file", "f", "", "YAML fixture (required)")
	_ = analyzeCmd.MarkFlagRequired("host")
	_ = analyzeCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	hostID, _ := cmd.Flags().GetString("host")
	hostName, _ := cmd.Flags().GetString("host-name")
	filename, _ := cmd.Flags().GetString("file")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var reports []*types.PingReport
	if filename != "" {
		resources, err := readResources(filename)
		if err != nil {
			return err
		}
		for _, r := range resources {
			if r.Kind == "Report" {
				reports = append(reports, reportFrom(r))
			}
		}
	}

	store, err := openStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	locker, _, closeLocker, err := newLocker(cfg.Lock)
	if err != nil {
		return fmt.Errorf("failed to create locker: %w", err)
	}
	defer closeLocker()

	h := ping.NewHandler(store, locker, cfg.Ping)
	return answer(h, &ping.Request{HostID: hostID, HostName: hostName, Reports: reports})
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	hostID, _ := cmd.Flags().GetString("host")
	filename, _ := cmd.Flags().GetString("file")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	resources, err := readResources(filename)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "deployd-analyze-")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	store, err := storage.NewBoltStore(dir)
	if err != nil {
		return fmt.Errorf("failed to open scratch store: %w", err)
	}
	defer store.Close()

	reports, err := applyResources(store, resources, io.Discard)
	if err != nil {
		return err
	}

	locker, _, closeLocker, err := newLocker(cfg.Lock)
	if err != nil {
		return fmt.Errorf("failed to create locker: %w", err)
	}
	defer closeLocker()

	h := ping.NewHandler(store, locker, cfg.Ping)
	return answer(h, &ping.Request{HostID: hostID, Reports: reports})
}

func answer(h *ping.Handler, req *ping.Request) error {
	resp, err := h.Ping(context.Background(), req)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
