// Command lcfsmount mounts a layered, snapshot-oriented block filesystem
// device at a FUSE mount point: parse flags and an optional config file
// with cobra/viper, build the typed config, then hand off to the core
// package.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/lcfs/internal/config"
	"github.com/google/lcfs/internal/logger"
	"github.com/google/lcfs/layerfs"
	"github.com/google/lcfs/layerfs/fuseglue"
	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lcfsmount <mount-point>",
		Short: "Mount a layered snapshot filesystem device over FUSE.",
		Args:  cobra.ExactArgs(1),
		RunE:  runMount,
	}

	cobra.OnInitialize(func() { initConfig(root) })

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a config file (default: $HOME/.lcfsmount.yaml).")
	if err := config.BindFlags(root.Flags()); err != nil {
		panic(fmt.Sprintf("lcfsmount: bind flags: %v", err))
	}
	return root
}

func initConfig(root *cobra.Command) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".lcfsmount")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("LCFS")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("lcfsmount: load config: %w", err)
	}

	logger.Init(cfg.Log.Format, cfg.Log.Level)
	layerfs.SetInvariantChecking(cfg.Debug.ExitOnInvariantViolation)

	if cfg.Device.DevicePath == "" {
		return fmt.Errorf("lcfsmount: --file-system.device-path is required")
	}
	mountPoint := args[0]

	gfs, err := layerfs.Mount(cfg.Device.DevicePath, layerfs.MountOptions{
		MaxLayers:   cfg.Device.MaxLayers,
		ClusterSize: cfg.Device.ClusterSize,
		ReadOnly:    cfg.Device.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("lcfsmount: mount %s: %w", cfg.Device.DevicePath, err)
	}

	server := fuseglue.New(gfs)
	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{ReadOnly: cfg.Device.ReadOnly})
	if err != nil {
		_ = layerfs.Unmount(gfs)
		return fmt.Errorf("lcfsmount: fuse mount %s: %w", mountPoint, err)
	}

	if err := mfs.Join(context.Background()); err != nil {
		logger.Errorf("fuse connection closed with error: %v", err)
	}
	return layerfs.Unmount(gfs)
}
