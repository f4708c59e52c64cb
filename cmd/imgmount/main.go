package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/diskrescue/imgmount/internal/cmdrun"
	"github.com/diskrescue/imgmount/internal/config"
	"github.com/diskrescue/imgmount/internal/container"
	"github.com/diskrescue/imgmount/internal/engine"
	"github.com/diskrescue/imgmount/internal/log"
	"github.com/diskrescue/imgmount/internal/mounter"
	"github.com/diskrescue/imgmount/internal/notify"
	"github.com/diskrescue/imgmount/internal/term"
	"github.com/diskrescue/imgmount/internal/validation"
	"github.com/diskrescue/imgmount/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:      "imgmount",
		Usage:     "Mount a recovered disk image or device read-only",
		ArgsUsage: "<image-or-device>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path",
				Value:   config.DefaultConfigPath,
			},
			&cli.StringFlag{
				Name:    "mount-base",
				Aliases: []string{"m"},
				Usage:   "Base directory for mount points",
			},
			&cli.StringFlag{
				Name:    "elevate",
				Aliases: []string{"e"},
				Usage:   "Command prefix for privileged commands",
			},
			&cli.StringFlag{
				Name:    "platform",
				Aliases: []string{"p"},
				Usage:   "Host platform override: linux or macos",
			},
			&cli.BoolFlag{
				Name:    "no-notify",
				Usage:   "Disable desktop notifications",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"V"},
				Usage:   "Print version information",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	// Handle version flag
	if cmd.Bool("version") {
		fmt.Println(version.String())
		return nil
	}

	// Setup logging
	log.Setup(cmd.Bool("verbose"))

	// Load config file
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Merge CLI flags (CLI takes precedence)
	cfg.Merge(
		cmd.String("mount-base"),
		cmd.String("elevate"),
		cmd.String("platform"),
	)

	// Apply defaults
	cfg.ApplyDefaults()

	if cmd.Bool("no-notify") {
		cfg.Notify = false
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("an image file or device to mount is required")
	}
	if err := validation.ValidateContainerPath(path); err != nil {
		return err
	}

	platform := container.Platform(cfg.Platform)
	if cfg.Platform == "" {
		platform = container.DetectPlatform()
	}

	log.Info("starting mount",
		"path", path,
		"platform", platform,
		"mount_base", cfg.MountBase,
	)

	// Ensure the mount base exists
	if err := os.MkdirAll(cfg.MountBase, 0755); err != nil {
		return fmt.Errorf("create mount base: %w", err)
	}

	// Create components
	runner := cmdrun.NewShellRunner(cfg.Elevate)
	prompter := term.NewPrompter()

	var notifier engine.Notifier = notify.NewTerminal()
	if cfg.Notify {
		notifier = notify.NewDesktop("imgmount")
	}

	m, err := mounter.New(platform, runner, prompter, cfg.MountBase)
	if err != nil {
		return err
	}

	eng := engine.New(m, prompter, notifier)

	state, err := eng.Mount(path)
	if err != nil {
		if errors.Is(err, engine.ErrCancelled) {
			fmt.Println("Cancelled.")
			return nil
		}
		return err
	}

	fmt.Printf("Mounted read-only at %s\n", state.MountPoint)
	fmt.Println("Press Enter (or send SIGINT) to unmount and exit.")

	waitForUser(ctx)

	if err := eng.Unmount(state); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}

	fmt.Println("Unmounted.")
	return nil
}

// waitForUser blocks until the user presses Enter, a termination signal
// arrives, or the surrounding context is cancelled.
func waitForUser(ctx context.Context) {
	entered := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(entered)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-entered:
	case <-sig:
	case <-ctx.Done():
	}
}
