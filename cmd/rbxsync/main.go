package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/rbxsync/rbxsync/internal/debug"
	"github.com/rbxsync/rbxsync/internal/project"
	"github.com/rbxsync/rbxsync/internal/session"
)

var Version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "rbxsync",
		Usage:   "Two-way sync between an instance tree and the filesystem",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "project",
				Aliases: []string{"p"},
				Usage:   "Project descriptor file or directory",
				Value:   ".",
			},
			&cli.BoolFlag{
				Name:  "debug-log",
				Usage: "Write debug output to a log file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Watch the project directories and keep the live tree in sync",
				Action: serveCommand,
			},
			{
				Name:  "syncback",
				Usage: "Write the live tree back to the project directories once",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "clean",
						Usage: "Rewrite every file from scratch and delete orphans",
					},
				},
				Action: syncbackCommand,
			},
			{
				Name:   "check",
				Usage:  "Validate the project descriptor and mount paths",
				Action: checkCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func openSession(c *cli.Context) (*session.Session, error) {
	if c.Bool("debug-log") {
		if path, err := debug.InitDebugLogFile(); err == nil {
			fmt.Fprintf(os.Stderr, "Debug log: %s\n", path)
		}
	}

	proj, err := project.Load(c.String("project"))
	if err != nil {
		return nil, err
	}
	return session.Open(proj, nil)
}

func serveCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Stop()
	defer debug.CloseDebugLog()

	if err := s.Start(); err != nil {
		return err
	}
	fmt.Println("Watching for changes. Ctrl-C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("Received %v, shutting down\n", sig)
	return nil
}

func syncbackCommand(c *cli.Context) error {
	proj, err := project.Load(c.String("project"))
	if err != nil {
		return err
	}
	if c.Bool("clean") {
		proj.Policy.CleanSyncback = true
	}

	s, err := session.Open(proj, nil)
	if err != nil {
		return err
	}
	defer s.Stop()

	stats, err := s.Syncback()
	if stats != nil {
		fmt.Println(stats)
	}
	return err
}

func checkCommand(c *cli.Context) error {
	proj, err := project.Load(c.String("project"))
	if err != nil {
		return err
	}
	for _, mount := range proj.Mounts {
		if _, err := os.Stat(mount.Path); err != nil {
			return fmt.Errorf("mount %q: %w", mount.Target, err)
		}
	}
	fmt.Printf("Project %q: %d mounts OK\n", proj.Name, len(proj.Mounts))
	return nil
}
