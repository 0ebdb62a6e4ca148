package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phobologic/srcmetrics/internal/config"
)

// initCmd implements `srcmetrics init`, which writes a commented default
// configuration file.
func (c *cli) initCmd() *cobra.Command {
	var dryRun, force bool
	cmd := &cobra.Command{
		Use:   "init [flags] [path]",
		Short: "Write a default configuration file",
		Long: `Write the default srcmetrics configuration, with a comment on every key.

path defaults to ./` + config.ProjectFile + `, which is picked up by later runs in
the same directory. An existing file is kept unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		// The file being written may not exist or parse yet.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.initLogging()
		},
		RunE: func(_ *cobra.Command, args []string) error {
			path := config.ProjectFile
			if len(args) > 0 {
				path = args[0]
			}

			if dryRun {
				data, err := config.DefaultYAML()
				if err != nil {
					return err
				}
				_, err = c.stdout.Write(data)
				return err
			}

			if err := config.WriteDefault(path, force); err != nil {
				if errors.Is(err, config.ErrExists) {
					return fmt.Errorf("%w (use --force to overwrite)", err)
				}
				return err
			}
			_, _ = fmt.Fprintf(c.stderr, "wrote default configuration to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the configuration instead of writing it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
