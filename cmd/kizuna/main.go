package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kizuna/internal/bootstrap"
)

const watchInterval = 2 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var exitCode int
	root := newRootCmd(ctx, &exitCode)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

type rootFlags struct {
	verbose    bool
	quiet      bool
	configPath string
}

func newRootCmd(ctx context.Context, exitCode *int) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "kizuna",
		Short:         "Peer-to-peer device connectivity",
		Long:          "Share files, stream media, sync clipboards and run commands between trusted devices.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "errors only")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file override")

	verbs := []struct{ use, short string }{
		{"discover", "Find peers on the network"},
		{"send", "Send files to a peer"},
		{"receive", "Accept incoming transfers"},
		{"stream", "Start or control a camera stream"},
		{"exec", "Run a command on a peer"},
		{"peers", "List known peers"},
		{"status", "Show system status"},
		{"clipboard", "Share or sync the clipboard"},
		{"config", "Read and write configuration"},
		{"queue", "Manage the transfer queue"},
		{"batch", "Run a batch transfer manifest"},
		{"history", "Inspect command history"},
		{"trust", "Manage trusted peers and pairing"},
	}
	for _, v := range verbs {
		root.AddCommand(newVerbCmd(ctx, flags, exitCode, v.use, v.short))
	}
	root.AddCommand(newTUICmd(ctx, flags))
	root.AddCommand(newCompletionCmd(root))
	return root
}

// newVerbCmd builds a passthrough command: flag parsing stays with the
// internal parser so suggestions and validation behave identically from
// scripts, the TUI palette and history re-execution.
func newVerbCmd(ctx context.Context, flags *rootFlags, exitCode *int, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:                use,
		Short:              short,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if help := stripRootFlags(flags, &args); help {
				return cmd.Help()
			}
			app, err := bootstrap.New(ctx, bootstrap.Options{
				Verbose:    flags.verbose,
				Quiet:      flags.quiet,
				ConfigPath: flags.configPath,
			})
			if err != nil {
				return err
			}
			defer app.Close()

			tokens := append([]string{use}, args...)
			if use == "status" && hasToken(args, "--watch") {
				*exitCode = watchStatus(ctx, app, tokens)
				return nil
			}
			*exitCode = execute(ctx, app, tokens)
			return nil
		},
	}
}

func execute(ctx context.Context, app *bootstrap.App, tokens []string) int {
	result := app.Router.Run(ctx, tokens)
	for _, w := range result.Warnings {
		_, _ = fmt.Fprintln(os.Stderr, "warning: "+w)
	}
	if result.Output != "" {
		out := os.Stdout
		if !result.Success {
			out = os.Stderr
		}
		_, _ = fmt.Fprintln(out, result.Output)
	}
	return result.ExitCode
}

// watchStatus re-renders the status snapshot on an interval until
// interrupted. Transient discovery failures retry inside the router.
func watchStatus(ctx context.Context, app *bootstrap.App, tokens []string) int {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		if code := execute(ctx, app, tokens); code != 0 {
			return code
		}
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
		}
	}
}

// stripRootFlags pulls the persistent flags out of the raw token list, since
// DisableFlagParsing leaves them in args. Reports whether help was asked.
func stripRootFlags(flags *rootFlags, args *[]string) bool {
	kept := (*args)[:0]
	help := false
	for i := 0; i < len(*args); i++ {
		switch (*args)[i] {
		case "--verbose", "-v":
			flags.verbose = true
		case "--quiet", "-q":
			flags.quiet = true
		case "--config":
			if i+1 < len(*args) {
				i++
				flags.configPath = (*args)[i]
			}
		case "--help":
			help = true
		default:
			if strings.HasPrefix((*args)[i], "--config=") {
				flags.configPath = strings.TrimPrefix((*args)[i], "--config=")
				continue
			}
			kept = append(kept, (*args)[i])
		}
	}
	*args = kept
	return help
}

func hasToken(args []string, token string) bool {
	for _, a := range args {
		if a == token {
			return true
		}
	}
	return false
}

func newTUICmd(ctx context.Context, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Run the interactive interface",
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := bootstrap.New(ctx, bootstrap.Options{
				Verbose:    flags.verbose,
				Quiet:      flags.quiet,
				ConfigPath: flags.configPath,
			})
			if err != nil {
				return err
			}
			defer app.Close()
			return bootstrap.RunTUI(ctx, app)
		},
	}
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate a shell completion script",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(_ *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(os.Stdout, true)
			case "zsh":
				return root.GenZshCompletion(os.Stdout)
			case "fish":
				return root.GenFishCompletion(os.Stdout, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}
	return cmd
}
