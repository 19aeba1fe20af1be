package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/weavelang/weave/cli"
	"github.com/weavelang/weave/pkgs/compile"
	"github.com/weavelang/weave/pkgs/engine"
	"github.com/weavelang/weave/pkgs/hostscript"
	"github.com/weavelang/weave/pkgs/story"
)

// playConfig carries the environment knobs of an interactive session.
type playConfig struct {
	Seed     int64 `env:"WEAVE_SEED"      envDefault:"1"`
	MaxTicks int   `env:"WEAVE_MAX_TICKS" envDefault:"10000"`
	NoColor  bool  `env:"WEAVE_NO_COLOR"`
}

func loadPlayConfig() playConfig {
	cfg := playConfig{Seed: 1, MaxTicks: 10000}
	if err := env.Parse(&cfg); err != nil {
		return playConfig{Seed: 1, MaxTicks: 10000}
	}
	return cfg
}

func main() {
	var noColor bool
	var density string
	var output string

	rootCmd := &cobra.Command{
		Use:   "weave",
		Short: "Compile and play Weave interactive stories",
	}
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	checkCmd := &cobra.Command{
		Use:   "check <story.weave>",
		Short: "Validate a story without compiling a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0], cli.ShouldUseColor(noColor))
		},
	}

	compileCmd := &cobra.Command{
		Use:   "compile <story.weave>",
		Short: "Compile a story to its JSON document form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(args[0], output, story.Density(density), cli.ShouldUseColor(noColor))
		},
	}
	compileCmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default: input with .json)")
	compileCmd.Flags().StringVar(&density, "density", string(story.Verbose), "Document density: verbose or compact")

	convertCmd := &cobra.Command{
		Use:   "convert <story.json>",
		Short: "Re-encode a story document at another density",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(args[0], output, story.Density(density))
		},
	}
	convertCmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default: stdout)")
	convertCmd.Flags().StringVar(&density, "density", string(story.Compact), "Target density: verbose or compact")

	playCmd := &cobra.Command{
		Use:   "play <story.weave|story.json>",
		Short: "Play a story interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(args[0], noColor)
		},
	}

	rootCmd.AddCommand(checkCmd, compileCmd, convertCmd, playCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCheck(path string, useColor bool) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	diags := compile.Check(string(source))
	if len(diags) > 0 {
		cli.DisplayDiagnostics(os.Stderr, path, diags, useColor)
		return fmt.Errorf("%d problem(s) found", len(diags))
	}
	fmt.Println("ok")
	return nil
}

func runCompile(path, output string, density story.Density, useColor bool) error {
	if density != story.Verbose && density != story.Compact {
		return fmt.Errorf("unknown density %q", density)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	model, diags := compile.Compile(string(source))
	if model == nil {
		cli.DisplayDiagnostics(os.Stderr, path, diags, useColor)
		return fmt.Errorf("compilation failed")
	}
	data, err := story.MarshalDocument(model, density)
	if err != nil {
		return err
	}
	if output == "" {
		output = strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
	}
	return os.WriteFile(output, data, 0o644)
}

func runConvert(path, output string, density story.Density) error {
	if density != story.Verbose && density != story.Compact {
		return fmt.Errorf("unknown density %q", density)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	converted, err := story.Convert(data, density)
	if err != nil {
		return err
	}
	if output == "" {
		_, err = os.Stdout.Write(append(converted, '\n'))
		return err
	}
	return os.WriteFile(output, converted, 0o644)
}

// loadModel accepts either Weave source or a compiled document.
func loadModel(path string, useColor bool) (*story.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == ".json" {
		return story.ParseDocument(data)
	}
	model, diags := compile.Compile(string(data))
	if model == nil {
		cli.DisplayDiagnostics(os.Stderr, path, diags, useColor)
		return nil, fmt.Errorf("compilation failed")
	}
	return model, nil
}

func runPlay(path string, noColor bool) error {
	cfg := loadPlayConfig()
	useColor := cli.ShouldUseColor(noColor || cfg.NoColor)

	model, err := loadModel(path, useColor)
	if err != nil {
		return err
	}

	session := engine.New(model,
		engine.WithSeed(cfg.Seed),
		engine.WithHostRuntime(hostscript.New()),
	)
	if err := session.Start(); err != nil {
		return err
	}

	reader := bufio.NewScanner(os.Stdin)
	for {
		if _, err := session.RunUntilBlocked(cfg.MaxTicks); err != nil {
			cli.DisplayFragments(os.Stdout, session.Output(), useColor)
			return err
		}
		cli.DisplayFragments(os.Stdout, session.Output(), useColor)

		switch session.State() {
		case engine.Ended:
			fmt.Println(cli.Colorize("-- the end --", cli.ColorGray, useColor))
			return nil
		case engine.AwaitingChoice:
			choices := session.PendingChoices()
			fmt.Println()
			cli.DisplayChoices(os.Stdout, choices, useColor)
			index, ok := readChoice(reader, len(choices))
			if !ok {
				return nil
			}
			if _, err := session.Choose(index); err != nil {
				return err
			}
		default:
			return fmt.Errorf("session stalled in state %s after %d ticks", session.State(), cfg.MaxTicks)
		}
	}
}

// readChoice prompts until a valid 1-based selection or EOF/quit.
func readChoice(reader *bufio.Scanner, count int) (int, bool) {
	for {
		fmt.Print("> ")
		if !reader.Scan() {
			return 0, false
		}
		line := strings.TrimSpace(reader.Text())
		if line == "q" || line == "quit" {
			return 0, false
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= count {
			return n - 1, true
		}
		fmt.Printf("enter a number between 1 and %d\n", count)
	}
}
