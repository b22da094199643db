package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	inputPath string
	printOpts bool
)

var runCmd = &cobra.Command{
	Use:   "run [template]",
	Short: "Evaluate one wd: template and print its rendered body",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplate,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "path to a JSON input document (default: {})")
	runCmd.Flags().BoolVar(&printOpts, "print-options", false, "print the collected options side-channel to stderr as JSON")
}

func runTemplate(c *cobra.Command, args []string) error {
	template, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}

	var input []byte
	if inputPath != "" {
		input, err = os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}

	body, opts, err := eng.Run(context.Background(), template, input)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	os.Stdout.Write(body)

	if printOpts && opts != nil {
		b, err := json.MarshalIndent(opts, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		fmt.Fprintln(os.Stderr, string(b))
	}
	return nil
}
