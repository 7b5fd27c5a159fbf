package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agrospeak/agrospeak/internal/intent"
)

func newClassifyCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Print the intent of a question",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				for _, it := range intent.All() {
					fmt.Fprintf(out, "%-9s %s\n", it, strings.Join(intent.Keywords(it), ", "))
				}
				return nil
			}
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("give some text to classify, or --list")
			}
			fmt.Fprintln(out, intent.Classify(text))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list intents and their keywords in priority order")
	return cmd
}
