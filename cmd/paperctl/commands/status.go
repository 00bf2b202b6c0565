package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"paperreader/internal/domain"
	"paperreader/internal/service"
)

var showTrace bool

var statusCmd = &cobra.Command{
	Use:   "status <doc-id>",
	Short: "Show the conversion status of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := newContainer()
		if err != nil {
			return err
		}
		docID := args[0]

		status, err := container.Store.Status(docID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s\n", docID, statusColor(status).Sprint(status))

		switch status {
		case domain.StatusReady:
			content, err := container.Store.Content(docID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "images: %d\n", len(service.StitchedImageIDs(content)))
		case domain.StatusError:
			record, err := container.Store.Failure(docID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "error_type: %s\nerror: %s\n", record.ErrorType, record.Error)
			if showTrace {
				fmt.Fprintf(out, "\n%s\n", record.Trace)
			}
		}
		return nil
	},
}

var convertersCmd = &cobra.Command{
	Use:   "converters",
	Short: "List registered converters and their availability",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := newContainer()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDEFAULT\tAVAILABLE\tMISSING")
		for _, info := range container.Registry.Converters() {
			fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", info.Name, info.Default, info.Available, info.Missing)
		}
		return tw.Flush()
	},
}

func statusColor(status domain.Status) *color.Color {
	switch status {
	case domain.StatusReady:
		return color.New(color.FgGreen)
	case domain.StatusError:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}

func init() {
	statusCmd.Flags().BoolVar(&showTrace, "trace", false, "print the diagnostic trace of a failed document")
	rootCmd.AddCommand(statusCmd, convertersCmd)
}
