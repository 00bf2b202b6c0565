package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"paperreader/internal/domain"
)

var (
	convertConverter string
	convertDocID     string
	convertOutput    string
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

var convertCmd = &cobra.Command{
	Use:   "convert <file.pdf>",
	Short: "Convert one PDF synchronously",
	Long: `Convert runs a PDF through the conversion pipeline in the foreground and
commits the outcome to the processed directory. The Markdown goes to stdout
unless --output is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertConverter, "converter", "c", "", "converter name or alias (default from DEFAULT_CONVERTER)")
	convertCmd.Flags().StringVar(&convertDocID, "doc-id", "", "document id (default derived from the file name)")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "write Markdown to this file instead of stdout")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	source, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("source file: %w", err)
	}

	docID := convertDocID
	if docID == "" {
		docID = docIDFromPath(source)
	}
	if err := domain.ValidateDocID(docID); err != nil {
		return fmt.Errorf("doc id %q: %w", docID, err)
	}

	container, err := newContainer()
	if err != nil {
		return err
	}

	// A previous outcome for this id is replaced.
	if err := container.Store.Purge(docID); err != nil {
		return err
	}
	if err := container.Images.Remove(docID); err != nil {
		return err
	}

	outcome := container.Orchestrator.Convert(context.Background(), docID, source, convertConverter)
	if !outcome.Succeeded() {
		return fmt.Errorf("%s (%s)", outcome.Failure.Error, outcome.Failure.ErrorType)
	}

	if convertOutput == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), outcome.Content)
		return err
	}
	if err := os.WriteFile(convertOutput, []byte(outcome.Content), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d images, markdown written to %s\n", docID, len(outcome.Images), convertOutput)
	return nil
}

func docIDFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id := strings.Trim(unsafeIDChars.ReplaceAllString(base, "_"), "_")
	if id == "" || len(id) > 128 {
		return uuid.New().String()
	}
	return id
}
