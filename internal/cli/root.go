// Package cli provides the readerctl commands.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"scanreader/internal/app"
	"scanreader/internal/config"
	"scanreader/internal/logging"
	"scanreader/internal/models"
	"scanreader/internal/ocr"
	"scanreader/internal/view"
)

// env is shared by every command of one invocation.
type env struct {
	stdout io.Writer
	stderr io.Writer
	// engine overrides the configured OCR engine when set.
	engine ocr.Engine

	configFile string
	outputFmt  string
	quiet      bool
	cfg        *config.Config
}

// NewRootCommand returns the readerctl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&env{stdout: os.Stdout, stderr: os.Stderr})
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "readerctl",
		Short: "Read scanned documents with OCR",
		Long: `readerctl opens PDF, image, HTML and Word documents, recognises the text
of scanned pages and writes it to the terminal or a text file.

Get started:
  readerctl languages            List the OCR languages
  readerctl scan book.pdf -p 3   Recognise page 3 of book.pdf
  readerctl serve                Start the HTTP API`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(e.configFile)
			if err != nil {
				return err
			}
			if err := logging.Setup(e.stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			e.cfg = cfg
			return nil
		},
	}
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)

	root.PersistentFlags().StringVar(&e.configFile, "config", "",
		"config file (default is ./reader.yaml)")
	root.PersistentFlags().StringVarP(&e.outputFmt, "output", "o", "table",
		"output format for listings: table, json, yaml")
	root.PersistentFlags().BoolVarP(&e.quiet, "quiet", "q", false,
		"only print recognised text")

	root.AddCommand(
		newServeCommand(e),
		newLanguagesCommand(e),
		newScanCommand(e),
		newImageCommand(e),
		newExtractCommand(e),
		newConvertCommand(e),
		newHistoryCommand(e),
	)
	return root
}

// scanFlags answer the options dialog for a command line scan.
type scanFlags struct {
	language  string
	zoom      float64
	pipelines []string
}

func (f *scanFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "OCR language code (default: first available)")
	cmd.Flags().Float64VarP(&f.zoom, "zoom", "z", 1, "page zoom factor before recognition")
	cmd.Flags().StringSliceVar(&f.pipelines, "pipeline", nil, "image processing steps, in order")
}

func (f *scanFlags) options() *models.OcrOptions {
	return &models.OcrOptions{
		Language:                 models.Language{Code: f.language},
		ZoomFactor:               f.zoom,
		ImageProcessingPipelines: f.pipelines,
	}
}

// start builds the services against a console view and runs the UI loop
// until ctx is done. Page text is kept by the console rather than printed.
func (e *env) start(ctx context.Context, flags *scanFlags) (*app.App, *view.Console, *view.ScriptedDialogs, error) {
	console := view.NewConsole(io.Discard, e.stderr, e.quiet)
	var progress io.Writer
	if !e.quiet {
		progress = e.stderr
	}
	dialogs := view.NewScriptedDialogs(progress)
	if flags != nil {
		dialogs.SetOptions(flags.options())
	}

	a, err := app.New(e.cfg, e.engine, console, dialogs)
	if err != nil {
		return nil, nil, nil, err
	}
	a.Start(ctx)
	return a, console, dialogs, nil
}
