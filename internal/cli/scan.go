package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"scanreader/internal/app"
	"scanreader/internal/events"
	"scanreader/internal/models"
	"scanreader/internal/ocr"
	"scanreader/internal/services"
	"scanreader/internal/view"
)

var (
	errNotStarted = errors.New("OCR was not started: the options were cancelled or the language is not available")
	errOCRFailed  = errors.New("OCR failed")
)

func newLanguagesCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages of the OCR engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(e.outputFmt)
			if err != nil {
				return err
			}
			engine := e.engine
			if engine == nil {
				if engine, err = ocr.NewEngine(e.cfg.OCR.EngineConfig()); err != nil {
					return err
				}
			}
			langs, err := engine.SortedLanguages(cmd.Context())
			if err != nil {
				return err
			}

			data := tableData{Headers: []string{"code", "name", "direction"}}
			for _, lang := range langs {
				direction := "ltr"
				if lang.IsRTL() {
					direction = "rtl"
				}
				data.Rows = append(data.Rows, []string{lang.Code, lang.Name, direction})
			}
			return printTable(e.stdout, format, data)
		},
	}
}

// awaitOCR runs trigger on the UI loop and waits for the OCR request it
// dispatches. The page content is printed once the request succeeds.
func awaitOCR(ctx context.Context, e *env, a *app.App, console *view.Console, trigger func() error) error {
	ended := make(chan events.OCREnded, 1)
	unsubscribe := events.Subscribe(a.Events, func(ev events.OCREnded) {
		select {
		case ended <- ev:
		default:
		}
	})
	defer unsubscribe()

	var pending bool
	err := a.Do(ctx, func() error {
		if err := trigger(); err != nil {
			return err
		}
		pending = a.OCR.InFlight() > 0
		return nil
	})
	if err != nil {
		return err
	}
	if !pending {
		return errNotStarted
	}

	select {
	case ev := <-ended:
		if ev.Cancelled {
			return context.Canceled
		}
		if ev.Faulted {
			return errOCRFailed
		}
	case <-ctx.Done():
		_ = a.Do(context.Background(), func() error {
			a.OCR.Cancel()
			return nil
		})
		return ctx.Err()
	}

	var content string
	if err := a.Do(ctx, func() error {
		content = console.Content()
		return nil
	}); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, content)
	return nil
}

func newScanCommand(e *env) *cobra.Command {
	var (
		flags scanFlags
		page  int
	)
	cmd := &cobra.Command{
		Use:   "scan <document>",
		Short: "Recognise the text of one page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, console, _, err := e.start(ctx, &flags)
			if err != nil {
				return err
			}
			defer a.Close()

			return awaitOCR(ctx, e, a, console, func() error {
				if err := a.Session.Open(ctx, services.URIFromFilename(args[0])); err != nil {
					return err
				}
				if page > 1 {
					if err := a.Session.GoToPage(ctx, page-1); err != nil {
						return err
					}
				}
				return a.OCR.ScanCurrentPage(ctx)
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page number, starting at 1")
	return cmd
}

func newImageCommand(e *env) *cobra.Command {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "image <file>",
		Short: "Recognise the text of an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, console, _, err := e.start(ctx, &flags)
			if err != nil {
				return err
			}
			defer a.Close()

			return awaitOCR(ctx, e, a, console, func() error {
				return a.OCR.ScanImageFile(ctx, args[0])
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

type extractionResult struct {
	summary services.ExtractionSummary
	err     error
}

func newExtractCommand(e *env) *cobra.Command {
	var (
		flags  scanFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "extract <document>",
		Short: "Recognise every page and write the text to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source := args[0]
			if output == "" {
				output = strings.TrimSuffix(source, filepath.Ext(source)) + ".txt"
			}

			a, _, _, err := e.start(ctx, &flags)
			if err != nil {
				return err
			}
			defer a.Close()

			done := make(chan extractionResult, 1)
			observer := services.ExtractionObserver{
				Finished: func(summary services.ExtractionSummary, err error) {
					done <- extractionResult{summary: summary, err: err}
				},
			}

			var ext *services.Extraction
			err = a.Do(ctx, func() error {
				if err := a.Session.Open(ctx, services.URIFromFilename(source)); err != nil {
					return err
				}
				var err error
				ext, err = a.OCR.ScanToTextFile(ctx, output, observer)
				return err
			})
			if err != nil {
				return err
			}
			if ext == nil {
				return errNotStarted
			}

			var res extractionResult
			select {
			case res = <-done:
			case <-ctx.Done():
				ext.Abort()
				res = <-done
			}

			if res.err != nil && res.summary.Status(res.err) != models.ExtractionAborted {
				return res.err
			}
			if !e.quiet {
				color.New(color.FgGreen).Fprintf(e.stderr, "%d of %d pages written to %s\n",
					res.summary.PagesDone, res.summary.Pages, ext.OutputPath)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&output, "out", "", "text file to write (default: <document>.txt)")
	return cmd
}

func newConvertCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <docx>",
		Short: "Convert a Word document to HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := e.start(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			path, err := a.Word.ConvertedFilename(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(e.stdout, path)
			return nil
		},
	}
}

func newHistoryCommand(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent text extractions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(e.outputFmt)
			if err != nil {
				return err
			}
			a, _, _, err := e.start(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.Runs.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			data := tableData{Headers: []string{"id", "document", "output", "pages", "status", "started"}}
			for _, run := range runs {
				data.Rows = append(data.Rows, []string{
					run.ID,
					run.DocumentPath,
					run.OutputPath,
					strconv.Itoa(run.PagesDone) + "/" + strconv.Itoa(run.Pages),
					string(run.Status),
					run.StartedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			return printTable(e.stdout, format, data)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	return cmd
}
