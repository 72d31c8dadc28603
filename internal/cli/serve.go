package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scanreader/internal/api"
	"scanreader/internal/app"
	"scanreader/internal/models"
	"scanreader/internal/view"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(e *env) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if address != "" {
				e.cfg.Server.Address = address
			}
			return serve(cmd.Context(), e)
		},
	}
	cmd.Flags().StringVar(&address, "addr", "", "listen address (default from config)")
	return cmd
}

func serve(ctx context.Context, e *env) error {
	rec := view.NewRecorder(200)
	dialogs := view.NewScriptedDialogs(nil)
	// Requests without options scan with the first language at zoom 1.
	dialogs.SetOptions(&models.OcrOptions{ZoomFactor: 1})

	a, err := app.New(e.cfg, e.engine, rec, dialogs)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(api.Deps{
		Loop:      a.Loop,
		Session:   a.Session,
		OCR:       a.OCR,
		Engine:    a.Engine,
		View:      rec,
		Dialogs:   dialogs,
		Documents: a.Documents,
		Runs:      a.Runs,
		Word:      a.Word,
		Metrics:   a.Metrics,
		MaxUpload: e.cfg.Server.MaxUpload,
	})

	srv := &http.Server{
		Addr:         e.cfg.Server.Address,
		Handler:      server.Handler(),
		ReadTimeout:  e.cfg.Server.ReadTimeout,
		WriteTimeout: e.cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Loop.Run(ctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("engine", a.Engine.Name()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
