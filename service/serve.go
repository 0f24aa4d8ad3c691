package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"classicboard/app/auth"
	"classicboard/app/docstore"
	"classicboard/app/repositories"
	"classicboard/app/routes"
	"classicboard/app/services"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const addrFlag = "addr"

func newServeCommand(a *app) *cobra.Command {
	flags := map[string]cobraflags.Flag{
		addrFlag: &cobraflags.StringFlag{
			Name:  addrFlag,
			Value: "",
			Usage: "Listen address (overrides server.addr)",
		},
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the board server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := flags[addrFlag].GetString()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, ln)
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

// serve runs the server on ln until ctx is done.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	db, err := docstore.OpenDB(a.cfg.Store.Path, a.cfg.Store.InMemory)
	if err != nil {
		ln.Close()
		return err
	}
	defer db.Close()

	store := docstore.New(db, a.logger)
	defer store.Close()
	if a.cfg.Store.GCSchedule != "" && !a.cfg.Store.InMemory {
		if err := store.StartMaintenance(a.cfg.Store.GCSchedule); err != nil {
			ln.Close()
			return err
		}
	}

	router := routes.SetupRoutes(routes.Deps{
		Posts:  repositories.NewDocPostRepository(store, a.logger),
		Auth:   auth.NewService(db, bcrypt.DefaultCost, a.logger),
		Feed:   services.FeedOptions{RequireTitle: a.cfg.Feed.RequireTitle},
		Logger: a.logger,
	})

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting board server", "addr", ln.Addr().String(), "store", a.cfg.Store.Path)
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down board server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// open feed streams end with the base context, so Shutdown can drain
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
