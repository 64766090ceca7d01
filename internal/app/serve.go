package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

func NewHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Serve runs the API on port together with the sync loop until ctx is done, then shuts both
// down gracefully.
func (a *App) Serve(ctx context.Context, port string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		a.RunSync(ctx)
	}()

	a.logger.Info("listening", "port", port)
	err := a.serveHTTP(ctx, NewHTTPServer(port, a.Handler))
	cancel()
	<-syncDone
	return err
}

func (a *App) serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
