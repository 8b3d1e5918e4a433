package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shelfkeeper/internal/api/handlers"
	"shelfkeeper/internal/library"
	"shelfkeeper/internal/ops"
	"shelfkeeper/internal/scheduler"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run. baseCtx is the
// daemon lifetime context; operations started from HTTP requests inherit
// it rather than the request context, so they survive the response.
func New(
	addr string,
	baseCtx context.Context,
	runner *library.Runner,
	mgr *ops.Manager,
	sched *scheduler.Scheduler,
	version string,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{Store: runner.Store(), Manager: mgr, Scheduler: sched, Version: version}
	opsH := &handlers.OperationsHandler{Manager: mgr, Runner: runner, BaseCtx: baseCtx}
	dupesH := &handlers.DuplicatesHandler{Manager: mgr, Runner: runner, BaseCtx: baseCtx}
	booksH := &handlers.BooksHandler{Store: runner.Store()}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.Get)

		r.Post("/operations", opsH.Create)
		r.Get("/operations", opsH.List)
		r.Get("/operations/active", opsH.Active)
		r.Get("/operations/{id}", opsH.Get)
		r.Delete("/operations/{id}", opsH.Cancel)

		r.Get("/duplicates", dupesH.Find)
		r.Post("/duplicates/remove", dupesH.Remove)

		r.Get("/books", booksH.List)
		r.Get("/books/{id}", booksH.Get)
		r.Patch("/books/{id}", booksH.Update)
		r.Delete("/books/{id}", booksH.Delete)
	})

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Handler exposes the routed handler, mainly for in-process tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
