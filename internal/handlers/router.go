package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/madcarpet/lessonadmin/internal/authorization"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"github.com/madcarpet/lessonadmin/internal/middlewares"
)

type HTTPRouter struct {
	mux        *chi.Mux
	server     *http.Server
	admins     AdminStore
	lessons    LessonService
	payments   PaymentService
	authorizer authorization.Authorizer
}

func NewHTTPRouter(s AdminStore, l LessonService, p PaymentService, a authorization.Authorizer) *HTTPRouter {
	r := chi.NewRouter()
	return &HTTPRouter{
		mux:        r,
		server:     &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second},
		admins:     s,
		lessons:    l,
		payments:   p,
		authorizer: a,
	}
}

func (r *HTTPRouter) RouterInit() error {
	authorizer := r.authorizer
	admins := r.admins
	lessons := r.lessons
	payments := r.payments
	r.mux.Use(middleware.Logger)
	r.mux.Use(middleware.Recoverer)
	r.mux.Use(middleware.Compress(5))
	r.mux.Post("/api/admin/login", LoginPostHandler(admins, authorizer))
	r.mux.Route("/api/lessons/{lessonID}", func(r chi.Router) {
		r.Get("/blocks", middlewares.Authorize(authorizer, BlocksGetHandler(lessons)))
		r.Post("/blocks", middlewares.Authorize(authorizer, BlocksPostHandler(lessons)))
		r.Put("/blocks/order", middlewares.Authorize(authorizer, BlocksOrderPutHandler(lessons)))
		r.Post("/assets/delete", middlewares.Authorize(authorizer, AssetsDeletePostHandler(lessons)))
	})
	r.mux.Route("/api/blocks/{blockID}", func(r chi.Router) {
		r.Put("/", middlewares.Authorize(authorizer, BlockPutHandler(lessons)))
		r.Delete("/", middlewares.Authorize(authorizer, BlockDeleteHandler(lessons)))
		r.Post("/grade", middlewares.Authorize(authorizer, BlockGradePostHandler(lessons)))
	})
	r.mux.Route("/api/payments", func(r chi.Router) {
		r.Get("/", middlewares.Authorize(authorizer, PaymentsGetHandler(payments)))
		r.Post("/batch/{action}", middlewares.Authorize(authorizer, PaymentsBatchPostHandler(payments)))
	})

	// Set NotFound handler
	r.mux.NotFound(NotFoundHandler())
	return nil
}

// StartRouter blocks until the server stops. A shutdown is not an error.
func (r *HTTPRouter) StartRouter(ra string) error {
	logger.Log.Info("Http Router starting")
	r.server.Addr = ra
	err := r.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (r *HTTPRouter) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// Handler exposes the configured mux.
func (r *HTTPRouter) Handler() http.Handler {
	return r.mux
}
