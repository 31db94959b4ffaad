package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/internal/config"
	"github.com/rbaliyan/eventrx/observable"
	"github.com/rbaliyan/eventrx/source/httpserver"
	"github.com/rbaliyan/eventrx/source/stream"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Answer HTTP requests from an observable of exchanges",
		Long:    "GET requests are answered with Hello World, POST requests echo their body.",
		Example: "  eventrx serve --addr localhost:8080",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			return serve(ctx, l, cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address (defaults EVENTRX_ADDR or :8080)")
	cmd.Flags().Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Requests per second, 0 for unlimited (defaults EVENTRX_RATE_LIMIT)")
	cmd.Flags().IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "Rate limiter burst (defaults EVENTRX_RATE_BURST)")
	return cmd
}

// serve answers requests on l until ctx is done.
func serve(ctx context.Context, l net.Listener, cfg *config.Config) error {
	logger := slog.Default().With("component", "serve")
	srv := httpserver.New(
		httpserver.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		httpserver.WithMiddleware(routes),
		httpserver.WithLogger(logger),
	)

	exchanges, err := eventrx.FromEvents[eventrx.Exchange](eventrx.ServerMap, srv, eventrx.WithName("serve"))
	if err != nil {
		return err
	}

	observer := observable.Observer[eventrx.Exchange]{
		Next: func(ex eventrx.Exchange) {
			logger.Info("got a request", "method", ex.Request.Method, "path", ex.Request.URL.Path)
		},
		Error:    func(err error) { logger.Error("Uh oh!", "error", err) },
		Complete: func() { logger.Info("server is closed") },
	}
	var subs []*observable.Subscription
	for _, obs := range handlers(exchanges, cfg.ChunkSize) {
		sub, err := obs.Subscribe(context.Background(), observer)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	select {
	case <-ctx.Done():
	case err := <-served:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Close(shutdownCtx); err != nil {
		return err
	}
	return <-served
}

// routes mounts the event server behind a chi router.
func routes(next http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/*", next)
	return r
}

// handlers splits the exchanges by method. Each returned observable must
// be subscribed for its requests to be answered.
func handlers(exchanges observable.Observable[eventrx.Exchange], chunkSize int) []observable.Observable[eventrx.Exchange] {
	get := observable.Tap(observable.Filter(exchanges, method(http.MethodGet)), func(ex eventrx.Exchange) {
		httpserver.End(ex.Response, []byte("Hello World"))
	})

	post := observable.MergeMap(observable.Filter(exchanges, method(http.MethodPost)), func(ex eventrx.Exchange) observable.Observable[eventrx.Exchange] {
		return echo(ex, chunkSize)
	})

	other := observable.Tap(observable.Filter(exchanges, func(ex eventrx.Exchange) bool {
		return ex.Request.Method != http.MethodGet && ex.Request.Method != http.MethodPost
	}), func(ex eventrx.Exchange) {
		ex.Response.Header().Set("Allow", "GET, POST")
		ex.Response.WriteHeader(http.StatusMethodNotAllowed)
		httpserver.End(ex.Response)
	})

	return []observable.Observable[eventrx.Exchange]{get, post, other}
}

func method(m string) func(eventrx.Exchange) bool {
	return func(ex eventrx.Exchange) bool { return ex.Request.Method == m }
}

// echo reads the request body as a stream and answers with it. A failed
// read is answered with 400 without ending the POST pipeline.
func echo(ex eventrx.Exchange, chunkSize int) observable.Observable[eventrx.Exchange] {
	return observable.Create(func(ctx context.Context, s observable.Subscriber[eventrx.Exchange]) (observable.Teardown, error) {
		r, err := stream.NewReadable(ex.Request.Body, stream.WithEncoding(stream.EncodingUTF8), stream.WithChunkSize(chunkSize))
		if err != nil {
			return nil, err
		}
		chunks, err := eventrx.FromEvents[string](eventrx.ResponseMap, r, eventrx.WithName("serve.body"))
		if err != nil {
			return nil, err
		}
		sub, err := observable.Reduce(chunks, concat, "").Subscribe(ctx, observable.Observer[string]{
			Next: func(body string) {
				if body == "" {
					body = "No Data!"
				}
				httpserver.End(ex.Response, []byte(body))
				s.Next(ex)
			},
			Error: func(err error) {
				slog.Warn("reading request body failed", "error", err)
				if !errors.Is(err, context.Canceled) {
					http.Error(ex.Response, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				}
				httpserver.End(ex.Response)
				s.Complete()
			},
			Complete: s.Complete,
		})
		if err != nil {
			return nil, err
		}
		return sub.Unsubscribe, nil
	})
}
