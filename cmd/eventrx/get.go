package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/internal/config"
	"github.com/rbaliyan/eventrx/observable"
	"github.com/rbaliyan/eventrx/source/httpclient"
	"github.com/rbaliyan/eventrx/source/stream"
	"github.com/spf13/cobra"
)

func newGetCmd(cfg *config.Config) *cobra.Command {
	var headers []string
	cmd := &cobra.Command{
		Use:     "get URL",
		Short:   "Print the body of a GET request",
		Example: "  eventrx get https://example.com",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []httpclient.Option{
				httpclient.WithEncoding(stream.EncodingUTF8),
				httpclient.WithChunkSize(cfg.ChunkSize),
			}
			for _, h := range headers {
				k, v, ok := cutHeader(h)
				if !ok {
					return fmt.Errorf("invalid header %q, want Key: Value", h)
				}
				opts = append(opts, httpclient.WithHeader(k, v))
			}
			req, err := httpclient.NewRequest(cmd.Context(), http.MethodGet, args[0], nil, opts...)
			if err != nil {
				return err
			}
			body, err := fetch(cmd, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Request header as Key: Value, repeatable")
	return cmd
}

// fetch subscribes to the response bodies of req, sends it and waits for
// the reduced body.
func fetch(cmd *cobra.Command, req *httpclient.Request) (string, error) {
	responses, err := eventrx.FromEvents[*httpclient.Response](eventrx.RequestMap, req, eventrx.WithName("get"))
	if err != nil {
		return "", err
	}
	responses = observable.Tap(responses, func(res *httpclient.Response) {
		slog.Debug("response", "status", res.StatusCode(), "url", req.HTTPRequest().URL.String())
	})
	chunks := observable.MergeMap(responses, func(res *httpclient.Response) observable.Observable[string] {
		obs, err := eventrx.FromEvents[string](eventrx.ResponseMap, res)
		if err != nil {
			return observable.Throw[string](err)
		}
		return obs
	})

	var body string
	done := make(chan error, 1)
	sub, err := observable.Reduce(chunks, concat, "").Subscribe(cmd.Context(), observable.Observer[string]{
		Next:     func(b string) { body = b },
		Error:    func(err error) { done <- err },
		Complete: func() { done <- nil },
	})
	if err != nil {
		return "", err
	}
	defer sub.Unsubscribe()

	if err := req.End(); err != nil {
		return "", err
	}
	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
		slog.Debug("all done")
		return body, nil
	case <-cmd.Context().Done():
		req.Abort()
		return "", cmd.Context().Err()
	}
}

func cutHeader(h string) (string, string, bool) {
	k, v, ok := strings.Cut(h, ":")
	k = strings.TrimSpace(k)
	return k, strings.TrimSpace(v), ok && k != ""
}
