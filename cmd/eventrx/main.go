// Command eventrx runs event sources through observable pipelines: it prints
// files and URLs read as streams, serves HTTP from an observable of
// request/response exchanges and lists the registered event maps.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rbaliyan/eventrx/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := newRootCmd(cfg).ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
