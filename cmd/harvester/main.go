// Package main hosts the harvester entrypoint.
//
// Two passes share one binary:
//   - crawl walks the proceedings listing root, each target year's listing and
//     every paper page under a single bounded scheduler, downloads PDFs once,
//     and appends one CSV row per paper to the result log.
//   - annotate classifies every row of the result log and writes the annotated
//     log with an extra Category column.
//
// Configuration comes from an optional YAML file plus PAPERHARVEST_* env vars.
// SIGINT or SIGTERM stops new work; in-flight papers finish and are persisted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/paper-harvester/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
