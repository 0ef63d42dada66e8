// shipper-upload uploads the files named on the command line and exits once
// every upload has resolved.
//
// Usage: shipper-upload [-backend name] [-wait 5m] file...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/seantiz/shipper/internal/app"
	"github.com/seantiz/shipper/internal/config"
	"github.com/seantiz/shipper/internal/handle"
	"github.com/seantiz/shipper/internal/uploader"
)

// outcome is one line of output per file.
type outcome struct {
	Path   string           `json:"path"`
	Status string           `json:"status"`
	Result *uploader.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func main() {
	backendName := flag.String("backend", "", "backend to upload to (default: first configured)")
	wait := flag.Duration("wait", 5*time.Minute, "how long to wait for all uploads")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: shipper-upload [-backend name] [-wait 5m] file...")
		os.Exit(2)
	}

	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	reg, err := app.NewRegistry(ctx, cfg, osfs.New(cfg.LocalRoot), nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start uploaders: %v\n", err)
		os.Exit(1)
	}

	m, err := reg.Resolve(*backendName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	paths := flag.Args()
	handles := make([]*handle.Handle[uploader.Result], len(paths))
	for i, p := range paths {
		handles[i] = m.Upload(p)
	}

	waitCtx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for i, h := range handles {
		out := outcome{Path: paths[i]}
		res, err := h.Wait(waitCtx)
		if err != nil {
			failed++
			out.Status = h.State().String()
			out.Error = err.Error()
		} else {
			out.Status = "completed"
			out.Result = &res
		}
		if err := enc.Encode(out); err != nil {
			logger.Error("write outcome", "path", out.Path, "error", err)
			failed++
		}
	}

	closeCtx, closeCancel := context.WithTimeout(ctx, 10*time.Second)
	defer closeCancel()
	for _, h := range handles {
		h.Cancel()
	}
	if err := reg.Close(closeCtx); err != nil {
		logger.Warn("close uploaders", "error", err)
	}

	if failed > 0 {
		os.Exit(1)
	}
}
