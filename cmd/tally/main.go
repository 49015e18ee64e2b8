package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"tally/internal/engine"
	"tally/internal/params"
	"tally/internal/uploader"
	"tally/internal/util"
	"tally/internal/worker"

	"gopkg.in/yaml.v3"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	p, err := params.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error in container parameters: %v\n", err)
		os.Exit(worker.ExitCodeFor(err))
	}
	util.Infof("starting tally in %s mode", p.Mode)
	redacted := p.Redacted()
	if data, err := yaml.Marshal(&redacted); err == nil {
		util.Highlightf("params:\n%s", string(data))
	}
	if p.RunInfo != nil && p.RunInfo.CI {
		util.Infof("running under %s", p.RunInfo.Summary())
	}

	up, err := uploader.New(p.Storage)
	if err != nil {
		util.Warnf("storage uploader unavailable: %v", err)
		up = uploader.NoopUploader{}
	}

	w := worker.New(p, engine.NewHTTPClient(p.Engine, nil), up)
	if err := w.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(worker.ExitCodeFor(err))
	}
}
