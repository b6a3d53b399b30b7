// shodhd runs the memory engine as a standalone process: load config,
// construct the engine, start its background scheduler, then run one
// record (-record), one retrieve (-query), or, with -demo, a small scripted
// record/retrieve session; with none of these it prints usage. There is no
// HTTP surface here; callers embed engine.Process directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/SarahR1/shodh-memory/config"
	"github.com/SarahR1/shodh-memory/engine"
	"github.com/SarahR1/shodh-memory/model"
	"github.com/SarahR1/shodh-memory/retriever"
)

var (
	flagUser    = flag.String("user", "demo-user", "user id to run the demo session against")
	flagQuery   = flag.String("query", "", "run a single retrieve against the user's namespace and exit")
	flagRecord  = flag.String("record", "", "run a single record against the user's namespace and exit")
	flagDemo    = flag.Bool("demo", false, "seed a few episodes and run a sample retrieval")
	flagTimeout = flag.Duration("timeout", 30*time.Second, "overall command timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	proc := engine.New(cfg, log, nil)

	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	go proc.Run(schedCtx)

	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()

	switch {
	case *flagRecord != "":
		ep, dup, err := proc.Record(ctx, *flagUser, *flagRecord, model.Observation, nil)
		if err != nil {
			fail(err)
		}
		fmt.Printf("recorded id=%s dup=%v importance=%.3f\n", ep.ID, dup, ep.Importance)
	case *flagQuery != "":
		hits, err := proc.Retrieve(ctx, *flagUser, *flagQuery, 5, false)
		if err != nil {
			fail(err)
		}
		printHits(hits)
	case *flagDemo:
		runDemo(ctx, proc, *flagUser)
	default:
		flag.Usage()
	}
}

func runDemo(ctx context.Context, proc *engine.Process, userID string) {
	seed := []string{
		"Migrated the payments service from MySQL to Postgres last night.",
		"Alice fixed the outage in the checkout service within twenty minutes.",
		"The weather was unusually warm for this time of year.",
		"Bob and Alice paired on the Kubernetes cluster upgrade.",
	}
	for _, s := range seed {
		if _, _, err := proc.Record(ctx, userID, s, model.Observation, nil); err != nil {
			fail(err)
		}
	}

	hits, err := proc.Retrieve(ctx, userID, "who worked on the Kubernetes upgrade", 3, false)
	if err != nil {
		fail(err)
	}
	printHits(hits)

	stats := proc.Stats(ctx, userID)
	fmt.Printf("namespace stats: episodes=%d entities=%d edges=%d ann_live=%d density=%.3f\n",
		stats.Episodes, stats.Entities, stats.Edges, stats.ANNLive, stats.Density)
}

func printHits(hits []retriever.Hit) {
	if len(hits) == 0 {
		fmt.Println("no matches")
		return
	}
	for i, h := range hits {
		fmt.Printf("%d. [%.3f] (vec=%.3f graph=%.3f) %s\n", i+1, h.FinalScore, h.VecScore, h.GraphScore, h.Episode.DisplayContent())
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "shodhd:", err)
	os.Exit(1)
}
