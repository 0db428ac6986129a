package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/analyzer"
	"github.com/airenas/voxinsight/internal/pkg/llm"
	"github.com/airenas/voxinsight/internal/pkg/poll"
	"github.com/airenas/voxinsight/internal/pkg/postgres"
	"github.com/airenas/voxinsight/internal/pkg/reconcile"
	"github.com/airenas/voxinsight/internal/pkg/retry"
	"github.com/airenas/voxinsight/internal/pkg/storage"
	"github.com/airenas/voxinsight/internal/pkg/submit"
	"github.com/airenas/voxinsight/internal/pkg/transcriber"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/airenas/voxinsight/internal/pkg/worker"
	"github.com/labstack/gommon/color"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"
)

func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	data := &worker.ServiceData{}
	ctx := context.Background()

	dbPool, err := postgres.NewPool(ctx, cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	if cfg.GetBool("db.migrate") {
		if err := postgres.Migrate(ctx, dbPool); err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't migrate db")
		}
	}

	data.GueClient, err = gue.NewClient(pgxv5.NewConnPool(dbPool))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue")
	}
	data.WorkerCount = cfg.GetInt("worker.count")
	data.Testing = cfg.GetBool("worker.testing")
	data.AnalyzeTimeout = defaultV(cfg.GetDuration("worker.analyzeTimeout"), time.Minute*30)
	sender, err := postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}
	data.MsgSender = sender
	filer, err := storage.NewFiler(ctx, storage.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key"),
		Secure: cfg.GetBool("filer.secure"), Expiry: cfg.GetDuration("filer.expiry")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init filer")
	}
	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}
	data.DB = db

	data.Retry, err = retry.NewFromConfig(cfg)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init retry")
	}

	tr, err := transcriber.NewClient(cfg.GetString("transcriber.url"), cfg.GetString("transcriber.token"),
		cfg.GetString("transcriber.callbackUrl"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init transcriber")
	}
	applier, err := reconcile.NewApplier(db, sender, data.Retry)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init applier")
	}
	data.Applier = applier
	data.Submitter, err = submit.NewSubmitter(&submit.Data{DB: db, Filer: filer, Transcriber: tr, Applier: applier,
		MsgSender: sender, Retry: data.Retry})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init submitter")
	}
	data.Poller, err = poll.NewFromConfig(tr, applier, cfg)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init poller")
	}
	data.Reconciler, err = reconcile.NewReconciler(db, applier, tr, data.Retry)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init reconciler")
	}

	llmClient, err := llm.NewClient(cfg.GetString("llm.url"), cfg.GetString("llm.key"),
		defaultV(cfg.GetString("llm.model"), "gpt-4o-mini"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init llm client")
	}
	an, err := analyzer.NewFromConfig(llmClient, cfg)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init analyzer")
	}
	if data.AnalyzeTimeout < an.Timeout() {
		goapp.Log.Warn().Dur("analyze", data.AnalyzeTimeout).Dur("request", an.Timeout()).
			Msg("analysis deadline is shorter than one model request")
	}
	data.Analyzer = an

	printBanner()
	utils.StartPprof(cfg.GetInt("debug.port"))

	ctx, cancelFunc := context.WithCancel(context.Background())
	doneCh, err := worker.StartWorkerService(ctx, data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start worker service")
	}
	/////////////////////// Waiting for terminate
	waitCh := make(chan os.Signal, 2)
	signal.Notify(waitCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-waitCh:
		goapp.Log.Info().Msg("Got exit signal")
	case <-doneCh:
		goapp.Log.Info().Msg("Service exit")
	}
	cancelFunc()
	select {
	case <-doneCh:
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
	}
}

func defaultV[T comparable](v, d T) T {
	var zero T
	if v == zero {
		return d
	}
	return v
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
 _    ______  _  __
| |  / / __ \| |/ /
| | / / / / /|   /
| |/ / /_/ //   |
|___/\____//_/|_|

                      __
 _      ______  _____/ /_____  _____
| | /| / / __ \/ ___/ //_/ _ \/ ___/
| |/ |/ / /_/ / /  / ,< /  __/ /
|__/|__/\____/_/  /_/|_|\___/_/      v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/airenas/voxinsight"))
}
