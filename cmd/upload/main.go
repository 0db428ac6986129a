package main

import (
	"context"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/postgres"
	"github.com/airenas/voxinsight/internal/pkg/reconcile"
	"github.com/airenas/voxinsight/internal/pkg/retry"
	"github.com/airenas/voxinsight/internal/pkg/storage"
	"github.com/airenas/voxinsight/internal/pkg/submit"
	"github.com/airenas/voxinsight/internal/pkg/transcriber"
	"github.com/airenas/voxinsight/internal/pkg/upload"
	"github.com/labstack/gommon/color"
)

func main() {
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config
	data := &upload.Data{}
	data.Port = cfg.GetInt("port")
	var err error

	ctx := context.Background()

	dbPool, err := postgres.NewPool(ctx, cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}

	filer, err := storage.NewFiler(ctx, storage.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key"),
		Secure: cfg.GetBool("filer.secure"), Expiry: cfg.GetDuration("filer.expiry")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init file saver")
	}
	data.Saver = filer

	sender, err := postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}
	data.MsgSender = sender

	r, err := retry.NewFromConfig(cfg)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init retry")
	}
	applier, err := reconcile.NewApplier(db, sender, r)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init applier")
	}
	tr, err := transcriber.NewClient(cfg.GetString("transcriber.url"), cfg.GetString("transcriber.token"),
		cfg.GetString("transcriber.callbackUrl"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init transcriber")
	}
	data.Creator, err = submit.NewSubmitter(&submit.Data{DB: db, Filer: filer, Transcriber: tr, Applier: applier,
		MsgSender: sender, Retry: r})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init submitter")
	}

	err = upload.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
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

                 __                __
    __  ______  / /___  ____ _____/ /
   / / / / __ \/ / __ \/ __ ` + "`" + `/ __  /
  / /_/ / /_/ / / /_/ / /_/ / /_/ /
  \__,_/ .___/_/\____/\__,_/\__,_/   v: %s
      /_/

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/airenas/voxinsight"))
}
