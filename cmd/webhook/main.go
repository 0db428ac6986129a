package main

import (
	"context"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/postgres"
	"github.com/airenas/voxinsight/internal/pkg/webhook"
	"github.com/labstack/gommon/color"
)

func main() {
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config
	data := &webhook.Data{}
	data.Port = cfg.GetInt("port")
	data.Secret = cfg.GetString("webhook.secret")

	ctx := context.Background()

	dbPool, err := postgres.NewPool(ctx, cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	data.MsgSender, err = postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}

	if err := webhook.StartWebServer(data); err != nil {
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

                __    __                __
 _      _____  / /_  / /_  ____  ____  / /__
| | /| / / _ \/ __ \/ __ \/ __ \/ __ \/ //_/
| |/ |/ /  __/ /_/ / / / / /_/ / /_/ / ,<
|__/|__/\___/_.___/_/ /_/\____/\____/_/|_|   v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/airenas/voxinsight"))
}
