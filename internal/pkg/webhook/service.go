package webhook

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/messages"
	tapi "github.com/airenas/voxinsight/internal/pkg/transcriber/api"
	"github.com/facebookgo/grace/gracehttp"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, *messages.Options) error
}

// Data keeps data required for service work
type Data struct {
	Port      int
	MsgSender MsgSender
	// Secret is compared to the token query param if set
	Secret string
}

type notification struct {
	Job *tapi.JobData `json:"job"`
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP webhook service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}
	if data.Secret == "" {
		goapp.Log.Warn().Msg("no webhook secret, callbacks are not authenticated")
	}

	e := initRoutes(data)

	e.Server.Addr = ":" + strconv.Itoa(data.Port)
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 10 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.MsgSender == nil {
		return errors.New("no msg sender")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("vox_webhook", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.POST("/webhook", handle(data))
	e.GET("/live", live)

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(c echo.Context) error {
	return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
}

func handle(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("webhook method")()

		if !authorized(data.Secret, c.QueryParam("token")) {
			goapp.Log.Warn().Str("ip", c.RealIP()).Msg("wrong webhook token")
			return echo.NewHTTPError(http.StatusUnauthorized)
		}
		var n notification
		if err := c.Bind(&n); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong body")
		}
		if n.Job == nil || strings.TrimSpace(n.Job.ID) == "" || strings.TrimSpace(n.Job.Status) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "no job id or status")
		}
		goapp.Log.Info().Str("extID", n.Job.ID).Str("status", n.Job.Status).Msg("got notification")
		msg := &messages.WebhookMessage{QueueMessage: amessages.QueueMessage{ID: strings.TrimSpace(n.Job.ID)},
			Status: n.Job.Status, Failure: n.Job.Failure, FailureDetail: n.Job.FailureDetail, Metadata: n.Job.Metadata}
		if err := data.MsgSender.SendMessage(c.Request().Context(), msg, messages.WorkOpts(messages.TypeWebhook)); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		return c.JSONBlob(http.StatusOK, []byte(`{"ok":true}`))
	}
}

func authorized(secret, token string) bool {
	if secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1
}
