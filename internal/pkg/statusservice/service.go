package statusservice

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/gorilla/websocket"

	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/utils"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DB loads job info
type DB interface {
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
	Live(ctx context.Context) error
}

// WSConnHandler WwbSocketConnection wrapper
type WSConnHandler interface {
	HandleConnection(conn WsConn, owner string) error
	GetConnections(owner, id string) ([]WsConn, bool)
}

// Data keeps data required for service work
type Data struct {
	Port      int
	DB        DB
	WSHandler WSConnHandler
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP status service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 10 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("vox_status", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.GET("/status/:id", statusHandler(data))
	e.GET("/result/:id", resultHandler(data))
	e.GET("/live", live(data))
	e.GET("/subscribe", subscribeHandler(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		if err := data.DB.Live(c.Request().Context()); err != nil {
			goapp.Log.Error().Err(err).Msg("db not live")
			return c.JSONBlob(http.StatusServiceUnavailable, []byte(`{"service":"OK","db":"FAIL"}`))
		}
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK","db":"OK"}`))
	}
}

type status struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	AnalysisStatus string    `json:"analysisStatus"`
	Error          string    `json:"error,omitempty"`
	Created        time.Time `json:"created"`
	Updated        time.Time `json:"updated"`
}

type result struct {
	status
	Name       string                    `json:"name,omitempty"`
	Transcript string                    `json:"transcript,omitempty"`
	Analysis   *persistence.AnalysisData `json:"analysis,omitempty"`
}

func statusHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("status method")()

		job, err := loadOwned(c, data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, mapStatus(job))
	}
}

func resultHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("result method")()

		job, err := loadOwned(c, data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, &result{status: *mapStatus(job), Name: utils.FromSQLStr(job.Name),
			Transcript: utils.FromSQLStr(job.TranscriptionText), Analysis: job.AnalysisData})
	}
}

// loadOwned returns 404 for a job of another owner to not leak its existence
func loadOwned(c echo.Context, data *Data) (*persistence.Job, error) {
	owner := utils.OwnerID(c.Request().Header)
	if owner == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "no user")
	}
	id := c.Param("id")
	if id == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "No ID")
	}
	job, err := data.DB.LoadJob(c.Request().Context(), id)
	if err != nil {
		goapp.Log.Error().Err(err).Send()
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "Service error")
	}
	if job == nil || job.OwnerID != owner {
		return nil, echo.NewHTTPError(http.StatusNotFound, "No job "+id)
	}
	return job, nil
}

func mapStatus(job *persistence.Job) *status {
	return &status{ID: job.ID, Status: job.Status, AnalysisStatus: job.AnalysisStatus, Error: utils.FromSQLStr(job.Error),
		Created: job.Created, Updated: job.Updated}
}

// StatusSnapshot loads the current status of an owned job for new subscribers
func StatusSnapshot(db StatusDB) Snapshot {
	return func(ctx context.Context, owner, id string) (interface{}, bool) {
		job, err := db.LoadJob(ctx, id)
		if err != nil {
			goapp.Log.Error().Err(err).Str("ID", id).Msg("can't load job")
			return nil, false
		}
		if job == nil || job.OwnerID != owner {
			return nil, false
		}
		return mapStatus(job), true
	}
}

func validate(data *Data) error {
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.WSHandler == nil {
		return fmt.Errorf("no WSHandler")
	}
	return nil
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

func subscribeHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		owner := utils.OwnerID(c.Request().Header)
		if owner == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "no user")
		}
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		return data.WSHandler.HandleConnection(ws, owner)
	}
}
