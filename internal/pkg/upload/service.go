package upload

import (
	"context"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/submit"
	"github.com/airenas/voxinsight/internal/pkg/utils"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// FileSaver provides save file functionality
type FileSaver interface {
	SaveFile(ctx context.Context, name string, r io.Reader, fileSize int64) error
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, *messages.Options) error
}

// JobCreator creates job rows
type JobCreator interface {
	Create(ctx context.Context, in *submit.Input) (string, error)
}

// Data keeps data required for service work
type Data struct {
	Port      int
	Saver     FileSaver
	Creator   JobCreator
	MsgSender MsgSender
}

const (
	prmFile = "file"
	prmName = "name"
)

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP upload service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 180 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Saver == nil {
		return errors.New("no file saver")
	}
	if data.Creator == nil {
		return errors.New("no job creator")
	}
	if data.MsgSender == nil {
		return errors.New("no msg sender")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("vox_upload", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.POST("/upload", upload(data))
	e.GET("/live", live(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

type result struct {
	ID string `json:"id"`
}

func upload(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("upload method")()
		ctx := c.Request().Context()

		owner := utils.OwnerID(c.Request().Header)
		if owner == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "no user")
		}

		form, err := c.MultipartForm()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "no multipart form data")
		}
		defer cleanFiles(form)
		if err = validateFormParams(form); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		fHeader := takeFirst(form.File[prmFile], nil)
		if fHeader == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "no file")
		}
		ext := strings.ToLower(filepath.Ext(fHeader.Filename))
		if !utils.SupportAudioExt(ext) {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong file extension: "+ext)
		}
		id := uuid.New().String()
		fn, err := utils.MakeValidateFileName(id, fHeader.Filename)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong file name: "+fHeader.Filename)
		}
		file, err := fHeader.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong input form")
		}
		defer file.Close()

		if err = data.Saver.SaveFile(ctx, fn, file, fHeader.Size); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		_, err = data.Creator.Create(ctx, &submit.Input{ID: id, OwnerID: owner, FileName: fn,
			Name: takeFirst(form.Value[prmName], "")})
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return toHTTPError(err)
		}
		err = data.MsgSender.SendMessage(ctx, messages.NewJobMessage(id), messages.WorkOpts(messages.TypeSubmit))
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		goapp.Log.Info().Str("ID", id).Str("owner", owner).Msg("uploaded")
		return c.JSON(http.StatusOK, result{ID: id})
	}
}

func toHTTPError(err error) error {
	switch utils.KindOf(err) {
	case utils.KindAuthentication:
		return echo.NewHTTPError(http.StatusUnauthorized)
	case utils.KindValidation:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError)
}

func takeFirst[K interface{}](a []K, d K) K {
	if len(a) > 0 {
		return a[0]
	}
	return d
}

func cleanFiles(f *multipart.Form) {
	if f != nil {
		_ = f.RemoveAll()
	}
}

func validateFormParams(form *multipart.Form) error {
	for k := range form.Value {
		if k != prmName {
			return errors.Errorf("unknown parameter '%s'", k)
		}
	}
	for k, v := range form.File {
		if k != prmFile {
			return errors.Errorf("unexpected form file parameters '%v'", k)
		}
		if len(v) > 1 {
			return errors.New("expected one file")
		}
	}
	return nil
}
