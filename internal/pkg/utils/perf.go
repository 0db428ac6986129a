package utils

import (
	"fmt"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"

	_ "net/http/pprof"
)

// StartPprof serves net/http/pprof handlers on a separate port, port <= 0 disables it
func StartPprof(port int) {
	if port <= 0 {
		goapp.Log.Debug().Msg("no debug.port, pprof disabled")
		return
	}
	go func() {
		goapp.Log.Info().Int("port", port).Msg("starting pprof endpoint")
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), ReadHeaderTimeout: 5 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			goapp.Log.Error().Err(err).Msg("pprof endpoint stopped")
		}
	}()
}
