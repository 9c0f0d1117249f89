package dividinghead

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// apiRoutes maps the /api paths onto dispatcher operations.
var apiRoutes = map[string]string{
	"/status":         OpGetStatus,
	"/move":           OpMove,
	"/divide":         OpDivide,
	"/reset":          OpReset,
	"/emergency_stop": OpEmergencyStop,
	"/enable_motor":   OpEnableMotor,
}

func newRouter(d *Dispatcher) chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		for path, op := range apiRoutes {
			r.Get(path, operationHandler(d, op))
		}
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, Result{Err: errUnknownOperation}.Map())
	})
	return r
}

// operationHandler answers every dispatched request with 200; failures are carried in the payload.
func operationHandler(d *Dispatcher, op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		params := make(map[string]string, len(query))
		for k := range query {
			params[k] = query.Get(k)
		}
		w.Header().Set("Cache-Control", "no-store, max-age=0")
		render.JSON(w, r, d.Dispatch(r.Context(), op, params).Map())
	}
}

func startHTTPServer(addr string, d *Dispatcher, logger logging.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	srv := &http.Server{
		Handler:           newRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Infof("serving dividing head API on http://%s/api", ln.Addr())
	utils.PanicCapturingGo(func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("dividing head API server stopped", "error", err)
		}
	})
	return srv, nil
}
