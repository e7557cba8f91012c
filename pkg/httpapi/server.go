// Package httpapi exposes the headless dashboard over HTTP: health, Prometheus
// metrics, the committed map layer and the event list.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelcore/sentinel-stream/pkg/backend"
	"github.com/sentinelcore/sentinel-stream/pkg/dashboard"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
)

// Server wraps the HTTP router around a dashboard.
type Server struct {
	dash   *dashboard.Dashboard
	router *mux.Router
}

func New(d *dashboard.Dashboard) *Server {
	s := &Server{dash: d, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(instrument)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/layer", s.handleLayer).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/events/{id}/{action}", s.handleAction).Methods(http.MethodPost)
}

func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("[http] listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Link   string `json:"link"`
	Events int    `json:"events"`
	Region string `json:"region,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Link:   s.dash.Link().String(),
		Events: s.dash.Events().Len(),
		Region: s.dash.Region(),
	})
}

// handleLayer returns the last committed layer. Any of k, x, y or heatmap in
// the query builds a full-fidelity preview for that view instead.
func (s *Server) handleLayer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("k") && !q.Has("x") && !q.Has("y") && !q.Has("heatmap") {
		l := s.dash.Layer()
		if l == nil {
			writeError(w, http.StatusServiceUnavailable, "no layer has been rendered yet")
			return
		}
		writeJSON(w, http.StatusOK, newLayerResponse(l))
		return
	}

	t := s.dash.Transform()
	heat := s.dash.Heatmap()
	var err error
	if t.K, err = floatParam(q.Get("k"), t.K); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if t.X, err = floatParam(q.Get("x"), t.X); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if t.Y, err = floatParam(q.Get("y"), t.Y); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := q.Get("heatmap"); v != "" {
		if heat, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("heatmap: %v", err))
			return
		}
	}
	vp := s.dash.Config().Viewport
	if t.K < vp.MinZoom || t.K > vp.MaxZoom {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("k must be within [%g, %g]", vp.MinZoom, vp.MaxZoom))
		return
	}
	writeJSON(w, http.StatusOK, newLayerResponse(s.dash.Preview(t, heat)))
}

func floatParam(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return v, nil
}

// handleEvents lists events in collection order. region, severity and status
// narrow the list; archived events are only listed when asked for by status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	region := q.Get("region")
	status := intel.Status(q.Get("status"))
	var (
		minSev intel.Severity
		ok     bool
	)
	if raw := q.Get("severity"); raw != "" {
		if minSev, ok = intel.ParseSeverity(raw); !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown severity %q", raw))
			return
		}
	}

	events := s.dash.Events().Filter(func(ev *intel.Event) bool {
		if status != "" {
			if ev.Status != status {
				return false
			}
		} else if ev.Archived() {
			return false
		}
		if region != "" && mapengine.CanonicalRegion(ev.Region) != mapengine.CanonicalRegion(region) {
			return false
		}
		return ev.Severity >= minSev
	})
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	var err error
	switch backend.Action(vars["action"]) {
	case backend.ActionVerify:
		err = s.dash.Verify(r.Context(), id)
	case backend.ActionEscalate:
		err = s.dash.Escalate(r.Context(), id)
	case backend.ActionArchive:
		err = s.dash.Archive(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", vars["action"]))
		return
	}

	switch {
	case err == nil:
		ev, _ := s.dash.Events().Get(id)
		writeJSON(w, http.StatusOK, ev)
	case errors.Is(err, intel.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dashboard.ErrNoBackend):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, backend.ErrUnauthorized):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.WithError(err).WithFields(log.Fields{"id": id, "action": vars["action"]}).Error("[http] status action failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("[http] writing response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
