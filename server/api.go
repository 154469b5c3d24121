package server

import (
	"net/http"
	"time"

	"github.com/drishti-agent/edge/pkg/www"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/monitor"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

// Per client IP
const (
	resolveRequestLimit = 10
	resolveWindow       = time.Minute
)

type stateJSON struct {
	CameraID    string         `json:"cameraId"`
	Standalone  bool           `json:"standalone"`
	RemoteState string         `json:"remoteState"`
	Monitor     monitor.Status `json:"monitor"`
}

func (s *Server) setupHTTPRoutes() {
	router := httprouter.New()

	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	router.Handler("GET", "/metrics", s.Metrics.Handler())
	www.Handle(s.Log, router, "GET", "/api/state", s.httpGetState)
	www.Handle(s.Log, router, "GET", "/api/incidents", s.httpListIncidents)
	ratelimited("POST", "/api/incidents/:type/resolve", s.httpResolveIncidents, resolveRequestLimit, resolveWindow)
	s.httpRouter = router
}

func (s *Server) httpGetState(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, &stateJSON{
		CameraID:    s.Config.CameraID,
		Standalone:  s.Config.Standalone,
		RemoteState: s.remoteMode,
		Monitor:     s.Monitor.Status(),
	})
}

func (s *Server) httpListIncidents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.Journal == nil {
		www.PanicNotFound()
	}
	limit := www.QueryInt(r, "limit")
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	incidents, err := s.Journal.List(r.Context(), limit)
	www.Check(err)
	www.SendJSON(w, incidents)
}

// Resolve all active incidents of a type, so that alerts of that type resume
func (s *Server) httpResolveIncidents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.Journal == nil {
		www.PanicNotFound()
	}
	t, err := anomaly.ParseType(params.ByName("type"))
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	n, err := s.Journal.Resolve(r.Context(), t, s.now())
	www.Check(err)
	www.SendJSON(w, map[string]any{"resolved": n})
}
