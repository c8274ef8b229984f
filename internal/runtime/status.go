package runtime

import (
	"net/http"

	"github.com/drblury/logprocessor/internal/runtime/jsoncodec"
	metricspkg "github.com/drblury/logprocessor/internal/runtime/metrics"
)

// StatusPath serves the JSON status document next to the scrape endpoint.
const StatusPath = "/status"

// Status is the document served on StatusPath.
type Status struct {
	Service  string               `json:"service"`
	Channel  string               `json:"channel"`
	PubSub   string               `json:"pubsub_system"`
	Handlers []*HandlerInfo       `json:"handlers"`
	Recorder *metricspkg.Snapshot `json:"recorder,omitempty"`
}

func (s *Service) registerStatusHandler() {
	s.RegisterHTTPHandler(s.Conf.MetricsPort, StatusPath, http.HandlerFunc(s.handleGetStatus))
}

// Status returns the current status document.
func (s *Service) Status() Status {
	s.handlersMu.RLock()
	handlers := make([]*HandlerInfo, len(s.handlers))
	copy(handlers, s.handlers)
	s.handlersMu.RUnlock()

	st := Status{
		Service:  s.Conf.ServiceName,
		Channel:  s.Conf.Channel,
		PubSub:   s.Conf.PubSubSystem,
		Handlers: handlers,
	}
	if s.recorder != nil {
		snap := s.recorder.Snapshot()
		st.Recorder = &snap
	}
	return st
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(s.Status())
	if err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
