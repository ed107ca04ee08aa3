package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dkoval/atelier/internal/config"
	"github.com/dkoval/atelier/internal/history"
	"github.com/dkoval/atelier/internal/lifecycle"
	"github.com/dkoval/atelier/internal/observability"
	"github.com/dkoval/atelier/internal/protocol"
	"github.com/dkoval/atelier/internal/stylize"
)

type Server struct {
	cfg      config.Config
	manager  *lifecycle.Manager
	store    history.Store
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, manager *lifecycle.Manager, store history.Store, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		store:   store,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up. Other websites must not be able to drive a
				// user's conversation.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/jobtypes", s.handleListJobTypes)
	r.Get("/v1/chat", s.handleChatWS)
	r.Get("/v1/history", s.handleHistory)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"engine_mode":  s.cfg.EngineMode,
		"history_mode": s.historyMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"engine_mode":  s.cfg.EngineMode,
		"history_mode": s.historyMode(),
	})
}

type jobTypeInfo struct {
	Code      string `json:"code"`
	Label     string `json:"label"`
	MinAssets int    `json:"min_assets"`
	PairBased bool   `json:"pair_based"`
	Capacity  int    `json:"capacity"`
}

func (s *Server) handleListJobTypes(w http.ResponseWriter, _ *http.Request) {
	types := stylize.All()
	out := make([]jobTypeInfo, 0, len(types))
	for _, t := range types {
		out = append(out, jobTypeInfo{
			Code:      t.Shortcut(),
			Label:     t.Label(),
			MinAssets: t.MinAssets(),
			PairBased: t.PairBased(),
			Capacity:  stylize.Capacity(t, s.cfg.MaxAssetsPerRequest),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"job_types": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	records, err := s.store.RecentByUser(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("history lookup failed")
		respondError(w, http.StatusInternalServerError, "history_unavailable", "could not load request history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

// handleChatWS runs one websocket conversation. Each connection is bound to
// one user id; outcomes published for that user are pushed as server frames.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outcomes, unsubscribe := s.manager.Subscribe(userID)
	defer unsubscribe()

	outbound := make(chan protocol.ServerMessage, 256)

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for {
			select {
			case <-ctx.Done():
				return
			case out, ok := <-outcomes:
				if !ok {
					return
				}
				select {
				case outbound <- toServerMessage(out):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if s.metrics != nil {
					s.metrics.WSMessages.WithLabelValues("outbound", string(msg.Type)).Inc()
				}
			}
		}
	}()

	// Uploads arrive base64-inlined, so frames can be large.
	conn.SetReadLimit(32 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.pushError(outbound, "invalid_client_message", err.Error())
			continue
		}
		if s.metrics != nil {
			if t, ok := clientMessageType(parsed); ok {
				s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
			}
		}

		ev, err := eventFor(userID, parsed)
		if err != nil {
			s.pushError(outbound, "invalid_client_message", err.Error())
			continue
		}
		if err := s.manager.Dispatch(ctx, ev); err != nil {
			break
		}
	}

	cancel()
	<-forwardDone
	<-writerDone
}

func (s *Server) pushError(outbound chan<- protocol.ServerMessage, code, detail string) {
	msg := protocol.ServerMessage{Type: protocol.TypeRejected, Code: code, ErrorKind: detail}
	select {
	case outbound <- msg:
	default:
		// Writes stay single-threaded; drop if the outbound queue is full.
	}
}

func eventFor(userID string, parsed any) (lifecycle.Event, error) {
	switch m := parsed.(type) {
	case protocol.BeginRequest:
		return lifecycle.Event{UserID: userID, Type: lifecycle.EventBegin}, nil
	case protocol.SelectJobType:
		return lifecycle.Event{UserID: userID, Type: lifecycle.EventSelect, JobTypeCode: m.JobTypeCode}, nil
	case protocol.UploadAsset:
		data, err := base64.StdEncoding.DecodeString(m.DataBase64)
		if err != nil {
			return lifecycle.Event{}, err
		}
		return lifecycle.Event{UserID: userID, Type: lifecycle.EventUpload, AssetData: data, AssetMIME: m.MIME}, nil
	case protocol.SubmitRequest:
		return lifecycle.Event{UserID: userID, Type: lifecycle.EventSubmit, AsFiles: m.AsFiles}, nil
	case protocol.CancelRequest:
		return lifecycle.Event{UserID: userID, Type: lifecycle.EventCancel}, nil
	default:
		return lifecycle.Event{UserID: userID, Type: lifecycle.EventOther}, nil
	}
}

func toServerMessage(out lifecycle.Outcome) protocol.ServerMessage {
	msg := protocol.ServerMessage{
		Code:       out.Code,
		State:      out.State.String(),
		AssetCount: out.AssetCount,
		Discarded:  out.Discarded,
		Capacity:   out.Capacity,
		AsFiles:    out.AsFiles,
		ErrorKind:  string(out.ErrorKind),
	}
	if out.HasJobType {
		msg.JobTypeCode = out.JobType.Shortcut()
	}
	for _, choice := range out.Choices {
		msg.Choices = append(msg.Choices, protocol.JobTypeChoice{
			Code:  choice.Shortcut(),
			Label: choice.Label(),
		})
	}
	for _, res := range out.Results {
		msg.Results = append(msg.Results, protocol.ResultPayload{
			Name:       res.Name,
			MIME:       res.MIME,
			DataBase64: base64.StdEncoding.EncodeToString(res.Data),
		})
	}

	switch out.Kind {
	case lifecycle.OutcomePrompt:
		msg.Type = protocol.TypePrompt
	case lifecycle.OutcomeRejected:
		msg.Type = protocol.TypeRejected
	case lifecycle.OutcomeAccepted:
		msg.Type = protocol.TypeAccepted
	case lifecycle.OutcomeResultReady:
		msg.Type = protocol.TypeResult
	case lifecycle.OutcomeFailed:
		msg.Type = protocol.TypeFailed
	}
	return msg
}

func clientMessageType(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.BeginRequest:
		return m.Type, true
	case protocol.SelectJobType:
		return m.Type, true
	case protocol.UploadAsset:
		return m.Type, true
	case protocol.SubmitRequest:
		return m.Type, true
	case protocol.CancelRequest:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	default:
		return "", false
	}
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil || s.metrics.Latency == nil {
		respondJSON(w, http.StatusOK, observability.LatencySnapshot{GeneratedAt: time.Now().UTC()})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Latency.Snapshot())
}

func (s *Server) historyMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
