package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog/log"

	"github.com/airheartdev/realtime"
)

const applicationJSON = "application/json"
const RequestIDHeader = "X-Request-ID"
const authorizationHeader = "Authorization"

type (
	Handler struct {
		db       *realtime.Database
		options  *Options
		events   *sse.Server
		upgrader websocket.Upgrader

		mu    sync.Mutex
		feeds map[string]*feed
	}

	// feed is one database listener publishing into an SSE stream, shared
	// by every client connected to that stream.
	feed struct {
		listener *realtime.Listener
		clients  int
	}

	Options struct {
		authFn   AuthFn
		statusFn StatusFn
		checkWS  func(r *http.Request) bool
	}

	AuthFn   func(ctx context.Context, token string) bool
	StatusFn func(err error) int
)

type Option func(o *Options)

func WithAuth(fn AuthFn) Option {
	return func(o *Options) {
		o.authFn = fn
	}
}

// WithStatus maps backend errors to HTTP status codes. Unmapped errors (0)
// fall back to the defaults.
func WithStatus(fn StatusFn) Option {
	return func(o *Options) {
		o.statusFn = fn
	}
}

func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(o *Options) {
		o.checkWS = fn
	}
}

func New(db *realtime.Database, options ...Option) *Handler {
	opts := &Options{
		authFn: func(ctx context.Context, token string) bool { return true },
	}
	for _, option := range options {
		option(opts)
	}

	events := sse.New()
	events.AutoReplay = false

	return &Handler{
		db:       db,
		options:  opts,
		events:   events,
		upgrader: websocket.Upgrader{CheckOrigin: opts.checkWS},
		feeds:    make(map[string]*feed),
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/db/*", h.HandleGet)
	r.Get("/db", h.HandleGet)
	r.Put("/db/*", h.HandleSet)
	r.Patch("/db/*", h.HandleUpdate)
	r.Post("/db/*", h.HandlePush)
	r.Delete("/db/*", h.HandleRemove)
	r.Get("/events/*", h.HandleEvents)
	r.Get("/ws/*", h.HandleWebsocket)
	r.Post("/auth", h.HandleAuth)
	r.Get("/debug/subscriptions", h.HandleSubscriptions)
	return r
}

// Close detaches every SSE feed and stops the event server.
func (h *Handler) Close() {
	h.mu.Lock()
	for id, f := range h.feeds {
		f.listener.Close()
		delete(h.feeds, id)
	}
	h.mu.Unlock()
	h.events.Close()
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.validateRequest(w, r) {
		return
	}

	q, err := h.query(r)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	snap, err := q.Get(r.Context())
	if err != nil {
		h.failErr(w, err)
		return
	}

	val := snap.Val()
	if r.URL.Query().Get("format") == "export" {
		val = snap.Export()
	}
	writeJSON(w, http.StatusOK, val)
}

func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	if !h.validateRequest(w, r) {
		return
	}

	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	ref := h.ref(r)
	var f *realtime.Future[struct{}]
	if p := r.URL.Query().Get("priority"); p != "" {
		f = ref.SetWithPriority(value, parsePriority(p))
	} else {
		f = ref.Set(value)
	}
	if _, err := f.Wait(r.Context()); err != nil {
		h.failErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.validateRequest(w, r) {
		return
	}

	values := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	if _, err := h.ref(r).Update(values).Wait(r.Context()); err != nil {
		h.failErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (h *Handler) HandlePush(w http.ResponseWriter, r *http.Request) {
	if !h.validateRequest(w, r) {
		return
	}

	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	child, f := h.ref(r).Push(value)
	if _, err := f.Wait(r.Context()); err != nil {
		h.failErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PushResponse{Name: child.Key()})
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	if !h.validateRequest(w, r) {
		return
	}

	if _, err := h.ref(r).Remove().Wait(r.Context()); err != nil {
		h.failErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	if !h.validateRequest(w, r) {
		return
	}

	req := new(AuthRequest)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.db.Auth(req.Token).Wait(r.Context())
	if err != nil {
		h.failErr(w, err)
		return
	}

	resp := AuthResponse{Claims: res.Claims}
	if !res.Expires.IsZero() {
		resp.Expires = res.Expires.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !h.validateRequest(w, r) {
		return
	}

	stats := h.db.Subscriptions()
	out := make([]SubscriptionStat, 0, len(stats))
	for _, s := range stats {
		out = append(out, SubscriptionStat{
			Path:      s.Location.String(),
			Type:      s.Type.String(),
			Params:    s.Params,
			Listeners: s.Listeners,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleEvents streams one event type as server-sent events. Clients of the
// same stream share a single database listener.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if !h.validateRequest(w, r) {
		return
	}

	stream, err := h.stream(r)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	id := stream.Type().String() + ":" + stream.Query().Location().String() + ":" + stream.Query().Params().String()
	f, err := h.ensureFeed(id, stream)
	if err != nil {
		h.failErr(w, err)
		return
	}
	defer h.release(id, f)

	q := r.URL.Query()
	q.Set("stream", id)
	r.URL.RawQuery = q.Encode()
	h.events.ServeHTTP(w, r)
}

// ensureFeed returns the feed for id with one more client counted,
// creating its listener and SSE stream if this is the first client.
func (h *Handler) ensureFeed(id string, stream *realtime.EventStream) (*feed, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if f, ok := h.feeds[id]; ok {
		f.clients++
		return f, nil
	}

	h.events.CreateStream(id)
	f := &feed{clients: 1}
	l, err := stream.ListenWithCancel(func(ev realtime.Event) {
		data, err := json.Marshal(newEventMessage(ev))
		if err != nil {
			log.Err(err).Msgf("rest: encode event for %v", id)
			return
		}
		h.events.Publish(id, &sse.Event{Event: []byte(ev.Type.String()), Data: data})
	}, func(err error) {
		h.mu.Lock()
		if h.feeds[id] == f {
			delete(h.feeds, id)
		}
		h.mu.Unlock()
		h.events.RemoveStream(id)
	})
	if err != nil {
		h.events.RemoveStream(id)
		return nil, err
	}
	f.listener = l
	h.feeds[id] = f
	log.Info().Msgf("rest: feed created %v", id)
	return f, nil
}

// release drops one client of f. The last client closes the listener, so
// the store registration goes away with it.
func (h *Handler) release(id string, f *feed) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f.clients--
	if f.clients > 0 || h.feeds[id] != f {
		return
	}
	delete(h.feeds, id)
	f.listener.Close()
	h.events.RemoveStream(id)
	log.Info().Msgf("rest: feed closed %v", id)
}

func (h *Handler) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !h.validateRequest(w, r) {
		return
	}

	stream, err := h.stream(r)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Err(err).Msgf("rest: websocket upgrade")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := stream.Chan(ctx)
	if err != nil {
		_ = conn.WriteJSON(ErrorResponse{Error: err.Error()})
		return
	}

	// reader detects the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(newEventMessage(ev)); err != nil {
			log.Err(err).Msgf("rest: websocket write")
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Handler) ref(r *http.Request) *realtime.Reference {
	return h.db.Ref(chi.URLParam(r, "*"))
}

func (h *Handler) query(r *http.Request) (realtime.Query, error) {
	q := h.ref(r).Query
	args := r.URL.Query()

	if v := args.Get("startAt"); v != "" || args.Get("startAtName") != "" {
		q = q.StartAt(realtime.Bound{Priority: optionalPriority(v), Name: args.Get("startAtName")})
	}
	if v := args.Get("endAt"); v != "" || args.Get("endAtName") != "" {
		q = q.EndAt(realtime.Bound{Priority: optionalPriority(v), Name: args.Get("endAtName")})
	}
	if v := args.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, errors.New("limit must be a non-negative integer")
		}
		q = q.Limit(n)
	}
	return q, nil
}

func (h *Handler) stream(r *http.Request) (*realtime.EventStream, error) {
	q, err := h.query(r)
	if err != nil {
		return nil, err
	}
	name := r.URL.Query().Get("type")
	if name == "" {
		name = realtime.ValueChanged.String()
	}
	t, err := realtime.ParseEventType(name)
	if err != nil {
		return nil, err
	}
	return q.On(t), nil
}

func optionalPriority(v string) any {
	if v == "" {
		return nil
	}
	return parsePriority(v)
}

func parsePriority(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func (h *Handler) validateRequest(w http.ResponseWriter, r *http.Request) bool {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)

	switch r.Method {
	case http.MethodPut, http.MethodPatch, http.MethodPost:
		if !strings.HasPrefix(r.Header.Get("Content-Type"), applicationJSON) {
			w.WriteHeader(http.StatusBadRequest)
			return false
		}
	}

	if h.options.authFn != nil {
		auth := strings.TrimPrefix(r.Header.Get(authorizationHeader), "Bearer ")
		if !h.options.authFn(r.Context(), auth) {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
	}

	return true
}

func (h *Handler) failErr(w http.ResponseWriter, err error) {
	status := 0
	if h.options.statusFn != nil {
		status = h.options.statusFn(err)
	}
	if status == 0 {
		var (
			regErr  *realtime.RegistrationError
			authErr *realtime.AuthError
		)
		switch {
		case errors.As(err, &authErr):
			status = http.StatusUnauthorized
		case errors.As(err, &regErr):
			status = http.StatusForbidden
		case errors.Is(err, realtime.ErrUnsupportedValue):
			status = http.StatusBadRequest
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusInternalServerError
		}
	}
	h.fail(w, status, err)
}

func (h *Handler) fail(w http.ResponseWriter, status int, err error) {
	log.Err(err).Msgf("rest: request failed with %d", status)
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", applicationJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msgf("rest: encode response")
	}
}
