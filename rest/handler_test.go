package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/airheartdev/realtime"
	"github.com/airheartdev/realtime/memory"
)

type HandlerSuite struct {
	suite.Suite
	store   *memory.Store
	db      *realtime.Database
	handler *Handler
	server  *httptest.Server
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = memory.New()
	s.db = realtime.New(s.store)
	s.handler = New(s.db, WithStatus(func(err error) int {
		if errors.Is(err, memory.ErrPermissionDenied) {
			return http.StatusForbidden
		}
		return 0
	}))
	s.server = httptest.NewServer(s.handler.Routes())
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
	s.handler.Close()
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, err := http.NewRequestWithContext(context.TODO(), method, path, reader)
	s.Require().NoError(err)
	req.Header.Add("Content-Type", "application/json")

	buf := httptest.NewRecorder()
	s.handler.Routes().ServeHTTP(buf, req)
	return buf
}

func (s *HandlerSuite) decode(buf *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(buf.Body.Bytes(), v))
}

func (s *HandlerSuite) TestSetThenGet() {
	buf := s.do(http.MethodPut, "/db/users/ann", `{"age":31}`)
	s.Equal(200, buf.Result().StatusCode)
	s.NotEmpty(buf.Header().Get(RequestIDHeader))

	buf = s.do(http.MethodGet, "/db/users", "")
	s.Equal(200, buf.Result().StatusCode)
	var got map[string]any
	s.decode(buf, &got)
	s.Equal(map[string]any{"ann": map[string]any{"age": 31.0}}, got)
}

func (s *HandlerSuite) TestUpdateAndRemove() {
	s.do(http.MethodPut, "/db/user", `{"name":"ann","age":30}`)
	buf := s.do(http.MethodPatch, "/db/user", `{"age":31,"pets/cat":"tom"}`)
	s.Equal(200, buf.Result().StatusCode)
	s.Equal(map[string]any{"name": "ann", "age": 31.0, "pets": map[string]any{"cat": "tom"}},
		s.store.Value(realtime.ParseLocation("user")))

	buf = s.do(http.MethodDelete, "/db/user/pets", "")
	s.Equal(200, buf.Result().StatusCode)
	s.Equal(map[string]any{"name": "ann", "age": 31.0}, s.store.Value(realtime.ParseLocation("user")))
}

func (s *HandlerSuite) TestPushReturnsName() {
	buf := s.do(http.MethodPost, "/db/messages", `{"text":"hi"}`)
	s.Equal(200, buf.Result().StatusCode)

	var resp PushResponse
	s.decode(buf, &resp)
	s.NotEmpty(resp.Name)
	s.Equal(map[string]any{"text": "hi"}, s.store.Value(realtime.ParseLocation("messages").Child(resp.Name)))
}

func (s *HandlerSuite) TestPriorityAndQuery() {
	s.do(http.MethodPut, "/db/list/a?priority=3", `"A"`)
	s.do(http.MethodPut, "/db/list/b?priority=1", `"B"`)
	s.do(http.MethodPut, "/db/list/c?priority=2", `"C"`)

	buf := s.do(http.MethodGet, "/db/list?startAt=2", "")
	var got map[string]any
	s.decode(buf, &got)
	s.Equal(map[string]any{"a": "A", "c": "C"}, got)

	buf = s.do(http.MethodGet, "/db/list/b?format=export", "")
	var exported map[string]any
	s.decode(buf, &exported)
	s.Equal(map[string]any{".value": "B", ".priority": 1.0}, exported)

	buf = s.do(http.MethodGet, "/db/list?limit=-1", "")
	s.Equal(http.StatusBadRequest, buf.Result().StatusCode)
}

func (s *HandlerSuite) TestRejectsNonJSONWrites() {
	req := httptest.NewRequest(http.MethodPut, "/db/x", strings.NewReader("1"))
	buf := httptest.NewRecorder()
	s.handler.Routes().ServeHTTP(buf, req)
	s.Equal(http.StatusBadRequest, buf.Result().StatusCode)
}

func (s *HandlerSuite) TestRequestWithAuth() {
	authCalled := 0
	handler := New(s.db, WithAuth(func(ctx context.Context, token string) bool {
		authCalled++
		return token == "TOKEN"
	}))

	req := httptest.NewRequest(http.MethodGet, "/db/x", nil)
	req.Header.Add(RequestIDHeader, "1")
	req.Header.Add(authorizationHeader, "Bearer TOKEN")
	buf := httptest.NewRecorder()
	handler.Routes().ServeHTTP(buf, req)
	s.Equal(200, buf.Result().StatusCode)
	s.Equal("1", buf.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/db/x", nil)
	req.Header.Add(authorizationHeader, "nope")
	buf = httptest.NewRecorder()
	handler.Routes().ServeHTTP(buf, req)
	s.Equal(http.StatusUnauthorized, buf.Result().StatusCode)
	s.Equal(2, authCalled)
}

func (s *HandlerSuite) TestAuthEndpoint() {
	store := memory.New(memory.WithSecret([]byte("s3cret")), memory.WithRequireAuth())
	handler := New(realtime.New(store), WithStatus(func(err error) int {
		if errors.Is(err, memory.ErrPermissionDenied) {
			return http.StatusForbidden
		}
		return 0
	}))
	s.handler.Close()
	s.handler = handler

	buf := s.do(http.MethodGet, "/db/x", "")
	s.Equal(http.StatusForbidden, buf.Result().StatusCode)

	buf = s.do(http.MethodPost, "/auth", `{"token":"garbage"}`)
	s.Equal(http.StatusUnauthorized, buf.Result().StatusCode)

	token, err := store.Token(map[string]any{"uid": "ann"}, time.Hour)
	s.Require().NoError(err)
	buf = s.do(http.MethodPost, "/auth", `{"token":"`+token+`"}`)
	s.Equal(200, buf.Result().StatusCode)

	var resp AuthResponse
	s.decode(buf, &resp)
	s.Equal("ann", resp.Claims["uid"])
	s.NotZero(resp.Expires)

	buf = s.do(http.MethodGet, "/db/x", "")
	s.Equal(200, buf.Result().StatusCode)
}

func (s *HandlerSuite) TestWebsocketStreamsEvents() {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/room?type=child_added"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	s.Eventually(func() bool {
		return len(s.db.Subscriptions()) == 1
	}, time.Second, time.Millisecond)

	s.do(http.MethodPut, "/db/room/a", `"hello"`)
	s.do(http.MethodPut, "/db/room/b", `"world"`)

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	var first, second EventMessage
	s.Require().NoError(conn.ReadJSON(&first))
	s.Require().NoError(conn.ReadJSON(&second))

	s.Equal("child_added", first.Type)
	s.Equal("/room/a", first.Path)
	s.Equal("hello", first.Value)
	s.Equal("b", second.Key)
	s.Equal("a", second.PrevKey)

	conn.Close()
	s.Eventually(func() bool {
		return len(s.db.Subscriptions()) == 0
	}, time.Second, 5*time.Millisecond)
}

func (s *HandlerSuite) TestSubscriptionsEndpoint() {
	l1, err := s.db.Ref("a").OnValue().Listen(func(realtime.Event) {})
	s.Require().NoError(err)
	defer l1.Close()
	l2, err := s.db.Ref("a").OnValue().Listen(func(realtime.Event) {})
	s.Require().NoError(err)
	defer l2.Close()

	buf := s.do(http.MethodGet, "/debug/subscriptions", "")
	var stats []SubscriptionStat
	s.decode(buf, &stats)
	s.Equal([]SubscriptionStat{{Path: "/a", Type: "value", Listeners: 2}}, stats)
}

func (s *HandlerSuite) TestEventsFeedIsShared() {
	stream := s.db.Ref("feed").OnValue()
	first, err := s.handler.ensureFeed("value:/feed:", stream)
	s.Require().NoError(err)
	second, err := s.handler.ensureFeed("value:/feed:", stream)
	s.Require().NoError(err)
	s.Same(first, second)

	stats := s.db.Subscriptions()
	s.Require().Len(stats, 1)
	s.Equal(1, stats[0].Listeners)
	s.True(s.handler.events.StreamExists("value:/feed:"))

	s.handler.release("value:/feed:", first)
	s.Len(s.db.Subscriptions(), 1)
	s.handler.release("value:/feed:", second)
	s.Empty(s.db.Subscriptions())
	s.False(s.handler.events.StreamExists("value:/feed:"))
}

func (s *HandlerSuite) TestEventsFeedClosesWhenClientsLeave() {
	connect := func() context.CancelFunc {
		ctx, cancel := context.WithCancel(context.Background())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.server.URL+"/events/feed?type=value", nil)
		s.Require().NoError(err)
		resp, err := http.DefaultClient.Do(req)
		s.Require().NoError(err)
		s.Equal(200, resp.StatusCode)
		return func() {
			cancel()
			resp.Body.Close()
		}
	}

	leaveFirst := connect()
	leaveSecond := connect()
	s.Eventually(func() bool {
		stats := s.db.Subscriptions()
		return len(stats) == 1 && stats[0].Listeners == 1
	}, time.Second, time.Millisecond)

	leaveFirst()
	s.Never(func() bool {
		return len(s.db.Subscriptions()) == 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	leaveSecond()
	s.Eventually(func() bool {
		return len(s.db.Subscriptions()) == 0
	}, time.Second, 5*time.Millisecond)
	s.Equal(0, s.store.Registrations())
}

func (s *HandlerSuite) TestSubscriptionsRequireAuth() {
	handler := New(s.db, WithAuth(func(ctx context.Context, token string) bool {
		return token == "TOKEN"
	}))
	defer handler.Close()

	req := httptest.NewRequest(http.MethodGet, "/debug/subscriptions", nil)
	buf := httptest.NewRecorder()
	handler.Routes().ServeHTTP(buf, req)
	s.Equal(http.StatusUnauthorized, buf.Result().StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/debug/subscriptions", nil)
	req.Header.Add(authorizationHeader, "Bearer TOKEN")
	buf = httptest.NewRecorder()
	handler.Routes().ServeHTTP(buf, req)
	s.Equal(200, buf.Result().StatusCode)
}
