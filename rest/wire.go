package rest

import (
	"github.com/airheartdev/realtime"
)

type (
	EventMessage struct {
		Type     string `json:"type"`
		Path     string `json:"path"`
		Key      string `json:"key"`
		PrevKey  string `json:"prevKey,omitempty"`
		Value    any    `json:"value"`
		Priority any    `json:"priority,omitempty"`
	}

	PushResponse struct {
		Name string `json:"name"`
	}

	AuthRequest struct {
		Token string `json:"token"`
	}

	AuthResponse struct {
		Claims  map[string]any `json:"claims"`
		Expires int64          `json:"expires,omitempty"`
	}

	SubscriptionStat struct {
		Path      string `json:"path"`
		Type      string `json:"type"`
		Params    string `json:"params,omitempty"`
		Listeners int    `json:"listeners"`
	}

	ErrorResponse struct {
		Error string `json:"error"`
	}
)

func newEventMessage(ev realtime.Event) EventMessage {
	return EventMessage{
		Type:     ev.Type.String(),
		Path:     ev.Snapshot.Location().String(),
		Key:      ev.Snapshot.Key(),
		PrevKey:  ev.PrevKey,
		Value:    ev.Snapshot.Val(),
		Priority: ev.Snapshot.Priority(),
	}
}
