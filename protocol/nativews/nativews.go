// Package nativews exposes the same resource grammar as nativerest
// over a WebSocket connection, additionally allowing the gateway to
// push unsolicited notification frames down the same socket a client
// used to make requests — the one native transport capable of
// server-initiated messages without a second connection.
package nativews

import (
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/feeestimator"
	"github.com/btcsuite/bsd/notification"
	"github.com/btcsuite/bsd/protocol/nativerest"
	"github.com/btcsuite/bsd/query"
	"github.com/btcsuite/bsd/route"
)

// Server wraps a nativerest.Server, resolving each inbound WS text
// frame against the same route table and framing the result as JSON
// instead of an HTTP response.
type Server struct {
	rest         *nativerest.Server
	Notification *notification.Engine

	// AllowedOrigins restricts the Origin header a WS upgrade may
	// present; an empty list means no restriction.
	AllowedOrigins []string
}

// New returns a Server.
func New(q query.Facade, est *feeestimator.Estimator, notif *notification.Engine) *Server {
	return &Server{rest: nativerest.New(q, est), Notification: notif}
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// HandleUpgrade drives one connection already upgraded to WebSocket by
// the session layer's listener; origin is the Origin header observed
// at upgrade time, checked here rather than in the HTTP handshake so
// admission control stays uniform with the gateway's other listeners.
func (s *Server) HandleUpgrade(conn *websocket.Conn, origin string, onOverflow channel.OverflowFunc) {
	if !s.originAllowed(origin) {
		conn.Close()
		return
	}

	ch := channel.NewWithCapacity(channel.NewWSTransport(conn), 128, onOverflow)
	ch.SetState(channel.Ready)
	defer ch.Close()
	defer s.Notification.UnsubscribeRoute(route.Route{Kind: route.Stream, Stream: ch})

	for {
		payload, err := channel.ReadWSMessage(conn)
		if err != nil {
			return
		}
		s.handleFrame(ch, payload)
	}
}

// frameRequest is the envelope a WS client sends: a path into the
// native resource grammar plus a caller-chosen correlation ID.
type frameRequest struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type frameResponse struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func (s *Server) handleFrame(ch *channel.Channel, payload []byte) {
	var fr frameRequest
	if err := json.Unmarshal(payload, &fr); err != nil {
		s.writeFrame(ch, frameResponse{Error: "malformed request frame"})
		return
	}

	result, err := s.rest.Resolve(fr.Path)
	if err != nil {
		s.writeFrame(ch, frameResponse{ID: fr.ID, Error: err.Error()})
		return
	}
	s.writeFrame(ch, frameResponse{ID: fr.ID, Result: result})
}

func (s *Server) writeFrame(ch *channel.Channel, resp frameResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = ch.Send(body)
}

// PushNotification sends an unsolicited result frame to r, used by the
// notification engine's delivery path for subscriptions created over
// this transport.
func PushNotification(r route.Route, id string, result interface{}) error {
	body, err := json.Marshal(frameResponse{ID: id, Result: result})
	if err != nil {
		return bserr.Wrap(bserr.KindServerError, err)
	}
	return r.Send(body)
}
