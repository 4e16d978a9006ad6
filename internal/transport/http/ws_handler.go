package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/app"
	"quizlobby-service/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

type WSHandler struct {
	game     *app.Game
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewWSHandler(game *app.Game, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		game: game,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Message types sent on the change stream.
const (
	MessageSubscribed = "subscribed"
	MessageChange     = "change"
)

// ServeWS streams row changes of one lobby. The filter comes from the
// table, column and value query parameters and defaults to the lobby row.
// Changes belonging to other lobbies are never forwarded.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	lobbyID := chi.URLParam(r, "id")
	filter := domain.Filter{
		Table:  domain.Table(r.URL.Query().Get("table")),
		Column: r.URL.Query().Get("column"),
		Value:  r.URL.Query().Get("value"),
	}
	if filter.Table == "" {
		filter = domain.Filter{Table: domain.TableLobbies, Column: "id", Value: lobbyID}
	}
	if !filter.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid filter", Code: "bad_request"})
		return
	}
	if _, err := h.game.Lobby(r.Context(), lobbyID); err != nil {
		writeError(w, err)
		return
	}

	updates, cancel, err := h.game.Subscribe(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()
	logWebSocketConnect(h.log, r, lobbyID)

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer; gorilla connections allow one concurrent writer.
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					h.log.WithError(err).WithField("lobby_id", lobbyID).Debug("ws write error")
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case change, ok := <-updates:
				if !ok {
					return
				}
				if change.LobbyID() != lobbyID {
					continue
				}
				select {
				case send <- outboundMessage{Type: MessageChange, Payload: change}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage{Type: MessageSubscribed, Payload: filter}

	// Inbound frames carry nothing; reading only detects the close.
	var readErr error
	for {
		if _, _, readErr = conn.ReadMessage(); readErr != nil {
			break
		}
	}
	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		readErr = nil
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	logWebSocketDisconnect(h.log, r, lobbyID, readErr)
}
