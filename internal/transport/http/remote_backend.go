package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/domain"
)

// Credentials identify the account a RemoteBackend acts for. Token wins over
// the dev mode account headers when both are set.
type Credentials struct {
	Token   string
	Account domain.Account
}

// RemoteBackend talks to a quiz server over REST and the websocket change
// stream on behalf of one account.
type RemoteBackend struct {
	baseURL string
	creds   Credentials
	client  *http.Client
	dialer  *websocket.Dialer
	log     logrus.FieldLogger

	mu            sync.Mutex
	questionLobby map[string]string
}

func NewRemoteBackend(baseURL string, creds Credentials, log logrus.FieldLogger) *RemoteBackend {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RemoteBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  &http.Client{Timeout: 10 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log,

		questionLobby: make(map[string]string),
	}
}

func (b *RemoteBackend) CreateLobby(ctx context.Context, cfg domain.LobbyConfig) (domain.Lobby, domain.Player, error) {
	var m membership
	err := b.do(ctx, http.MethodPost, "/lobbies", cfg, &m)
	return m.Lobby, m.Player, err
}

func (b *RemoteBackend) Join(ctx context.Context, pin string) (domain.Lobby, domain.Player, error) {
	var m membership
	err := b.do(ctx, http.MethodPost, "/lobbies/join", joinRequest{PIN: pin}, &m)
	return m.Lobby, m.Player, err
}

func (b *RemoteBackend) Lobby(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	var l domain.Lobby
	err := b.do(ctx, http.MethodGet, "/lobbies/"+url.PathEscape(lobbyID), nil, &l)
	return l, err
}

func (b *RemoteBackend) Players(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	var players []domain.Player
	err := b.do(ctx, http.MethodGet, "/lobbies/"+url.PathEscape(lobbyID)+"/players", nil, &players)
	return players, err
}

func (b *RemoteBackend) Questions(ctx context.Context, lobbyID string) ([]domain.QuestionView, error) {
	var qs []domain.QuestionView
	if err := b.do(ctx, http.MethodGet, "/lobbies/"+url.PathEscape(lobbyID)+"/questions", nil, &qs); err != nil {
		return nil, err
	}
	b.mu.Lock()
	for _, q := range qs {
		b.questionLobby[q.ID] = lobbyID
	}
	b.mu.Unlock()
	return qs, nil
}

func (b *RemoteBackend) AnswerCount(ctx context.Context, lobbyID, questionID string) (int, error) {
	var c countResponse
	err := b.do(ctx, http.MethodGet, "/lobbies/"+url.PathEscape(lobbyID)+"/questions/"+url.PathEscape(questionID)+"/answers/count", nil, &c)
	return c.Count, err
}

func (b *RemoteBackend) Leaderboard(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	var players []domain.Player
	err := b.do(ctx, http.MethodGet, "/lobbies/"+url.PathEscape(lobbyID)+"/leaderboard", nil, &players)
	return players, err
}

func (b *RemoteBackend) SubmitAnswer(ctx context.Context, req domain.AnswerRequest) (domain.AnswerResult, error) {
	var res domain.AnswerResult
	err := b.do(ctx, http.MethodPost, "/lobbies/"+url.PathEscape(req.LobbyID)+"/answers", req, &res)
	return res, err
}

func (b *RemoteBackend) Start(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return b.lobbyAction(ctx, lobbyID, "start", struct{}{})
}

func (b *RemoteBackend) Advance(ctx context.Context, lobbyID string, fromIndex int) (domain.Lobby, error) {
	return b.lobbyAction(ctx, lobbyID, "advance", advanceRequest{FromIndex: fromIndex})
}

func (b *RemoteBackend) End(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return b.lobbyAction(ctx, lobbyID, "end", struct{}{})
}

func (b *RemoteBackend) RetryGeneration(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return b.lobbyAction(ctx, lobbyID, "generate", struct{}{})
}

func (b *RemoteBackend) lobbyAction(ctx context.Context, lobbyID, action string, body interface{}) (domain.Lobby, error) {
	var l domain.Lobby
	err := b.do(ctx, http.MethodPost, "/lobbies/"+url.PathEscape(lobbyID)+"/"+action, body, &l)
	return l, err
}

// Subscribe opens a change stream scoped to one lobby. Filters on answers by
// question_id resolve their lobby from an earlier Questions call.
func (b *RemoteBackend) Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.Change, func(), error) {
	lobbyID, err := b.lobbyFor(filter)
	if err != nil {
		return nil, nil, err
	}
	u, err := url.Parse(b.baseURL + "/ws/lobbies/" + url.PathEscape(lobbyID))
	if err != nil {
		return nil, nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("table", string(filter.Table))
	q.Set("column", filter.Column)
	q.Set("value", filter.Value)
	u.RawQuery = q.Encode()

	conn, resp, err := b.dialer.DialContext(ctx, u.String(), b.headers())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, nil, decodeError(resp)
		}
		return nil, nil, fmt.Errorf("dial change stream: %w", err)
	}

	var ack struct {
		Type string `json:"type"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("change stream handshake: %w", err)
	}
	if ack.Type != MessageSubscribed {
		conn.Close()
		return nil, nil, fmt.Errorf("change stream handshake: unexpected %q", ack.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	out := make(chan domain.Change, 16)
	stopped := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stopped)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stopped:
		}
	}()

	go func() {
		defer close(out)
		for {
			var msg struct {
				Type    string        `json:"type"`
				Payload domain.Change `json:"payload"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				select {
				case <-stopped:
				default:
					b.log.WithError(err).WithField("lobby_id", lobbyID).Debug("change stream closed")
				}
				return
			}
			if msg.Type != MessageChange {
				continue
			}
			select {
			case out <- msg.Payload:
			case <-stopped:
				return
			}
		}
	}()
	return out, cancel, nil
}

func (b *RemoteBackend) lobbyFor(f domain.Filter) (string, error) {
	switch {
	case f.Table == domain.TableLobbies && f.Column == "id":
		return f.Value, nil
	case f.Table == domain.TablePlayers && f.Column == "lobby_id":
		return f.Value, nil
	case f.Table == domain.TableAnswers && f.Column == "lobby_id":
		return f.Value, nil
	case f.Table == domain.TableAnswers && f.Column == "question_id":
		b.mu.Lock()
		lobbyID, ok := b.questionLobby[f.Value]
		b.mu.Unlock()
		if ok {
			return lobbyID, nil
		}
	}
	return "", fmt.Errorf("%w: remote streams need a lobby scoped filter", domain.ErrInvalidConfig)
}

func (b *RemoteBackend) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, rdr)
	if err != nil {
		return err
	}
	for k, v := range b.headers() {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *RemoteBackend) headers() http.Header {
	h := http.Header{}
	if b.creds.Token != "" {
		h.Set("Authorization", "Bearer "+b.creds.Token)
		return h
	}
	h.Set(HeaderAccountID, b.creds.Account.ID)
	h.Set(HeaderUsername, b.creds.Account.Username)
	h.Set(HeaderAvatar, b.creds.Account.Avatar)
	return h
}

func decodeError(resp *http.Response) error {
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("http %s", strconv.Itoa(resp.StatusCode))
	}
	if sentinel := errorFor(body.Code); sentinel != nil {
		if body.Error == sentinel.Error() {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, body.Error)
	}
	return errors.New(body.Error)
}
