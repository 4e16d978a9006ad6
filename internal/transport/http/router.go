package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/app"
)

// NewRouter exposes the game over REST plus the websocket change stream.
func NewRouter(game *app.Game, auth *Authenticator, logger logrus.FieldLogger) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	lobbies := NewLobbyHandler(game, logger)
	ws := NewWSHandler(game, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LogMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/lobbies", func(r chi.Router) {
			r.Post("/", lobbies.Create)
			r.Post("/join", lobbies.Join)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", lobbies.Get)
				r.Get("/players", lobbies.Players)
				r.Get("/leaderboard", lobbies.Leaderboard)
				r.Get("/questions", lobbies.Questions)
				r.Get("/questions/{questionID}/answers/count", lobbies.AnswerCount)
				r.Post("/answers", lobbies.SubmitAnswer)
				r.Post("/start", lobbies.Start)
				r.Post("/advance", lobbies.Advance)
				r.Post("/end", lobbies.End)
				r.Post("/generate", lobbies.RetryGeneration)
			})
		})
		r.Get("/pins/{pin}", lobbies.ByPIN)
		r.Get("/ws/lobbies/{id}", ws.ServeWS)
	})
	return r
}
