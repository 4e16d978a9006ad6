package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quizlobby-service/internal/config"
	"quizlobby-service/internal/domain"
	"quizlobby-service/internal/gamesync"
	transport "quizlobby-service/internal/transport/http"
)

type botOptions struct {
	server     string
	pin        string
	name       string
	accountID  string
	token      string
	strategy   string
	topics     []string
	questions  int
	timeLimit  int
	difficulty string
	minPlayers int
	think      time.Duration
	pause      time.Duration
}

// NewBotCmd plays a game against a running server. Without --pin the bot
// hosts a new lobby, starts it once enough players joined and continues
// after each leaderboard.
func NewBotCmd(configPath *string) *cobra.Command {
	opts := botOptions{}
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Join or host a lobby and play it automatically",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), *configPath, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:8080", "base URL of the quiz server")
	f.StringVar(&opts.pin, "pin", "", "lobby PIN to join; empty hosts a new lobby")
	f.StringVar(&opts.name, "name", "bot", "display name")
	f.StringVar(&opts.accountID, "account", "", "account id (random when empty)")
	f.StringVar(&opts.token, "token", "", "bearer token; minted from auth.jwt_secret when empty")
	f.StringVar(&opts.strategy, "strategy", "random", "answer strategy: random, first or none")
	f.StringSliceVar(&opts.topics, "topics", []string{"general knowledge"}, "topics when hosting")
	f.IntVar(&opts.questions, "questions", 5, "number of questions when hosting")
	f.IntVar(&opts.timeLimit, "time-limit", 15, "seconds per question when hosting")
	f.StringVar(&opts.difficulty, "difficulty", string(domain.DifficultyMild), "difficulty when hosting")
	f.IntVar(&opts.minPlayers, "min-players", 2, "players required before a hosting bot starts")
	f.DurationVar(&opts.think, "think", 2*time.Second, "maximum delay before answering")
	f.DurationVar(&opts.pause, "pause", 3*time.Second, "time a hosting bot shows each leaderboard")
	return cmd
}

func runBot(ctx context.Context, configPath string, opts botOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	acct := domain.Account{ID: opts.accountID, Username: opts.name}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	creds := transport.Credentials{Token: opts.token, Account: acct}
	if creds.Token == "" && cfg.Auth.JWTSecret != "" {
		if creds.Token, err = transport.NewAuthenticator(cfg.Auth.JWTSecret).Issue(acct, 12*time.Hour); err != nil {
			return err
		}
	}
	backend := transport.NewRemoteBackend(opts.server, creds, logger)

	var lobby domain.Lobby
	if opts.pin == "" {
		lobby, _, err = backend.CreateLobby(ctx, domain.LobbyConfig{
			Topics:       opts.topics,
			TimeLimit:    opts.timeLimit,
			NumQuestions: opts.questions,
			Difficulty:   domain.Difficulty(opts.difficulty),
		})
	} else {
		lobby, _, err = backend.Join(ctx, opts.pin)
	}
	if err != nil {
		return fmt.Errorf("enter lobby: %w", err)
	}
	log := logger.WithFields(logrus.Fields{"lobby_id": lobby.ID, "pin": lobby.PIN, "player": acct.Username})
	log.Info("bot entered lobby")

	client := gamesync.NewClient(backend, lobby.ID, acct.ID, syncOptions(cfg, opts.minPlayers, logger))
	bot := &bot{client: client, opts: opts, host: lobby.IsHost(acct.ID), log: log, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	for sig := range client.Signals() {
		bot.handle(ctx, sig)
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func syncOptions(cfg config.Config, minPlayers int, logger logrus.FieldLogger) gamesync.Options {
	return gamesync.Options{
		PollInterval:            config.Duration(cfg.Sync.PollInterval, 0),
		LeaderboardPollInterval: config.Duration(cfg.Sync.LeaderboardPollInterval, 0),
		CheckInterval:           config.Duration(cfg.Sync.CheckInterval, 0),
		SubmitCheckDelay:        config.Duration(cfg.Sync.SubmitCheckDelay, 0),
		SubmitRetries:           cfg.Sync.SubmitRetries,
		NotifyRetries:           cfg.Sync.NotifyRetries,
		LeaderboardRefreshEvery: cfg.Sync.LeaderboardRefreshEvery,
		MinPlayers:              config.Int(minPlayers, cfg.Game.MinPlayers),
		Logger:                  logger,
	}
}

type bot struct {
	client *gamesync.Client
	opts   botOptions
	host   bool
	log    logrus.FieldLogger
	rnd    *rand.Rand
}

// handle reacts to one signal. Actions run on their own goroutines so the
// signal channel keeps draining while the client serves them.
func (b *bot) handle(ctx context.Context, sig gamesync.Signal) {
	entry := b.log.WithFields(logrus.Fields{"signal": sig.Kind.String(), "question_index": sig.QuestionIndex})
	switch sig.Kind {
	case gamesync.SignalLobbyUpdated:
		entry.WithField("status", sig.Lobby.Status).Info("lobby updated")
		if b.host && sig.Lobby.Status == domain.StatusReady {
			go b.act(ctx, "start", b.client.Start)
		}
	case gamesync.SignalPlayersUpdated:
		entry.WithField("players", len(sig.Players)).Info("players updated")
		if b.host && sig.Lobby.Status == domain.StatusReady && len(sig.Players) >= b.opts.minPlayers {
			go b.act(ctx, "start", b.client.Start)
		}
	case gamesync.SignalGenerationFailed:
		entry.Warn("question generation failed")
		if b.host {
			go b.act(ctx, "retry generation", b.client.RetryGeneration)
		}
	case gamesync.SignalQuestion:
		entry.WithField("deadline", sig.Deadline).Info("question")
		if sig.Question != nil && b.opts.strategy != "none" {
			choice := sig.Question.Choices[0]
			if b.opts.strategy == "random" {
				choice = sig.Question.Choices[b.rnd.Intn(len(sig.Question.Choices))]
			}
			delay := time.Duration(0)
			if b.opts.think > 0 {
				delay = time.Duration(b.rnd.Int63n(int64(b.opts.think)))
			}
			time.AfterFunc(delay, func() {
				res, err := b.client.Answer(ctx, choice)
				if err != nil {
					entry.WithError(err).Debug("answer not submitted")
					return
				}
				entry.WithFields(logrus.Fields{"correct": res.IsCorrect, "points": res.Points, "total": res.TotalScore}).Info("answered")
			})
		}
	case gamesync.SignalLeaderboard, gamesync.SignalLeaderboardUpdated:
		entry.WithFields(logrus.Fields{"forced": sig.Forced, "leader": leader(sig.Players)}).Info("leaderboard")
		if b.host && sig.Kind == gamesync.SignalLeaderboard {
			time.AfterFunc(b.opts.pause, func() { b.act(ctx, "continue", b.client.Continue) })
		}
	case gamesync.SignalPodium:
		for i, p := range sig.Players {
			entry.WithFields(logrus.Fields{"rank": i + 1, "username": p.Username, "score": p.TotalScore}).Info("final standing")
		}
	}
}

func (b *bot) act(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		b.log.WithError(err).WithField("action", name).Debug("action skipped")
	}
}

func leader(players []domain.Player) string {
	if len(players) == 0 {
		return ""
	}
	return players[0].Username
}
