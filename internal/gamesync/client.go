package gamesync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/domain"
)

// ErrClientStopped is returned by actions once Run has returned.
var ErrClientStopped = errors.New("gamesync: client stopped")

// Options tunes polling and answer checks. Zero values use the defaults.
type Options struct {
	PollInterval            time.Duration
	LeaderboardPollInterval time.Duration
	CheckInterval           time.Duration
	SubmitCheckDelay        time.Duration
	SubmitRetries           int
	NotifyRetries           int
	LeaderboardRefreshEvery int
	MinPlayers              int
	Clock                   clock.Clock
	Logger                  logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.LeaderboardPollInterval <= 0 {
		o.LeaderboardPollInterval = 500 * time.Millisecond
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 100 * time.Millisecond
	}
	if o.SubmitCheckDelay <= 0 {
		o.SubmitCheckDelay = 800 * time.Millisecond
	}
	if o.SubmitRetries <= 0 {
		o.SubmitRetries = 15
	}
	if o.NotifyRetries <= 0 {
		o.NotifyRetries = 3
	}
	if o.LeaderboardRefreshEvery <= 0 {
		o.LeaderboardRefreshEvery = 4
	}
	if o.MinPlayers <= 0 {
		o.MinPlayers = 2
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

type (
	pollEvent   struct{}
	timeUpEvent struct{ index int }
	checkEvent  struct{ index, seq int }
	actionEvent struct {
		kind   actionKind
		choice string
		reply  chan actionResult
	}
)

type actionKind int

const (
	actionAnswer actionKind = iota + 1
	actionStart
	actionContinue
	actionRetry
)

type actionResult struct {
	answer domain.AnswerResult
	err    error
}

// Client follows one lobby for one account. All state is owned by the Run
// goroutine; push notifications, poll ticks, timers and user actions are
// serialised through it.
type Client struct {
	backend   Backend
	lobbyID   string
	accountID string
	opts      Options
	clock     clock.Clock
	log       logrus.FieldLogger

	events  chan interface{}
	signals chan Signal
	done    chan struct{}
	running atomic.Bool

	lobby     domain.Lobby
	haveLobby bool
	players   []domain.Player
	questions []domain.QuestionView
	state     phaseState

	question    *domain.QuestionView
	startedAt   time.Time
	countdown   *clock.Timer
	answers     <-chan domain.Change
	stopAnswers func()

	poll         *Loop
	pollInterval time.Duration
	pollTicks    int
}

func NewClient(backend Backend, lobbyID, accountID string, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		backend:   backend,
		lobbyID:   lobbyID,
		accountID: accountID,
		opts:      opts,
		clock:     opts.Clock,
		log:       opts.Logger.WithFields(logrus.Fields{"lobby_id": lobbyID, "account_id": accountID}),
		events:    make(chan interface{}, 32),
		signals:   make(chan Signal, 64),
		done:      make(chan struct{}),
	}
}

// Signals delivers navigation and refresh signals. It is closed when Run
// returns. The caller must keep draining it while Run is active.
func (c *Client) Signals() <-chan Signal { return c.signals }

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} { return c.done }

// Run follows the lobby until the podium is reached or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("gamesync: client already running")
	}
	defer close(c.done)
	defer close(c.signals)
	defer c.teardown()

	lobbyCh, stopLobby := c.subscribe(ctx, domain.Filter{Table: domain.TableLobbies, Column: "id", Value: c.lobbyID})
	defer stopLobby()
	playersCh, stopPlayers := c.subscribe(ctx, domain.Filter{Table: domain.TablePlayers, Column: "lobby_id", Value: c.lobbyID})
	defer stopPlayers()

	c.restartPoll(ctx, c.opts.PollInterval)
	c.pollOnce(ctx)

	for c.state.phase != PhasePodium {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch, ok := <-lobbyCh:
			if !ok {
				lobbyCh = nil
				continue
			}
			if ch.Lobby != nil {
				c.observe(ctx, *ch.Lobby)
			}
		case _, ok := <-playersCh:
			if !ok {
				playersCh = nil
				continue
			}
			if c.state.phase == PhaseLobby {
				c.refreshPlayers(ctx)
			}
		case ch, ok := <-c.answers:
			if !ok {
				c.answers = nil
				continue
			}
			c.onAnswerInserted(ctx, ch)
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
	return nil
}

// Answer submits choice for the current question.
func (c *Client) Answer(ctx context.Context, choice string) (domain.AnswerResult, error) {
	r := c.do(ctx, actionEvent{kind: actionAnswer, choice: choice})
	return r.answer, r.err
}

// Start begins the game. Host only.
func (c *Client) Start(ctx context.Context) error {
	return c.do(ctx, actionEvent{kind: actionStart}).err
}

// Continue moves from the leaderboard to the next question, or ends the game
// after the last one. Host only.
func (c *Client) Continue(ctx context.Context) error {
	return c.do(ctx, actionEvent{kind: actionContinue}).err
}

// RetryGeneration asks for a new question set after generation failed. Host only.
func (c *Client) RetryGeneration(ctx context.Context) error {
	return c.do(ctx, actionEvent{kind: actionRetry}).err
}

func (c *Client) do(ctx context.Context, ev actionEvent) actionResult {
	ev.reply = make(chan actionResult, 1)
	select {
	case c.events <- ev:
	case <-c.done:
		return actionResult{err: ErrClientStopped}
	case <-ctx.Done():
		return actionResult{err: ctx.Err()}
	}
	select {
	case r := <-ev.reply:
		return r
	case <-c.done:
		return actionResult{err: ErrClientStopped}
	case <-ctx.Done():
		return actionResult{err: ctx.Err()}
	}
}

func (c *Client) handle(ctx context.Context, ev interface{}) {
	switch ev := ev.(type) {
	case pollEvent:
		c.pollOnce(ctx)
	case timeUpEvent:
		c.onTimeUp(ctx, ev.index)
	case checkEvent:
		if c.state.phase != PhaseQuestion || ev.index != c.state.index || ev.seq != c.state.checkSeq {
			return
		}
		c.state.checkTimer = nil
		c.runCheck(ctx)
	case actionEvent:
		ev.reply <- c.act(ctx, ev)
	}
}

func (c *Client) act(ctx context.Context, ev actionEvent) actionResult {
	switch ev.kind {
	case actionAnswer:
		res, err := c.answer(ctx, ev.choice)
		return actionResult{answer: res, err: err}
	case actionStart:
		return actionResult{err: c.start(ctx)}
	case actionContinue:
		return actionResult{err: c.continueGame(ctx)}
	case actionRetry:
		return actionResult{err: c.retryGeneration(ctx)}
	}
	return actionResult{err: domain.ErrPhaseClosed}
}

// observe applies an authoritative lobby snapshot from a push or a poll.
func (c *Client) observe(ctx context.Context, l domain.Lobby) {
	if l.ID != c.lobbyID {
		return
	}
	if c.haveLobby && l.OlderThan(c.lobby) {
		return
	}
	prev, had := c.lobby, c.haveLobby
	c.lobby, c.haveLobby = l, true

	switch l.Status {
	case domain.StatusFinished:
		c.enterPodium(ctx)
	case domain.StatusPlaying:
		if c.state.phase == PhaseLobby || l.CurrentQuestionIndex > c.state.index {
			c.enterQuestion(ctx, l)
		}
	default:
		if c.state.phase != PhaseLobby || (had && prev.Status == l.Status) {
			return
		}
		if had && prev.Status == domain.StatusGenerating && l.Status == domain.StatusWaiting {
			c.emit(ctx, Signal{Kind: SignalGenerationFailed, Lobby: l})
		}
		c.emit(ctx, Signal{Kind: SignalLobbyUpdated, Lobby: l})
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	l, err := c.backend.Lobby(ctx, c.lobbyID)
	if err != nil {
		c.log.WithError(err).Debug("poll lobby")
		return
	}
	c.observe(ctx, l)

	switch c.state.phase {
	case PhaseLobby:
		c.refreshPlayers(ctx)
	case PhaseLeaderboard:
		c.pollTicks++
		if c.pollTicks%c.opts.LeaderboardRefreshEvery == 0 {
			c.refreshLeaderboard(ctx)
		}
	}
}

func (c *Client) refreshPlayers(ctx context.Context) {
	players, err := c.backend.Players(ctx, c.lobbyID)
	if err != nil {
		c.log.WithError(err).Debug("refresh players")
		return
	}
	if samePlayers(c.players, players) {
		return
	}
	c.players = players
	c.emit(ctx, Signal{Kind: SignalPlayersUpdated, Lobby: c.lobby, Players: players})
}

func (c *Client) refreshLeaderboard(ctx context.Context) {
	ranking, err := c.backend.Leaderboard(ctx, c.lobbyID)
	if err != nil {
		c.log.WithError(err).Debug("refresh leaderboard")
		return
	}
	c.emit(ctx, Signal{Kind: SignalLeaderboardUpdated, Lobby: c.lobby, QuestionIndex: c.state.index, Players: ranking})
}

func (c *Client) enterQuestion(ctx context.Context, l domain.Lobby) {
	c.leaveQuestion()
	idx := l.CurrentQuestionIndex
	c.state.enter(PhaseQuestion, idx)
	c.restartPoll(ctx, c.opts.PollInterval)

	c.question = c.questionAt(ctx, idx)
	c.startedAt = c.clock.Now()
	deadline := c.startedAt.Add(time.Duration(l.TimeLimit) * time.Second)
	if d, ok := l.Deadline(); ok {
		c.startedAt, deadline = *l.QuestionStartedAt, d
	}
	if c.question != nil {
		c.answers, c.stopAnswers = c.subscribe(ctx, domain.Filter{Table: domain.TableAnswers, Column: "question_id", Value: c.question.ID})
	}

	c.log.WithField("question_index", idx).Debug("entering question")
	c.emit(ctx, Signal{Kind: SignalQuestion, Lobby: l, QuestionIndex: idx, Question: c.question, Deadline: deadline})

	remaining := deadline.Sub(c.clock.Now())
	if remaining <= 0 {
		c.onTimeUp(ctx, idx)
		return
	}
	c.countdown = c.clock.AfterFunc(remaining, func() { c.post(timeUpEvent{index: idx}) })
}

func (c *Client) questionAt(ctx context.Context, idx int) *domain.QuestionView {
	find := func() *domain.QuestionView {
		for i := range c.questions {
			if c.questions[i].QuestionIndex == idx {
				q := c.questions[i]
				return &q
			}
		}
		return nil
	}
	if q := find(); q != nil {
		return q
	}
	qs, err := c.backend.Questions(ctx, c.lobbyID)
	if err != nil {
		c.log.WithError(err).WithField("question_index", idx).Warn("load questions")
		return nil
	}
	c.questions = qs
	return find()
}

func (c *Client) answer(ctx context.Context, choice string) (domain.AnswerResult, error) {
	if c.state.phase != PhaseQuestion || c.state.navigated {
		return domain.AnswerResult{}, domain.ErrPhaseClosed
	}
	if c.question == nil {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}
	if !c.state.markAnswered() {
		return domain.AnswerResult{}, domain.ErrAlreadyAnswered
	}

	taken := c.clock.Since(c.startedAt).Milliseconds()
	if taken < 0 {
		taken = 0
	}
	res, err := c.backend.SubmitAnswer(ctx, domain.AnswerRequest{
		LobbyID:        c.lobbyID,
		QuestionID:     c.question.ID,
		SelectedAnswer: choice,
		TimeTakenMs:    taken,
	})
	if err != nil {
		c.state.releaseAnswered()
		return domain.AnswerResult{}, err
	}
	c.requestCheck(ctx, c.opts.SubmitRetries, c.opts.SubmitCheckDelay)
	return res, nil
}

func (c *Client) onTimeUp(ctx context.Context, idx int) {
	if c.state.phase != PhaseQuestion || c.state.index != idx || c.state.navigated {
		return
	}
	c.countdown = nil
	if c.state.markAnswered() && c.question != nil {
		_, err := c.backend.SubmitAnswer(ctx, domain.AnswerRequest{
			LobbyID:     c.lobbyID,
			QuestionID:  c.question.ID,
			TimeTakenMs: int64(c.lobby.TimeLimit) * 1000,
		})
		if err != nil {
			c.log.WithError(err).WithField("question_index", idx).Warn("submit timeout answer")
		}
	}
	c.moveToLeaderboard(ctx, false)
}

func (c *Client) onAnswerInserted(ctx context.Context, ch domain.Change) {
	if ch.Answer == nil || c.question == nil || ch.Answer.QuestionID != c.question.ID {
		return
	}
	c.requestCheck(ctx, c.opts.NotifyRetries, 0)
}

// requestCheck raises the remaining check budget and runs a check now, or
// after delay when no check is already pending.
func (c *Client) requestCheck(ctx context.Context, budget int, delay time.Duration) {
	if c.state.phase != PhaseQuestion || c.state.navigated {
		return
	}
	if budget > c.state.checkBudget {
		c.state.checkBudget = budget
	}
	if delay > 0 {
		if c.state.checkTimer == nil {
			c.scheduleCheck(delay)
		}
		return
	}
	c.state.stopCheck()
	c.runCheck(ctx)
}

func (c *Client) scheduleCheck(delay time.Duration) {
	c.state.checkSeq++
	ev := checkEvent{index: c.state.index, seq: c.state.checkSeq}
	c.state.checkTimer = c.clock.AfterFunc(delay, func() { c.post(ev) })
}

// runCheck moves to the leaderboard once every player answered. When the
// budget runs out it only forces the move for a player who already answered;
// everyone else waits for the countdown.
func (c *Client) runCheck(ctx context.Context) {
	if c.state.phase != PhaseQuestion || c.state.navigated || c.question == nil {
		return
	}

	allIn := false
	players, err := c.backend.Players(ctx, c.lobbyID)
	if err == nil {
		var answered int
		answered, err = c.backend.AnswerCount(ctx, c.lobbyID, c.question.ID)
		allIn = err == nil && answered >= len(players)
	}
	if err != nil {
		c.log.WithError(err).WithField("question_index", c.state.index).Warn("answer check")
	}

	switch {
	case allIn:
		c.moveToLeaderboard(ctx, false)
	case c.state.checkBudget <= 0:
		// unanswered clients wait for their own countdown; forcing them
		// ahead would skip the timeout submission
		if c.state.answered {
			c.moveToLeaderboard(ctx, true)
		}
	default:
		c.state.checkBudget--
		c.scheduleCheck(c.opts.CheckInterval)
	}
}

func (c *Client) moveToLeaderboard(ctx context.Context, forced bool) {
	if c.state.phase != PhaseQuestion || !c.state.tryNavigate() {
		return
	}
	idx := c.state.index
	c.leaveQuestion()
	c.state.enter(PhaseLeaderboard, idx)
	c.pollTicks = 0
	c.restartPoll(ctx, c.opts.LeaderboardPollInterval)

	ranking, err := c.backend.Leaderboard(ctx, c.lobbyID)
	if err != nil {
		c.log.WithError(err).Warn("load leaderboard")
	}
	c.log.WithFields(logrus.Fields{"question_index": idx, "forced": forced}).Debug("entering leaderboard")
	c.emit(ctx, Signal{Kind: SignalLeaderboard, Lobby: c.lobby, QuestionIndex: idx, Players: ranking, Forced: forced})
}

func (c *Client) enterPodium(ctx context.Context) {
	if c.state.phase == PhasePodium {
		return
	}
	c.leaveQuestion()
	c.state.enter(PhasePodium, c.lobby.CurrentQuestionIndex)
	c.stopPoll()

	ranking, err := c.backend.Leaderboard(ctx, c.lobbyID)
	if err != nil {
		c.log.WithError(err).Warn("load final ranking")
	}
	c.emit(ctx, Signal{Kind: SignalPodium, Lobby: c.lobby, QuestionIndex: c.state.index, Players: ranking})
}

func (c *Client) start(ctx context.Context) error {
	if c.state.phase != PhaseLobby {
		return domain.ErrPhaseClosed
	}
	if !c.lobby.IsHost(c.accountID) {
		return domain.ErrNotHost
	}
	if c.lobby.Status != domain.StatusReady {
		return domain.ErrLobbyNotReady
	}
	c.refreshPlayers(ctx)
	if len(c.players) < c.opts.MinPlayers {
		return domain.ErrNotEnoughPlayers
	}
	if !c.state.tryNavigate() {
		return domain.ErrNavigationInFlight
	}
	l, err := c.backend.Start(ctx, c.lobbyID)
	if err != nil {
		c.state.releaseNavigate()
		return err
	}
	c.observe(ctx, l)
	return nil
}

func (c *Client) continueGame(ctx context.Context) error {
	if c.state.phase != PhaseLeaderboard {
		return domain.ErrPhaseClosed
	}
	if !c.lobby.IsHost(c.accountID) {
		return domain.ErrNotHost
	}
	if !c.state.tryNavigate() {
		return domain.ErrNavigationInFlight
	}

	var (
		l   domain.Lobby
		err error
	)
	if c.lobby.IsLastQuestion() {
		l, err = c.backend.End(ctx, c.lobbyID)
	} else {
		l, err = c.backend.Advance(ctx, c.lobbyID, c.state.index)
	}
	if err != nil {
		c.state.releaseNavigate()
		return err
	}
	c.observe(ctx, l)
	return nil
}

func (c *Client) retryGeneration(ctx context.Context) error {
	if c.state.phase != PhaseLobby {
		return domain.ErrPhaseClosed
	}
	if !c.lobby.IsHost(c.accountID) {
		return domain.ErrNotHost
	}
	if c.lobby.Status != domain.StatusWaiting {
		return domain.ErrInvalidTransition
	}
	l, err := c.backend.RetryGeneration(ctx, c.lobbyID)
	if err != nil {
		return err
	}
	c.observe(ctx, l)
	return nil
}

func (c *Client) subscribe(ctx context.Context, f domain.Filter) (<-chan domain.Change, func()) {
	ch, cancel, err := c.backend.Subscribe(ctx, f)
	if err != nil {
		c.log.WithError(err).WithField("table", f.Table).Warn("subscribe failed, relying on polling")
		return nil, func() {}
	}
	return ch, cancel
}

func (c *Client) leaveQuestion() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	if c.stopAnswers != nil {
		c.stopAnswers()
		c.stopAnswers = nil
	}
	c.answers = nil
	c.question = nil
	c.state.stopCheck()
}

func (c *Client) restartPoll(ctx context.Context, interval time.Duration) {
	if c.poll != nil && c.pollInterval == interval {
		return
	}
	c.stopPoll()
	c.pollInterval = interval
	c.poll = StartLoop(ctx, c.clock, interval, func(loopCtx context.Context) {
		select {
		case c.events <- pollEvent{}:
		case <-loopCtx.Done():
		}
	})
}

func (c *Client) stopPoll() {
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
}

func (c *Client) teardown() {
	c.leaveQuestion()
	c.stopPoll()
}

// post delivers a timer event to the Run goroutine.
func (c *Client) post(ev interface{}) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) emit(ctx context.Context, s Signal) {
	select {
	case c.signals <- s:
	case <-ctx.Done():
	}
}

func samePlayers(a, b []domain.Player) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Username != b[i].Username || a[i].Avatar != b[i].Avatar {
			return false
		}
	}
	return true
}
