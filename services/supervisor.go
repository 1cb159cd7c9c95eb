package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/LovationAdmin/voice-invites/apperrors"
	"github.com/LovationAdmin/voice-invites/clock"
	"github.com/LovationAdmin/voice-invites/i18n"
	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

const (
	DefaultSubmitTimeout   = 30 * time.Second
	DefaultStopJoinTimeout = 10 * time.Second
)

// PlatformFactory builds a disconnected Platform for a bot token.
type PlatformFactory func(token string) (Platform, error)

// BotConfig holds the supervisor's tunables.
type BotConfig struct {
	Token                     string
	ReaperInterval            time.Duration
	SubmitTimeout             time.Duration
	StopJoinTimeout           time.Duration
	RollbackOnDeliveryFailure bool
}

// BotServiceOptions carries the collaborators of a BotService. Zero values
// get production defaults where one exists.
type BotServiceOptions struct {
	Logger          *slog.Logger
	Texts           *i18n.Bundle
	Metrics         *utils.Metrics
	Clock           clock.Clock
	Listener        LifecycleListener
	PlatformFactory PlatformFactory
	NewID           func() string
}

// BotService owns the Discord connection and is the only way in for
// callers. All engine work runs on the connection's background context;
// callers submit tasks and block on the result.
type BotService struct {
	cfg         BotConfig
	logger      *slog.Logger
	texts       *i18n.Bundle
	metrics     *utils.Metrics
	clock       clock.Clock
	listener    LifecycleListener
	newPlatform PlatformFactory
	newID       func() string

	store *InvitationStore
	ready *readySignal

	// lifecycleMu serializes Start / Stop / RestartWithToken.
	lifecycleMu sync.Mutex

	mu    sync.RWMutex
	token string
	conn  *connection
}

func NewBotService(cfg BotConfig, opts BotServiceOptions) *BotService {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.StopJoinTimeout <= 0 {
		cfg.StopJoinTimeout = DefaultStopJoinTimeout
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = DefaultReaperInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &BotService{
		cfg:         cfg,
		logger:      opts.Logger,
		texts:       opts.Texts,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		listener:    opts.Listener,
		newPlatform: opts.PlatformFactory,
		newID:       opts.NewID,
		store:       NewInvitationStore(),
		ready:       newReadySignal(),
		token:       strings.TrimSpace(cfg.Token),
	}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start connects with the configured token. Without a token the service
// stays idle and SubmitRequest reports NOT_CONNECTED.
func (s *BotService) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.startLocked()
}

func (s *BotService) startLocked() error {
	s.mu.RLock()
	token, running := s.token, s.conn != nil
	s.mu.RUnlock()

	if running {
		return nil
	}
	if token == "" {
		s.logger.Warn("⚠️ DISCORD_BOT_TOKEN is not set; waiting for POST /api/token")
		return nil
	}
	if s.newPlatform == nil {
		return errors.New("bot service has no platform factory")
	}

	platform, err := s.newPlatform(token)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNotConnected, "failed to create discord session", err)
	}

	conn := newConnection(s, platform)
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	conn.start()
	s.logger.Info("🤖 bot connection started", "token_fingerprint", utils.TokenFingerprint(token))
	return nil
}

// Stop tears the connection down and discards every invitation.
func (s *BotService) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.stopLocked()
}

func (s *BotService) stopLocked() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.ready.Reset()
	if conn == nil {
		return
	}

	conn.shutdown(s.cfg.StopJoinTimeout)
	if n := s.store.Clear(); n > 0 {
		s.logger.Info("🗑️ in-memory invitations discarded", "count", n)
	}
}

// RestartWithToken replaces the credentials and reconnects. All tracked
// invitations are discarded; their channels are left for manual cleanup.
func (s *BotService) RestartWithToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.New(apperrors.CodeValidation, "token is required")
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.stopLocked()
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.logger.Info("🔄 restarting bot with new token", "token_fingerprint", utils.TokenFingerprint(token))
	return s.startLocked()
}

// ============================================================================
// STATUS
// ============================================================================

func (s *BotService) IsReady() bool {
	return s.ready.IsSet()
}

// WaitReady blocks until the gateway is ready or ctx ends.
func (s *BotService) WaitReady(ctx context.Context) bool {
	select {
	case <-s.ready.Wait():
		return true
	case <-ctx.Done():
		return s.ready.IsSet()
	}
}

func (s *BotService) TokenConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// TokenFingerprint identifies the active token without revealing it.
func (s *BotService) TokenFingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return utils.TokenFingerprint(s.token)
}

// Invitation returns a copy of a tracked invitation.
func (s *BotService) Invitation(id string) (models.Invitation, error) {
	inv, ok := s.store.Get(id)
	if !ok {
		return models.Invitation{}, apperrors.ErrInvitationNotFound
	}
	return inv, nil
}

// ============================================================================
// SUBMISSION
// ============================================================================

type taskResult struct {
	invitation models.Invitation
	err        error
}

type task struct {
	run    func(ctx context.Context) (models.Invitation, error)
	result chan taskResult
}

// SubmitRequest creates the channel and notifies the target on the
// background context, blocking for at most the submit timeout.
func (s *BotService) SubmitRequest(ctx context.Context, input models.NewInvitationInput) (models.Invitation, error) {
	ctx, span := tracer.Start(ctx, "invitation.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("guild.id", input.GuildID.String()),
		attribute.Int("invitation.expires_in", input.ExpiresIn),
	)

	inv, err := s.submit(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		return inv, err
	}
	span.SetAttributes(attribute.String("invitation.id", inv.ID))
	return inv, nil
}

func (s *BotService) submit(ctx context.Context, input models.NewInvitationInput) (models.Invitation, error) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil || !conn.running() {
		return models.Invitation{}, apperrors.ErrNotConnected
	}

	t := task{
		run: func(loopCtx context.Context) (models.Invitation, error) {
			return s.createInvitation(loopCtx, conn, input)
		},
		result: make(chan taskResult, 1),
	}
	deadline := s.clock.After(s.cfg.SubmitTimeout)

	select {
	case conn.tasks <- t:
	case <-conn.done:
		return models.Invitation{}, apperrors.ErrNotConnected
	case <-deadline:
		return models.Invitation{}, apperrors.New(apperrors.CodeTimeout, "bot did not pick up the request in time")
	case <-ctx.Done():
		return models.Invitation{}, apperrors.Wrap(apperrors.CodeTimeout, "request cancelled", ctx.Err())
	}

	select {
	case r := <-t.result:
		return r.invitation, r.err
	case <-conn.done:
		return models.Invitation{}, apperrors.ErrNotConnected
	case <-deadline:
		return models.Invitation{}, apperrors.New(apperrors.CodeTimeout, "bot did not finish the request in time")
	case <-ctx.Done():
		return models.Invitation{}, apperrors.Wrap(apperrors.CodeTimeout, "request cancelled", ctx.Err())
	}
}

func (s *BotService) createInvitation(ctx context.Context, conn *connection, input models.NewInvitationInput) (models.Invitation, error) {
	inv := models.NewInvitation(s.newID(), input, s.clock.Now())

	inv, guild, err := conn.provisioner.Provision(ctx, inv)
	if err != nil {
		return models.Invitation{}, err
	}
	s.metrics.Inc(utils.MetricInvitationsCreated)
	conn.deps.publish(models.EventInvitationCreated, "", inv)

	if err := conn.notifier.Notify(ctx, inv, guild); err != nil {
		if s.cfg.RollbackOnDeliveryFailure {
			s.rollback(ctx, conn, inv)
		}
		return models.Invitation{}, err
	}

	// Re-read: the target may already have clicked "Accept".
	if stored, ok := s.store.Get(inv.ID); ok {
		inv = stored
	}
	return inv, nil
}

func (s *BotService) rollback(ctx context.Context, conn *connection, inv models.Invitation) {
	if err := conn.deps.deleteChannel(ctx, inv.ChannelID, i18n.KeyAuditRollback); err != nil {
		s.logger.Error("❌ rollback failed; channel left for the reaper", "invitation_id", inv.ID, "error", err)
		return
	}
	if removed, ok := s.store.Delete(inv.ID); ok {
		s.metrics.Inc(utils.MetricChannelsReclaimedRollback)
		conn.deps.publish(models.EventInvitationReclaimed, models.ReclaimReasonRollback, removed)
	}
	s.logger.Info("↩️ invitation rolled back after delivery failure", "invitation_id", inv.ID)
}

// ============================================================================
// CONNECTION
// ============================================================================

// connection is everything bound to one platform session. A restart builds
// a new one; nothing is reused across sessions except the store.
type connection struct {
	service  *BotService
	platform Platform
	deps     Deps

	provisioner *Provisioner
	notifier    *Notifier
	acceptance  *AcceptanceHandler
	watcher     *MembershipWatcher
	reaper      *Reaper

	handlers map[EventKind]func(context.Context, Event)

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan task
	done   chan struct{}
	wg     sync.WaitGroup

	reaperOnce    sync.Once
	reaperMu      sync.Mutex
	reaperCancel  context.CancelFunc
	reaperDone    chan struct{}
	reaperStopped bool
}

func newConnection(s *BotService, platform Platform) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	deps := Deps{
		Platform: platform,
		Store:    s.store,
		Texts:    s.texts,
		Clock:    s.clock,
		Metrics:  s.metrics,
		Listener: s.listener,
		Logger:   s.logger,
	}

	c := &connection{
		service:     s,
		platform:    platform,
		deps:        deps,
		provisioner: NewProvisioner(deps),
		notifier:    NewNotifier(deps),
		acceptance:  NewAcceptanceHandler(deps),
		watcher:     NewMembershipWatcher(deps),
		reaper:      NewReaper(deps, s.cfg.ReaperInterval),
		ctx:         ctx,
		cancel:      cancel,
		tasks:       make(chan task),
		done:        make(chan struct{}),
	}
	c.handlers = map[EventKind]func(context.Context, Event){
		EventReady: func(ctx context.Context, ev Event) {
			c.onReady(ctx, ev.(ReadyEvent))
		},
		EventVoiceState: func(ctx context.Context, ev Event) {
			c.watcher.HandleVoiceState(ctx, ev.(VoiceStateEvent))
		},
		EventAccept: func(ctx context.Context, ev Event) {
			c.acceptance.HandleAccept(ctx, ev.(AcceptEvent))
		},
	}
	return c
}

func (c *connection) start() {
	go c.run()
}

// run is the background context: it opens the session and executes
// submitted tasks until the connection is cancelled.
func (c *connection) run() {
	defer close(c.done)

	if err := c.platform.Open(c.ctx, c.dispatch); err != nil {
		c.deps.Logger.Error("❌ failed to connect to discord", "error", err)
		c.cancel()
		return
	}
	if c.ctx.Err() != nil {
		// Stopped during the handshake: shutdown's Close ran too early.
		if err := c.platform.Close(); err != nil {
			c.deps.Logger.Warn("⚠️ error while closing discord session", "error", err)
		}
		return
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case t := <-c.tasks:
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				inv, err := t.run(c.ctx)
				t.result <- taskResult{invitation: inv, err: err}
			}()
		}
	}
}

func (c *connection) running() bool {
	select {
	case <-c.done:
		return false
	default:
		return c.ctx.Err() == nil
	}
}

// dispatch is called from platform goroutines.
func (c *connection) dispatch(ev Event) {
	if c.ctx.Err() != nil {
		return
	}
	handler, ok := c.handlers[ev.Kind()]
	if !ok {
		c.deps.Logger.Debug("unhandled platform event", "kind", ev.Kind().String())
		return
	}
	handler(c.ctx, ev)
}

func (c *connection) onReady(ctx context.Context, ev ReadyEvent) {
	s := c.service
	s.mu.RLock()
	current := s.conn == c
	s.mu.RUnlock()
	if !current {
		return
	}

	s.ready.Set()
	s.logger.Info("✅ discord bot ready", "bot_user_id", ev.BotUserID.String())

	c.reaperOnce.Do(func() {
		c.reaperMu.Lock()
		defer c.reaperMu.Unlock()
		if c.reaperStopped || ctx.Err() != nil {
			return
		}
		reaperCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		c.reaperCancel = cancel
		c.reaperDone = done
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer close(done)
			c.reaper.Run(reaperCtx)
		}()
	})
}

// shutdown stops the reaper and waits for it to exit, then stops the
// background context, closes the session and waits for in-flight tasks.
// The whole sequence is bounded by joinTimeout.
func (c *connection) shutdown(joinTimeout time.Duration) {
	deadline := c.service.clock.After(joinTimeout)

	c.reaperMu.Lock()
	c.reaperStopped = true
	stopReaper, reaperDone := c.reaperCancel, c.reaperDone
	c.reaperMu.Unlock()

	if stopReaper != nil {
		stopReaper()
		select {
		case <-reaperDone:
		case <-deadline:
			c.deps.Logger.Warn("⚠️ reaper did not stop in time", "timeout", joinTimeout.String())
			expired := make(chan time.Time)
			close(expired)
			deadline = expired
		}
	}

	// Cancel before Close so that a run still inside Open sees the
	// cancellation and closes the session itself.
	c.cancel()
	if err := c.platform.Close(); err != nil {
		c.deps.Logger.Warn("⚠️ error while closing discord session", "error", err)
	}

	joined := make(chan struct{})
	go func() {
		<-c.done
		c.wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		c.deps.Logger.Info("🛑 bot connection stopped")
	case <-deadline:
		c.deps.Logger.Warn("⚠️ bot connection did not stop in time", "timeout", joinTimeout.String())
	}
}

// ============================================================================
// READINESS
// ============================================================================

// readySignal is set once per established session and reset on stop.
// Waiters that subscribed before a reset keep waiting for the next Set.
type readySignal struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newReadySignal() *readySignal {
	return &readySignal{ch: make(chan struct{})}
}

func (r *readySignal) Set() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set {
		r.set = true
		close(r.ch)
	}
}

func (r *readySignal) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		r.set = false
		r.ch = make(chan struct{})
	}
}

func (r *readySignal) IsSet() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set
}

func (r *readySignal) Wait() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch
}
