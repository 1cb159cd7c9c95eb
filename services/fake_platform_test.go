package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/LovationAdmin/voice-invites/clock"
	"github.com/LovationAdmin/voice-invites/i18n"
	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

var testEpoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	testGuildID snowflake.ID = 1
	testBotID   snowflake.ID = 900
	testTarget  snowflake.ID = 42
	testOther   snowflake.ID = 99
)

type sentPrompt struct {
	UserID snowflake.ID
	Prompt AcceptPrompt
}

type sentReply struct {
	Interaction Interaction
	Reply       Reply
}

// fakePlatform is an in-memory Discord with failure injection.
type fakePlatform struct {
	mu sync.Mutex

	guilds     map[snowflake.ID]Guild
	users      map[snowflake.ID]User
	members    map[snowflake.ID]bool
	channels   map[snowflake.ID]Channel
	voice      map[snowflake.ID]int
	overwrites map[snowflake.ID]map[snowflake.ID]PermissionOverwrite
	nextID     snowflake.ID
	invites    int

	prompts []sentPrompt
	replies []sentReply
	deleted []snowflake.ID
	reasons []string

	openErr     error
	guildErr    error
	createErr   error
	userErr     error
	dmErr       error
	deleteErr   error
	inviteErr   error
	channelErr  error
	countErr    error
	memberErr   error
	createBlock chan struct{}

	// openBlock holds Open until closed; openEntered is closed once Open
	// starts waiting on it.
	openBlock   chan struct{}
	openEntered chan struct{}
	onClose     func()

	readyOnOpen bool
	handler     func(Event)
	opened      bool
	closed      bool
	// lifecycle records "open" and "close" in call-completion order.
	lifecycle []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		guilds: map[snowflake.ID]Guild{
			testGuildID: {ID: testGuildID, Name: "Cinema Club", DefaultRoleID: testGuildID},
		},
		users: map[snowflake.ID]User{
			testTarget: {ID: testTarget, Username: "target"},
			testOther:  {ID: testOther, Username: "other"},
		},
		members:     map[snowflake.ID]bool{testTarget: true, testOther: true},
		channels:    map[snowflake.ID]Channel{},
		voice:       map[snowflake.ID]int{},
		overwrites:  map[snowflake.ID]map[snowflake.ID]PermissionOverwrite{},
		nextID:      5000,
		readyOnOpen: true,
	}
}

func (p *fakePlatform) Open(ctx context.Context, handler func(Event)) error {
	p.mu.Lock()
	if p.openErr != nil {
		p.mu.Unlock()
		return p.openErr
	}
	block, entered := p.openBlock, p.openEntered
	p.mu.Unlock()

	// The real gateway handshake ignores ctx.
	if block != nil {
		if entered != nil {
			close(entered)
		}
		<-block
	}

	p.mu.Lock()
	p.handler = handler
	p.opened = true
	p.closed = false
	p.lifecycle = append(p.lifecycle, "open")
	ready := p.readyOnOpen
	p.mu.Unlock()

	if ready {
		handler(ReadyEvent{BotUserID: testBotID})
	}
	return nil
}

func (p *fakePlatform) Close() error {
	p.mu.Lock()
	hook := p.onClose
	p.closed = true
	p.lifecycle = append(p.lifecycle, "close")
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (p *fakePlatform) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lifecycle...)
}

// emit delivers an event the way the gateway would.
func (p *fakePlatform) emit(ev Event) {
	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (p *fakePlatform) BotUserID() snowflake.ID { return testBotID }

func (p *fakePlatform) Guild(ctx context.Context, guildID snowflake.ID) (Guild, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.guildErr != nil {
		return Guild{}, p.guildErr
	}
	guild, ok := p.guilds[guildID]
	if !ok {
		return Guild{}, fmt.Errorf("guild %s: %w", guildID, ErrUnknownResource)
	}
	return guild, nil
}

func (p *fakePlatform) CreateVoiceChannel(ctx context.Context, guildID snowflake.ID, name string, overwrites []PermissionOverwrite, reason string) (Channel, error) {
	p.mu.Lock()
	block := p.createBlock
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Channel{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return Channel{}, p.createErr
	}
	p.nextID++
	channel := Channel{ID: p.nextID, GuildID: guildID, Name: name}
	p.channels[channel.ID] = channel
	p.overwrites[channel.ID] = map[snowflake.ID]PermissionOverwrite{}
	for _, ow := range overwrites {
		p.overwrites[channel.ID][ow.ID] = ow
	}
	p.reasons = append(p.reasons, reason)
	return channel, nil
}

func (p *fakePlatform) Channel(ctx context.Context, channelID snowflake.ID) (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channelErr != nil {
		return Channel{}, p.channelErr
	}
	channel, ok := p.channels[channelID]
	if !ok {
		return Channel{}, fmt.Errorf("channel %s: %w", channelID, ErrUnknownResource)
	}
	return channel, nil
}

func (p *fakePlatform) VoiceMemberCount(ctx context.Context, guildID, channelID snowflake.ID) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.countErr != nil {
		return 0, p.countErr
	}
	return p.voice[channelID], nil
}

func (p *fakePlatform) SetPermission(ctx context.Context, channelID snowflake.ID, overwrite PermissionOverwrite, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[channelID]; !ok {
		return fmt.Errorf("channel %s: %w", channelID, ErrUnknownResource)
	}
	p.overwrites[channelID][overwrite.ID] = overwrite
	return nil
}

func (p *fakePlatform) DeleteChannel(ctx context.Context, channelID snowflake.ID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	if _, ok := p.channels[channelID]; !ok {
		return fmt.Errorf("channel %s: %w", channelID, ErrUnknownResource)
	}
	delete(p.channels, channelID)
	delete(p.overwrites, channelID)
	p.deleted = append(p.deleted, channelID)
	p.reasons = append(p.reasons, reason)
	return nil
}

func (p *fakePlatform) CreateInvite(ctx context.Context, channelID snowflake.ID, reason string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inviteErr != nil {
		return "", p.inviteErr
	}
	if _, ok := p.channels[channelID]; !ok {
		return "", fmt.Errorf("channel %s: %w", channelID, ErrUnknownResource)
	}
	p.invites++
	return fmt.Sprintf("https://discord.gg/code%d", p.invites), nil
}

func (p *fakePlatform) Member(ctx context.Context, guildID, userID snowflake.ID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.memberErr != nil {
		return false, p.memberErr
	}
	return p.members[userID], nil
}

func (p *fakePlatform) User(ctx context.Context, userID snowflake.ID) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.userErr != nil {
		return User{}, p.userErr
	}
	user, ok := p.users[userID]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", userID, ErrUnknownResource)
	}
	return user, nil
}

func (p *fakePlatform) SendAcceptPrompt(ctx context.Context, userID snowflake.ID, prompt AcceptPrompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dmErr != nil {
		return p.dmErr
	}
	p.prompts = append(p.prompts, sentPrompt{UserID: userID, Prompt: prompt})
	return nil
}

func (p *fakePlatform) Respond(ctx context.Context, interaction Interaction, reply Reply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, sentReply{Interaction: interaction, Reply: reply})
	return nil
}

// ---- test accessors ----

func (p *fakePlatform) set(fn func(p *fakePlatform)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakePlatform) hasChannel(id snowflake.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[id]
	return ok
}

func (p *fakePlatform) overwrite(channelID, targetID snowflake.ID) (PermissionOverwrite, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ow, ok := p.overwrites[channelID][targetID]
	return ow, ok
}

func (p *fakePlatform) lastReply() sentReply {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return sentReply{}
	}
	return p.replies[len(p.replies)-1]
}

func (p *fakePlatform) inviteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invites
}

func (p *fakePlatform) promptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

// recordingListener captures published lifecycle events.
type recordingListener struct {
	mu     sync.Mutex
	events []models.InvitationEvent
}

func (l *recordingListener) PublishInvitationEvent(event models.InvitationEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		if ev.Reason != "" {
			out = append(out, ev.Type+":"+ev.Reason)
			continue
		}
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	platform *fakePlatform
	clock    *clock.FakeClock
	listener *recordingListener
	deps     Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	texts, err := i18n.Load("en-US")
	if err != nil {
		t.Fatalf("load texts: %v", err)
	}
	env := &testEnv{
		platform: newFakePlatform(),
		clock:    clock.Fake(testEpoch),
		listener: &recordingListener{},
	}
	env.deps = Deps{
		Platform: env.platform,
		Store:    NewInvitationStore(),
		Texts:    texts,
		Clock:    env.clock,
		Metrics:  utils.NewMetrics(),
		Listener: env.listener,
		Logger:   discardLogger(),
	}
	return env
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// provisioned creates a tracked invitation with a live channel.
func (e *testEnv) provisioned(t *testing.T, id string, expiresIn int) models.Invitation {
	t.Helper()
	inv := models.NewInvitation(id, models.NewInvitationInput{
		GuildID:      testGuildID,
		TargetUserID: testTarget,
		ChannelName:  "Movie Night",
		ExpiresIn:    expiresIn,
	}, e.clock.Now())
	inv, _, err := NewProvisioner(e.deps).Provision(context.Background(), inv)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	return inv
}

func acceptClick(invitationID string, userID snowflake.ID) AcceptEvent {
	return AcceptEvent{
		Interaction:  Interaction{ID: "i-" + userID.String(), Token: "tok", UserID: userID, GuildID: testGuildID, Locale: "en-US"},
		InvitationID: invitationID,
	}
}
