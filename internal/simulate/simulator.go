// ABOUTME: Synthetic traffic generator producing inbound messages for the dev portal.
// ABOUTME: Mixes seeded personas, late-registered newcomers, and unregistered ghosts.

package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/inbox/internal/store"
)

// Backend is the portal surface the simulator drives. Deliver persists
// the message and fans it out to live feeds, exactly like a message
// posted through the API.
type Backend interface {
	RegisterProfile(ctx context.Context, profile *store.Profile) error
	Deliver(ctx context.Context, msg *store.Message) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Config controls the traffic mix.
type Config struct {
	// Interval between generated messages.
	Interval time.Duration
	// GhostRatio is the fraction of messages sent by counterparties that
	// never get a profile, so profile lookups 404.
	GhostRatio float64
	// NewcomerRatio is the fraction of messages sent by counterparties
	// whose profile is registered immediately before their first message.
	NewcomerRatio float64
}

// persona is one synthetic sender identity.
type persona struct {
	id          string
	displayName string
	category    string
	org         string
}

// Seeded senders registered when the simulator starts.
var personaDeck = []persona{
	{"recruiter-dana", "Dana Reeve", "recruiter", "Northbay Labs"},
	{"recruiter-sam", "Sam Okafor", "recruiter", "Brighthill Talent"},
	{"recruiter-ines", "Inés Valdez", "recruiter", "Forgepoint Search"},
	{"company-atlas", "Atlas Robotics", "company", "Atlas Robotics"},
	{"company-lumen", "Lumen Health", "company", "Lumen Health"},
	{"candidate-theo", "Theo Park", "candidate", ""},
}

// Senders registered lazily, right before their first message.
var newcomerDeck = []persona{
	{"recruiter-mira", "Mira Solanke", "recruiter", "Eastgate Partners"},
	{"recruiter-koji", "Koji Tanaka", "recruiter", "Harbor & Vane"},
	{"company-verdant", "Verdant Systems", "company", "Verdant Systems"},
	{"company-quill", "Quill Finance", "company", "Quill Finance"},
	{"candidate-ada", "Ada Moreau", "candidate", ""},
}

var messageLines = []string{
	"Hi! I came across your profile and think you'd be a great fit for a role we're hiring for.",
	"Are you open to a quick chat this week?",
	"We reviewed your application and would like to move forward.",
	"Just checking in — did you get a chance to look at the offer details?",
	"Our team was impressed with your background. When are you free to talk?",
	"Thanks for your time today. Sending over the next steps shortly.",
	"We have a senior position that matches your experience. Interested?",
	"Quick follow-up on my last message — any thoughts?",
	"Your profile stood out to us. Would you consider a remote role?",
	"The hiring manager would love to meet you next week.",
	"Can you share your availability for a 30-minute intro call?",
	"We just opened a new position on the platform team. Want details?",
}

// Simulator generates inbound messages on a fixed cadence. It is a dev
// tool: errors are logged and the loop keeps going.
type Simulator struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	users     []string
	newcomers []persona
	ghostSeq  int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a simulator. Interval must be positive; ratios are
// validated by config loading.
func New(backend Backend, cfg Config, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		backend:   backend,
		cfg:       cfg,
		logger:    logger.With("component", "simulator"),
		newcomers: append([]persona(nil), newcomerDeck...),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start registers the persona profiles and launches the generator loop.
func (s *Simulator) Start(ctx context.Context) error {
	users, err := s.backend.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	s.users = users

	for _, p := range personaDeck {
		if err := s.backend.RegisterProfile(ctx, profileOf(p)); err != nil {
			return fmt.Errorf("registering persona %s: %w", p.id, err)
		}
	}

	go s.loop()
	s.logger.Info("simulator started",
		"interval", s.cfg.Interval,
		"ghost_ratio", s.cfg.GhostRatio,
		"newcomer_ratio", s.cfg.NewcomerRatio,
		"users", len(users),
	)
	return nil
}

// Stop halts the generator and waits for the loop to exit. Idempotent.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Simulator) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick generates one inbound message.
func (s *Simulator) tick() {
	if len(s.users) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receiver := s.users[rand.IntN(len(s.users))]
	sender := s.pickSender(ctx)

	msg := &store.Message{
		ID:         uuid.NewString(),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    messageLines[rand.IntN(len(messageLines))],
		OccurredAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.backend.Deliver(ctx, msg); err != nil {
		s.logger.Warn("delivery failed", "sender", sender, "receiver", receiver, "error", err)
		return
	}
	s.logger.Debug("generated message", "sender", sender, "receiver", receiver)
}

// pickSender rolls the traffic mix: ghost, newcomer, or seeded persona.
func (s *Simulator) pickSender(ctx context.Context) string {
	roll := rand.Float64()

	if roll < s.cfg.GhostRatio {
		s.ghostSeq++
		return fmt.Sprintf("ghost-%d", s.ghostSeq)
	}

	if roll < s.cfg.GhostRatio+s.cfg.NewcomerRatio && len(s.newcomers) > 0 {
		p := s.newcomers[0]
		s.newcomers = s.newcomers[1:]
		// Register just-in-time so the first event's profile lookup
		// succeeds against a profile that did not exist at snapshot time.
		if err := s.backend.RegisterProfile(ctx, profileOf(p)); err != nil {
			s.logger.Warn("newcomer registration failed", "id", p.id, "error", err)
		}
		return p.id
	}

	return personaDeck[rand.IntN(len(personaDeck))].id
}

func profileOf(p persona) *store.Profile {
	return &store.Profile{
		ID:               p.id,
		DisplayName:      p.displayName,
		Category:         p.category,
		OrganizationName: p.org,
		CreatedAt:        time.Now().UTC(),
	}
}
