// File: cmd/session.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/agent"
	"github.com/xkilldash9x/waypoint/internal/answers"
	"github.com/xkilldash9x/waypoint/internal/browser"
	"github.com/xkilldash9x/waypoint/internal/config"
	"github.com/xkilldash9x/waypoint/internal/humanio"
	"github.com/xkilldash9x/waypoint/internal/llmclient"
	"github.com/xkilldash9x/waypoint/internal/memory"
	"github.com/xkilldash9x/waypoint/internal/profile"
	"github.com/xkilldash9x/waypoint/internal/recovery"
	"github.com/xkilldash9x/waypoint/internal/store"
	"github.com/xkilldash9x/waypoint/internal/tools"
)

// Function variables for substitution in tests.
var (
	newLLMClient  = llmclient.NewClient
	openStore     = store.Open
	launchBrowser = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Actuator, func(), error) {
		a, err := browser.NewChromeActuator(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	}
)

// session holds the long-lived collaborators of one command invocation.
// Everything is opened lazily; Close releases whatever was opened, in reverse.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	in     io.Reader
	out    io.Writer

	llm      schemas.LLMClient
	memory   *memory.Manager
	answers  store.Repository
	profiles *profile.Store
	human    humanio.Channel
	actuator browser.Actuator

	closers []func()
}

func newSession(cfg *config.Config, in io.Reader, out io.Writer, logger *zap.Logger) *session {
	return &session{cfg: cfg, logger: logger, in: in, out: out}
}

// Close releases every resource in reverse order of acquisition.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *session) LLM(ctx context.Context) (schemas.LLMClient, error) {
	if s.llm != nil {
		return s.llm, nil
	}
	client, err := newLLMClient(ctx, s.cfg.LLM, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cognition client: %w", err)
	}
	s.llm = client
	return client, nil
}

func (s *session) Memory() (*memory.Manager, error) {
	if s.memory != nil {
		return s.memory, nil
	}
	m, err := memory.NewManager(s.cfg.Memory, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory: %w", err)
	}
	s.memory = m
	s.closers = append(s.closers, func() {
		if err := m.Flush(); err != nil {
			s.logger.Warn("Failed to flush selector cache", zap.Error(err))
		}
	})
	return m, nil
}

func (s *session) Answers(ctx context.Context) (store.Repository, error) {
	if s.answers != nil {
		return s.answers, nil
	}
	repo, err := openStore(ctx, s.cfg.Store, s.cfg.Answers.KeywordTagLength, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open answer store: %w", err)
	}
	s.answers = repo
	s.closers = append(s.closers, func() {
		if err := repo.Close(); err != nil {
			s.logger.Warn("Failed to close answer store", zap.Error(err))
		}
	})
	return repo, nil
}

func (s *session) Profiles() *profile.Store {
	if s.profiles == nil {
		s.profiles = profile.NewStore(s.cfg.Profile.Path, s.logger)
	}
	return s.profiles
}

func (s *session) Human() humanio.Channel {
	if s.human == nil {
		s.human = humanio.NewChannel(s.in, s.out, s.cfg.Human.MaxRetries)
	}
	return s.human
}

func (s *session) Browser(ctx context.Context) (browser.Actuator, error) {
	if s.actuator != nil {
		return s.actuator, nil
	}
	a, closeFn, err := launchBrowser(ctx, s.cfg.Browser, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	s.actuator = a
	if closeFn != nil {
		s.closers = append(s.closers, closeFn)
	}
	return a, nil
}

// Resolver wires the tiered answer resolver.
func (s *session) Resolver(ctx context.Context) (*answers.Resolver, error) {
	llm, err := s.LLM(ctx)
	if err != nil {
		return nil, err
	}
	repo, err := s.Answers(ctx)
	if err != nil {
		return nil, err
	}
	return answers.NewResolver(repo, s.Profiles(), llm, s.Human(), s.cfg.Answers, s.logger), nil
}

// Agent wires the full control loop on top of a launched browser.
func (s *session) Agent(ctx context.Context) (*agent.Agent, error) {
	llm, err := s.LLM(ctx)
	if err != nil {
		return nil, err
	}
	mem, err := s.Memory()
	if err != nil {
		return nil, err
	}
	resolver, err := s.Resolver(ctx)
	if err != nil {
		return nil, err
	}
	act, err := s.Browser(ctx)
	if err != nil {
		return nil, err
	}

	perceiver := browser.NewPerceiver(act, llm, s.logger)
	challenge := recovery.NewChallengeDetector(perceiver, s.cfg.Recovery, s.logger)
	engine := recovery.NewEngine(act, perceiver, challenge, s.cfg.Recovery, s.logger)

	registry := tools.NewRegistry(s.logger)
	if err := tools.RegisterBuiltins(registry, tools.Deps{
		Actuator:  act,
		Locator:   perceiver,
		Selectors: mem,
		Human:     s.Human(),
		Answers:   resolver,
		Profiles:  s.Profiles(),
		Challenge: challenge,
		Logger:    s.logger,
	}); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return agent.New(agent.Deps{
		LLM:        llm,
		Perception: perceiver,
		Tools:      registry,
		Recovery:   engine,
		Memory:     mem,
		Human:      s.Human(),
		Challenge:  challenge,
	}, s.cfg.Agent, s.logger)
}
