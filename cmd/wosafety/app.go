package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/wosafety/internal/agent"
	"github.com/user/wosafety/internal/agent/tools"
	"github.com/user/wosafety/internal/channel"
	"github.com/user/wosafety/internal/clock"
	"github.com/user/wosafety/internal/config"
	"github.com/user/wosafety/internal/gateway"
	"github.com/user/wosafety/internal/hazard"
	"github.com/user/wosafety/internal/prompt"
	"github.com/user/wosafety/internal/review"
	"github.com/user/wosafety/internal/state"
	"github.com/user/wosafety/internal/widget"
	"github.com/user/wosafety/pkg/llm"
	"github.com/user/wosafety/pkg/llm/openai"
)

func workOrderStore(cfg *config.Config) *state.WorkOrderStore {
	return state.NewWorkOrderStore(filepath.Join(cfg.DataDir, "workorders.json"))
}

func scheduleStore(cfg *config.Config) *state.ScheduleStore {
	return state.NewScheduleStore(filepath.Join(cfg.DataDir, "schedules.json"))
}

// stack is the in-process safety-check pipeline shared by serve and check.
type stack struct {
	cfg        *config.Config
	workOrders *state.WorkOrderStore
	sessions   *state.SessionStore
	records    *state.RecordStore
	schedules  *state.ScheduleStore
	hub        *channel.Hub
	hazards    hazard.Feed
	tools      *agent.Registry
	runtime    *agent.Runtime
	gateway    *gateway.Gateway
}

func newStack(cfg *config.Config) (*stack, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &stack{
		cfg:        cfg,
		workOrders: workOrderStore(cfg),
		sessions:   state.NewSessionStore(cfg.DataDir),
		records:    state.NewRecordStore(cfg.DataDir),
		schedules:  scheduleStore(cfg),
		hub:        channel.NewHub(clock.Real(), channel.DefaultRetention),
	}

	var feed hazard.Feed = &hazard.Stub{}
	if cfg.Hazards.FeedPath != "" {
		feed = hazard.NewFileFeed(cfg.Hazards.FeedPath)
	}
	s.hazards = hazard.NewCached(feed, cfg.HazardCacheTTL())

	llmCfg := &llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}
	if err := llmCfg.Validate(); err != nil {
		return nil, err
	}
	provider := openai.New(llmCfg)

	engine, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve, cfg.SystemPromptPath)
	if err != nil {
		return nil, fmt.Errorf("create prompt engine: %w", err)
	}

	s.tools = agent.NewRegistry()
	s.tools.Register(tools.NewNearbyHazards(s.hazards, cfg.Hazards.RadiusKm))
	s.tools.Register(tools.NewReadURL())

	s.gateway = gateway.New(s.sessions, int64(cfg.MaxConcurrent))
	s.runtime = agent.New(provider, engine, agent.Stores{
		Sessions:   s.sessions,
		Records:    s.records,
		WorkOrders: s.workOrders,
	}, s.tools, s.hub, s.gateway.Retry(), cfg.MaxToolRounds)
	s.gateway.Queue.SetProcessor(s.runtime.ProcessRun)
	return s, nil
}

func (s *stack) reviewDeps() review.Deps {
	mount, grace, restore, expand := s.cfg.WidgetDelays()
	return review.Deps{
		WorkOrders:     s.workOrders,
		Sessions:       s.sessions,
		Records:        s.records,
		Channel:        s.hub,
		Invoker:        s.gateway,
		Hazards:        s.hazards,
		HazardRadiusKm: s.cfg.Hazards.RadiusKm,
		StreamTimeout:  s.cfg.StreamTimeout(),
		Widget: widget.Options{
			MountDelay:   mount,
			HideGrace:    grace,
			RestoreDelay: restore,
			ExpandDelay:  expand,
		},
	}
}
