// ABOUTME: Shared request path for every transport: authorize, normalize, dedupe, publish
// ABOUTME: Transports only translate their wire format to and from these calls

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/beacon-gateway/internal/agent"
	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/dedupe"
	"github.com/2389/beacon-gateway/internal/dispatch"
	"github.com/2389/beacon-gateway/internal/message"
)

// Publisher is the part of the dispatcher transports need.
type Publisher interface {
	Publish(category string, msg *message.Message) int
	Broadcast(ev message.Event) int
}

// PipelineConfig wires a Pipeline. Dedupe and Tracker are optional.
type PipelineConfig struct {
	Guard            *auth.Guard
	Dispatcher       Publisher
	Dedupe           *dedupe.Cache
	Tracker          *agent.Tracker
	HeartbeatTimeout time.Duration
	Logger           *slog.Logger
}

// Pipeline holds the components transports share.
type Pipeline struct {
	guard            *auth.Guard
	dispatcher       Publisher
	inactivity       *dispatch.InactivityBroadcaster
	dedupe           *dedupe.Cache
	tracker          *agent.Tracker
	heartbeatTimeout time.Duration
	now              func() time.Time
	logger           *slog.Logger
}

// IngestResult describes the outcome of one accepted submission.
type IngestResult struct {
	ID        string
	AgentID   string
	DataType  string
	Duplicate bool // acknowledged without dispatch
	Accepted  int  // receivers that queued the message
}

// NewPipeline validates cfg and builds a Pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Guard == nil {
		return nil, errors.New("pipeline: guard is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("pipeline: dispatcher is required")
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = agent.DefaultHeartbeatTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pipeline{
		guard:            cfg.Guard,
		dispatcher:       cfg.Dispatcher,
		inactivity:       dispatch.NewInactivityBroadcaster(cfg.Dispatcher),
		dedupe:           cfg.Dedupe,
		tracker:          cfg.Tracker,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		now:              time.Now,
		logger:           cfg.Logger.With("component", "pipeline"),
	}, nil
}

// Guard returns the auth guard.
func (p *Pipeline) Guard() *auth.Guard { return p.guard }

// HeartbeatTimeout is how long a connection may stay silent.
func (p *Pipeline) HeartbeatTimeout() time.Duration { return p.heartbeatTimeout }

// OpenSession issues a token for the agent named in fields.
func (p *Pipeline) OpenSession(ctx context.Context, username, password string, fields map[string]any) (string, error) {
	agentID, err := message.AgentID(fields)
	if err != nil {
		return "", auth.ErrMissingAgentID
	}
	return p.guard.IssueSession(ctx, username, password, agentID)
}

// CreateAccount provisions an account. fields may carry username and password.
func (p *Pipeline) CreateAccount(ctx context.Context, adminUser, adminPass string, fields map[string]any) (*auth.Account, error) {
	username, err := stringField(fields, "username")
	if err != nil {
		return nil, err
	}
	password, err := stringField(fields, "password")
	if err != nil {
		return nil, err
	}
	return p.guard.CreateAccount(ctx, adminUser, adminPass, username, password)
}

// Ingest normalizes fields and publishes them under their data type.
// source names the transport instance; when track is set the agent is
// touched in the liveness tracker.
func (p *Pipeline) Ingest(ctx context.Context, source string, fields map[string]any, track bool) (*IngestResult, error) {
	msg, err := message.Normalize(fields, p.now())
	if err != nil {
		return nil, err
	}

	if track && p.tracker != nil {
		p.tracker.Touch(msg.AgentID, source)
	}

	result := &IngestResult{ID: msg.ID, AgentID: msg.AgentID, DataType: msg.DataType}

	if explicit := message.ExplicitID(fields); explicit != "" && p.dedupe != nil {
		if p.dedupe.CheckAndMark(dedupe.Key(msg.AgentID, explicit)) {
			p.logger.DebugContext(ctx, "duplicate message acknowledged",
				"agent_id", msg.AgentID, "message_id", explicit, "source", source)
			result.Duplicate = true
			return result, nil
		}
	}

	result.Accepted = p.dispatcher.Publish(msg.DataType, msg)
	p.logger.DebugContext(ctx, "message published",
		"agent_id", msg.AgentID,
		"data_type", msg.DataType,
		"message_id", msg.ID,
		"receivers", result.Accepted,
		"source", source,
	)
	return result, nil
}

// ReportInactive broadcasts that agentID went silent and stops tracking it.
func (p *Pipeline) ReportInactive(agentID string) int {
	if p.tracker != nil {
		p.tracker.Forget(agentID)
	}
	n := p.inactivity.PublishInactive(agentID)
	p.logger.Info("agent inactive broadcast", "agent_id", agentID, "receivers", n)
	return n
}

// RunLiveness sweeps the tracker until ctx is done, broadcasting inactive
// for every agent that went silent. It returns immediately without a tracker.
func (p *Pipeline) RunLiveness(ctx context.Context, interval time.Duration) {
	if p.tracker == nil {
		return
	}
	p.tracker.Run(ctx, interval, func(agentID string) {
		n := p.inactivity.PublishInactive(agentID)
		p.logger.Info("agent inactive broadcast", "agent_id", agentID, "receivers", n)
	})
}

func stringField(fields map[string]any, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", message.ErrMalformedPayload, key)
	}
	return s, nil
}
