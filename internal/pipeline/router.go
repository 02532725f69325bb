// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pdiddy/capsule-engine/internal/capsule"
	"github.com/pdiddy/capsule-engine/internal/correlate"
	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Default agent addresses.
const (
	RouterAddress   = "router"
	PipelineAddress = "pipeline"
	CapsuleAddress  = "capsule"
)

// MetaState carries the terminal pipeline state on a worker reply.
const MetaState = "pipeline_state"

// Router is the front agent. It forwards user requests to a worker,
// remembers who asked, and forwards each worker reply back to its
// originator. Requests carrying a capsule action go to the capsule worker;
// everything else goes to the pipeline worker.
type Router struct {
	addr     string
	pipeline string
	capsules string
	bus      Bus
	corr     *correlate.Correlator
	logger   *log.Logger
	now      func() time.Time
}

// NewRouter returns a router at RouterAddress forwarding to the default
// worker addresses.
func NewRouter(bus Bus, corr *correlate.Correlator, logger *log.Logger) *Router {
	return &Router{
		addr:     RouterAddress,
		pipeline: PipelineAddress,
		capsules: CapsuleAddress,
		bus:      bus,
		corr:     corr,
		logger:   logging.OrDiscard(logger).WithPrefix("router"),
		now:      time.Now,
	}
}

// Address returns the router's bus address.
func (r *Router) Address() string { return r.addr }

func (r *Router) isWorker(addr string) bool {
	return addr == r.pipeline || addr == r.capsules
}

// Handle serves one envelope addressed to the router.
func (r *Router) Handle(ctx context.Context, env types.Envelope) {
	if r.isWorker(env.Sender) {
		r.deliver(ctx, env)
		return
	}

	if env.Has(types.KindEndSession) {
		r.corr.EndSession(env.SessionID)
		r.logger.Debug("session ended", "session", env.SessionID)
	}
	meta := env.Metadata()
	if strings.TrimSpace(env.Text()) == "" && len(meta) == 0 {
		return
	}

	worker := r.pipeline
	if meta[types.MetaAction] != "" {
		worker = r.capsules
	}
	r.corr.Register(worker, env.Sender)
	r.corr.RegisterSession(env.SessionID, env.Sender)

	fwdMeta := map[string]string{types.MetaOriginalSender: env.Sender}
	for k, v := range meta {
		fwdMeta[k] = v
	}
	if env.SessionID != "" {
		fwdMeta[types.MetaSessionID] = env.SessionID
	}
	fwd := types.Envelope{
		ID:        uuid.NewString(),
		Sender:    r.addr,
		Recipient: worker,
		SessionID: env.SessionID,
		Timestamp: r.now().UTC(),
		Contents: []types.Content{
			types.TextContent{Text: env.Text()},
			types.MetadataContent{Metadata: fwdMeta},
		},
	}
	if err := r.bus.Send(ctx, fwd); err != nil {
		r.corr.ResolveSession(worker, env.SessionID)
		r.logger.Error("forward failed", "worker", worker, "err", err)
		return
	}
	r.logger.Info("forwarded", "from", env.Sender, "to", worker, "session", env.SessionID)
}

// deliver routes a worker reply to the party waiting for it. A reply with
// no waiting party is dropped.
func (r *Router) deliver(ctx context.Context, env types.Envelope) {
	waiting, ok := r.corr.ResolveSession(env.Sender, env.SessionID)
	if !ok {
		r.logger.Warn("dropping worker reply", "worker", env.Sender, "session", env.SessionID,
			"err", types.ErrCorrelationMiss)
		return
	}
	out := env
	out.ID = uuid.NewString()
	out.Sender = r.addr
	out.Recipient = waiting
	out.Timestamp = r.now().UTC()
	if err := r.bus.Send(ctx, out); err != nil {
		r.logger.Error("reply delivery failed", "to", waiting, "err", err)
		return
	}
	r.logger.Info("delivered", "from", env.Sender, "to", waiting)
}

// Reset drops every pending correlation, as on shutdown.
func (r *Router) Reset() {
	r.corr.Clear()
}

// Agent serves the pipeline on the bus: each text envelope is one query.
type Agent struct {
	addr   string
	svc    *Service
	bus    Bus
	logger *log.Logger
	now    func() time.Time
}

// NewAgent returns a pipeline worker at PipelineAddress.
func NewAgent(svc *Service, bus Bus, logger *log.Logger) *Agent {
	return &Agent{
		addr:   PipelineAddress,
		svc:    svc,
		bus:    bus,
		logger: logging.OrDiscard(logger).WithPrefix("agent"),
		now:    time.Now,
	}
}

// Handle runs the query in env and replies to the sender.
func (a *Agent) Handle(ctx context.Context, env types.Envelope) {
	meta := map[string]string{}
	var text string
	if query := strings.TrimSpace(env.Text()); query == "" {
		text = "Error: No query text provided"
	} else {
		res := a.svc.Run(ctx, query)
		text = res.Reply()
		meta[MetaState] = string(res.State)
		if res.Capsule != nil {
			meta[types.MetaCapsuleID] = res.Capsule.CapsuleID
		}
	}

	reply := types.Envelope{
		ID:        uuid.NewString(),
		Sender:    a.addr,
		Recipient: env.Sender,
		SessionID: env.SessionID,
		Timestamp: a.now().UTC(),
		Contents:  []types.Content{types.TextContent{Text: text}},
	}
	if len(meta) > 0 {
		reply.Contents = append(reply.Contents, types.MetadataContent{Metadata: meta})
	}
	if err := a.bus.Send(ctx, reply); err != nil {
		a.logger.Error("reply failed", "to", env.Sender, "err", err)
	}
}

// CapsuleAgent adapts a capsule message handler to the bus.
func CapsuleAgent(h *capsule.Handler, bus Bus, logger *log.Logger) HandlerFunc {
	logger = logging.OrDiscard(logger).WithPrefix("capsule-agent")
	return func(ctx context.Context, env types.Envelope) {
		if err := bus.Send(ctx, h.Handle(ctx, env)); err != nil {
			logger.Error("reply failed", "to", env.Sender, "err", err)
		}
	}
}
