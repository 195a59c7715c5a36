// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UseNativeOT selects whether 3220 OpenTherm pass-through is preferred
// over native RAMSES equivalents (§6 config).
type UseNativeOT string

const (
	UseNativeOTAlways UseNativeOT = "always"
	UseNativeOTPrefer UseNativeOT = "prefer"
	UseNativeOTAvoid  UseNativeOT = "avoid"
	UseNativeOTNever  UseNativeOT = "never"
)

// Config is the core's configuration surface (§6); the YAML/CLI loader
// that produces it is an external collaborator (internal/config).
type Config struct {
	DisableDiscovery bool
	EnableEavesdrop  bool
	MaxZones         int
	ReduceProcessing int
	UseAliases       bool
	UseNativeOT      UseNativeOT
	DisableSending   bool
	EnforceKnownList bool
}

// DeviceSchema is one known_list/block_list entry (§6).
type DeviceSchema struct {
	Class  Slug
	Alias  string
	Faked  bool
	Scheme VendorScheme
}

// Transport is the external line transport the Gateway facade consumes
// (§1 scope: byte-level serial/TTY I/O is out of core). A concrete
// adapter (internal/transport) implements this over go.bug.st/serial or
// gorilla/websocket.
type Transport interface {
	WriteLine(line string) error
	ReadLine(ctx context.Context) (string, error)
	Close() error
}

// Gateway is the facade (component J) owning the whole component graph:
// the transport, the device/orphan/TCS maps, the filter lists, and a
// reference to the primary TCS.
type Gateway struct {
	Config    Config
	Logger    zerolog.Logger
	Transport Transport

	SelfID    ID
	MainTCS   *ID
	KnownList map[ID]DeviceSchema
	BlockList map[ID]bool

	devices          map[ID]*Device
	systems          map[ID]*System
	zones            map[ZoneKey]*Zone
	dhwZones         map[ID]*DhwZone
	ufhControllers   map[ID]*UfhController
	ufhCircuits      map[UfhCircuitKey]*UfhCircuit
	unwanted         map[ID]bool
	eavesdropWindows map[ID]*eavesdropWindow

	scheduler *Scheduler

	mu      sync.Mutex
	pending map[string]chan Packet

	scheduleLocksMu sync.Mutex
	scheduleLocks   map[ID]*scheduleLock

	packetWaitersMu sync.Mutex
	packetWaiters   []*packetWaiter

	subsMu sync.Mutex
	subs   map[chan Message]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewGateway constructs a Gateway with empty entity maps; call Start to
// begin reading from transport and enable discovery.
func NewGateway(self ID, cfg Config, transport Transport, logger zerolog.Logger) *Gateway {
	return &Gateway{
		Config:           cfg,
		Logger:           logger,
		Transport:        transport,
		SelfID:           self,
		KnownList:        make(map[ID]DeviceSchema),
		BlockList:        make(map[ID]bool),
		devices:          make(map[ID]*Device),
		systems:          make(map[ID]*System),
		zones:            make(map[ZoneKey]*Zone),
		dhwZones:         make(map[ID]*DhwZone),
		ufhControllers:   make(map[ID]*UfhController),
		ufhCircuits:      make(map[UfhCircuitKey]*UfhCircuit),
		unwanted:         make(map[ID]bool),
		eavesdropWindows: make(map[ID]*eavesdropWindow),
		scheduler:        NewScheduler(),
		pending:          make(map[string]chan Packet),
		scheduleLocks:    make(map[ID]*scheduleLock),
		subs:             make(map[chan Message]struct{}),
	}
}

// Subscribe registers an observer for every dispatched Message, for a
// caller that wants the live traffic stream without competing with the
// dispatch goroutine for the entity graph (e.g. a TUI). The channel is
// buffered and non-blocking: a slow consumer drops messages rather than
// stalling dispatch, the same trade-off the teacher's control.go makes
// with its batchChan. Call the returned func to unsubscribe.
func (g *Gateway) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, 256)
	g.subsMu.Lock()
	g.subs[ch] = struct{}{}
	g.subsMu.Unlock()

	unsubscribe := func() {
		g.subsMu.Lock()
		if _, ok := g.subs[ch]; ok {
			delete(g.subs, ch)
			close(ch)
		}
		g.subsMu.Unlock()
	}
	return ch, unsubscribe
}

func (g *Gateway) publish(msg Message) {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	for ch := range g.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// LoadSchema creates, ahead of any traffic, the controller Device (as
// CTL), its System, the Zones named by zoneIdxs and, when dhw is set, the
// DhwZone (§6's `system`, `stored_hotwater` and `zones.<idx>` blocks). It
// creates no UFH controllers, sensors or actuators.
func (g *Gateway) LoadSchema(ctl ID, zoneIdxs []string, dhw bool) {
	dev, _ := g.getOrCreateDevice(ctl)
	dev.Slug = SlugCTL
	sys := g.ensureSystem(ctl)
	for _, idx := range zoneIdxs {
		g.ensureZone(ZoneKey{TCS: ctl, Idx: idx})
	}
	if dhw {
		g.ensureDhwZone(ctl)
	}
	if g.MainTCS == nil {
		g.MainTCS = &sys.CtlID
	}
}

// Start begins the single dispatch loop: it reads lines from Transport,
// parses each into a Packet, and dispatches it, preserving §5's
// per-gateway receive-order guarantee by running entirely on one
// goroutine. If restore is non-nil its lines are replayed first.
func (g *Gateway) Start(ctx context.Context, restore []string) error {
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})

	now := time.Now()
	for _, line := range restore {
		pkt, err := ParseLine(line, now)
		if err != nil {
			g.Logger.Info().Err(err).Msg("skipping unparseable restored line")
			continue
		}
		g.dispatch(pkt)
	}

	go g.readLoop(runCtx)
	return nil
}

func (g *Gateway) readLoop(ctx context.Context) {
	defer close(g.done)
	for {
		line, err := g.Transport.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.Logger.Warn().Err(err).Msg("transport read error")
			continue
		}
		pkt, err := ParseLine(line, time.Now())
		if err != nil {
			g.Logger.Info().Err(err).Msg("dropping malformed line")
			continue
		}
		g.dispatch(pkt)
	}
}

// Stop cancels the read loop, closes every pending AsyncSendCmd waiter,
// packet waiter and subscriber channel, waits for the read loop to exit,
// and closes the transport (§5 Cancellation). Binding contexts and
// discovery registrations run no goroutine of their own and are left as
// they are.
func (g *Gateway) Stop() error {
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Lock()
	for header, ch := range g.pending {
		close(ch)
		delete(g.pending, header)
	}
	g.mu.Unlock()

	g.packetWaitersMu.Lock()
	for _, w := range g.packetWaiters {
		close(w.ch)
	}
	g.packetWaiters = nil
	g.packetWaitersMu.Unlock()

	g.subsMu.Lock()
	for ch := range g.subs {
		close(ch)
	}
	g.subs = make(map[chan Message]struct{})
	g.subsMu.Unlock()

	if g.done != nil {
		<-g.done
	}
	return g.Transport.Close()
}

func (g *Gateway) transmit(p Packet) error {
	if g.Config.DisableSending {
		return nil
	}
	return g.Transport.WriteLine(p.Format())
}

// SendCmd transmits cmd repeats times (once when repeats is 0), waiting
// gap between attempts. It runs synchronously: it returns after the last
// attempt, or early when ctx is done during a gap. A transport failure is
// logged and ends the call without an error value (§4.7's "send_cmd logs
// and returns None" policy).
func (g *Gateway) SendCmd(ctx context.Context, cmd Command, gap time.Duration, repeats int) {
	pkt := cmd.Packet(time.Now())
	for i := 0; i < repeats || i == 0; i++ {
		if err := g.transmit(pkt); err != nil {
			g.Logger.Warn().Err(err).Str("header", pkt.Header()).Msg("send_cmd failed")
			return
		}
		if i+1 < repeats && gap > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(gap):
			}
		}
		if repeats == 0 {
			break
		}
	}
}

// AsyncSendCmd sends cmd and, when waitForReply is true, awaits a reply
// packet correlated by the command's expected response header, retrying
// up to maxRetries times before surfacing ProtocolSendFailedError
// (§4.6/§4.7).
func (g *Gateway) AsyncSendCmd(ctx context.Context, cmd Command, respHeader string, maxRetries int, timeout time.Duration, waitForReply bool) (*Packet, error) {
	pkt := cmd.Packet(time.Now())
	if !waitForReply {
		if err := g.transmit(pkt); err != nil {
			return nil, &ProtocolSendFailedError{Header: pkt.Header(), Reason: err.Error()}
		}
		return nil, nil
	}

	ch := g.registerWaiter(respHeader)
	defer g.unregisterWaiter(respHeader, ch)
	if err := g.transmit(pkt); err != nil {
		return nil, &ProtocolSendFailedError{Header: pkt.Header(), Reason: err.Error()}
	}

	for attempt := 0; ; attempt++ {
		select {
		case reply, ok := <-ch:
			if !ok {
				return nil, &ProtocolSendFailedError{Header: respHeader, Reason: "gateway stopped"}
			}
			return &reply, nil
		case <-time.After(timeout):
			if attempt >= maxRetries {
				return nil, &ProtocolSendFailedError{Header: respHeader, Reason: "retry limit exceeded, no reply"}
			}
			if err := g.transmit(pkt); err != nil {
				return nil, &ProtocolSendFailedError{Header: respHeader, Reason: err.Error()}
			}
		case <-ctx.Done():
			return nil, &ProtocolSendFailedError{Header: respHeader, Reason: "cancelled"}
		}
	}
}

func (g *Gateway) registerWaiter(header string) chan Packet {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan Packet, 1)
	g.pending[header] = ch
	return ch
}

func (g *Gateway) unregisterWaiter(header string, ch chan Packet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.pending[header]; ok && cur == ch {
		delete(g.pending, header)
	}
}

// resolvePending implements the "typed header->oneshot-future map" fix
// from the Design Notes: a dispatched packet whose header matches a
// pending waiter resolves it exactly once.
func (g *Gateway) resolvePending(pkt Packet) {
	g.mu.Lock()
	ch, ok := g.pending[pkt.Header()]
	if ok {
		delete(g.pending, pkt.Header())
	}
	g.mu.Unlock()
	if ok {
		ch <- pkt
		close(ch)
	}
}

// packetWaiter is a one-shot filter registered against the dispatch
// stream: unlike pending (keyed by an exact, predictable header), a
// waiter matches on an arbitrary predicate, for callers that cannot know
// the reply's header ahead of time (e.g. GetSchedule's first fragment,
// whose header carries a fragment total the controller alone decides).
type packetWaiter struct {
	match func(Packet) bool
	ch    chan Packet
}

// waitForPacket blocks until a dispatched packet satisfies match, ctx is
// cancelled, or timeout elapses.
func (g *Gateway) waitForPacket(ctx context.Context, match func(Packet) bool, timeout time.Duration) (*Packet, error) {
	w := &packetWaiter{match: match, ch: make(chan Packet, 1)}
	g.packetWaitersMu.Lock()
	g.packetWaiters = append(g.packetWaiters, w)
	g.packetWaitersMu.Unlock()
	defer g.removePacketWaiter(w)

	select {
	case pkt, ok := <-w.ch:
		if !ok {
			return nil, &ProtocolSendFailedError{Reason: "gateway stopped"}
		}
		return &pkt, nil
	case <-time.After(timeout):
		return nil, &ProtocolSendFailedError{Reason: "timed out waiting for matching packet"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) removePacketWaiter(w *packetWaiter) {
	g.packetWaitersMu.Lock()
	defer g.packetWaitersMu.Unlock()
	for i, cur := range g.packetWaiters {
		if cur == w {
			g.packetWaiters = append(g.packetWaiters[:i], g.packetWaiters[i+1:]...)
			return
		}
	}
}

// resolvePacketWaiters delivers pkt to every registered waiter whose
// predicate matches, removing each from the active set.
func (g *Gateway) resolvePacketWaiters(pkt Packet) {
	g.packetWaitersMu.Lock()
	var matched []*packetWaiter
	remaining := g.packetWaiters[:0]
	for _, w := range g.packetWaiters {
		if w.match(pkt) {
			matched = append(matched, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	g.packetWaiters = remaining
	g.packetWaitersMu.Unlock()

	for _, w := range matched {
		w.ch <- pkt
	}
}

// FakeDevice marks id as faked: it emits packets on this library's
// behalf and also receives packets naming it as dst even under
// enforce_known_list filtering (§4.6).
func (g *Gateway) FakeDevice(id ID, scheme VendorScheme, create bool) (*Device, error) {
	dev, ok := g.devices[id]
	if !ok {
		if !create {
			return nil, &DeviceNotFakedError{Device: id}
		}
		dev, _ = g.getOrCreateDevice(id)
	}
	dev.Faked = &Faking{Impersonated: true, Scheme: scheme}
	return dev, nil
}

// RequireFaked returns dev if it is faked, else DeviceNotFakedError; every
// faking-only setter method goes through this (§4.6).
func (g *Gateway) RequireFaked(id ID) (*Device, error) {
	dev, ok := g.devices[id]
	if !ok || dev.Faked == nil {
		return nil, &DeviceNotFakedError{Device: id}
	}
	return dev, nil
}

// Unwanted returns the set of device ids silently dropped by the
// known/block-list filters, for diagnostics.
func (g *Gateway) Unwanted() []ID {
	out := make([]ID, 0, len(g.unwanted))
	for id := range g.unwanted {
		out = append(out, id)
	}
	return out
}

// Device looks up a device by id.
func (g *Gateway) Device(id ID) (*Device, bool) {
	d, ok := g.devices[id]
	return d, ok
}

// System looks up a TCS by its controller id.
func (g *Gateway) System(ctl ID) (*System, bool) {
	s, ok := g.systems[ctl]
	return s, ok
}

// Zone looks up a zone by key.
func (g *Gateway) Zone(key ZoneKey) (*Zone, bool) {
	z, ok := g.zones[key]
	return z, ok
}

// DhwZone looks up a TCS's DhwZone.
func (g *Gateway) DhwZone(ctl ID) (*DhwZone, bool) {
	d, ok := g.dhwZones[ctl]
	return d, ok
}

// UfhController looks up an underfloor-heating controller by its device id.
func (g *Gateway) UfhController(id ID) (*UfhController, bool) {
	u, ok := g.ufhControllers[id]
	return u, ok
}

// UfhCircuit looks up a single circuit by (controller, idx).
func (g *Gateway) UfhCircuit(key UfhCircuitKey) (*UfhCircuit, bool) {
	u, ok := g.ufhCircuits[key]
	return u, ok
}

// Scheduler exposes the discovery scheduler for registration by callers
// wiring up an entity's periodic commands.
func (g *Gateway) Scheduler() *Scheduler { return g.scheduler }

// Tick drives one pass of the discovery scheduler and every active
// binding context's timers (§4.5, §4.4). Callers run this periodically,
// e.g. every second, from outside the dispatch loop; all resulting
// entity mutation still happens synchronously within this call.
func (g *Gateway) Tick(ctx context.Context, now time.Time) {
	if !g.Config.DisableDiscovery {
		for _, r := range g.scheduler.Due(now) {
			reply, err := g.AsyncSendCmd(ctx, r.Cmd, r.ResponseHeader, 0, r.Timeout, true)
			if err != nil || reply == nil {
				r.RecordTimeout(now)
				continue
			}
			r.NoteReply(now)
		}
	}
	for _, dev := range g.devices {
		if dev.Binding != nil && (dev.Binding.IsBinding() || dev.Binding.State == BindBoundAccepted) {
			g.applyBindAction(dev.Binding.Tick(now))
		}
	}
}

// InitiateBinding starts a Supplicant handshake from dev (§4.4, §4.6).
func (g *Gateway) InitiateBinding(dev ID, phrases []BindingPhrase, scheme VendorScheme) error {
	d, _ := g.getOrCreateDevice(dev)
	if d.Binding == nil {
		d.Binding = NewBindContext(dev)
	}
	action, err := d.Binding.InitiateBinding(phrases, scheme, time.Now())
	if err != nil {
		return err
	}
	g.applyBindAction(action)
	return nil
}

// ListenForBinding starts a Respondent handshake on dev (§4.4, §4.6).
func (g *Gateway) ListenForBinding(dev ID) error {
	d, _ := g.getOrCreateDevice(dev)
	if d.Binding == nil {
		d.Binding = NewBindContext(dev)
	}
	return d.Binding.Listen(time.Now())
}
