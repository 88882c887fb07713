package relay

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/R-uan/rc/internal/metrics"
	"github.com/R-uan/rc/internal/protocol"
)

// errQuit marks an orderly SVR_DISCONNECT; it still takes the fatal path but
// is logged at a friendlier level.
var errQuit = errors.New("relay: client requested disconnect")

// Dispatcher routes one decoded frame to the session or channel layer and
// writes the response. One readiness event maps to one HandleReadable call;
// one-shot arming guarantees at most one call per client is in flight.
type Dispatcher struct {
	clients  *ClientRegistry
	channels *ChannelRegistry
	log      *zap.Logger
	metrics  *metrics.Registry
}

func NewDispatcher(clients *ClientRegistry, channels *ChannelRegistry, log *zap.Logger, reg *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		clients:  clients,
		channels: channels,
		log:      log,
		metrics:  reg,
	}
}

// HandleReadable consumes exactly one frame from the client socket. A nil
// return means the handler finished and the caller should rearm readiness;
// a non-nil return is fatal and the caller must run the disconnect path.
func (d *Dispatcher) HandleReadable(c *Client) error {
	if c.Broken() {
		return fmt.Errorf("relay: socket previously failed on write")
	}

	req, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	d.metrics.FramesRead.Inc()

	if !c.Connected() {
		return d.handleConnect(c, req)
	}

	switch req.Type {
	case protocol.SvrDisconnect:
		return errQuit
	case protocol.ChConnect:
		d.handleJoin(c, req)
	case protocol.ChDisconnect:
		d.handleLeave(c, req)
	case protocol.ChMessage:
		d.handleChat(c, req)
	case protocol.ChCommand:
		d.handleCommand(c, req)
	default:
		// Unexpected type for the connected state.
		d.reject(c, protocol.IDProtocolError, req.Type, nil)
	}
	return nil
}

// handleConnect applies the Unconnected-state rules: only SVR_CONNECT is
// accepted, and only while the registry is under capacity.
func (d *Dispatcher) handleConnect(c *Client, req protocol.Frame) error {
	if req.Type != protocol.SvrConnect {
		d.reject(c, protocol.IDProtocolError, protocol.SvrConnect, nil)
		return nil
	}
	if d.clients.AtCapacity() {
		d.reject(c, protocol.IDCapacity, protocol.SvrConnect, []byte("server is full"))
		return ErrServerFull
	}

	name := fmt.Sprintf("%s@%d", req.Payload, c.ID)
	c.Connect(name)
	d.reply(c, req.ID, protocol.SvrConnect, []byte(name))
	d.log.Info("client connected", zap.Uint32("client", c.ID), zap.String("name", name))
	return nil
}

func (d *Dispatcher) handleJoin(c *Client, req protocol.Frame) {
	create, chID, err := protocol.JoinRequest(req.Payload)
	if err != nil {
		d.reject(c, protocol.IDInvalidField, protocol.ChConnect, nil)
		return
	}

	ch := d.channels.Find(chID)
	if ch == nil {
		if !create {
			d.reject(c, protocol.IDProtocolError, protocol.ChConnect, []byte("does not exist"))
			return
		}
		info, err := d.channels.Create(chID, c)
		if err != nil {
			d.reject(c, protocol.IDCapacity, protocol.ChConnect, []byte("too many channels"))
			return
		}
		d.reply(c, req.ID, protocol.ChConnect, info)
		return
	}

	switch ch.Enter(c) {
	case StatusOK:
		c.Join(chID)
		d.reply(c, req.ID, protocol.ChConnect, ch.Info())
	case StatusNotInvited:
		d.reject(c, protocol.IDProtocolError, protocol.ChConnect, []byte("channel is private"))
	case StatusFull:
		d.reject(c, protocol.IDCapacity, protocol.ChConnect, []byte("channel is full"))
	}
}

func (d *Dispatcher) handleLeave(c *Client, req protocol.Frame) {
	chID, err := protocol.ChannelID(req.Payload)
	if err != nil {
		d.reject(c, protocol.IDInvalidField, protocol.ChDisconnect, nil)
		return
	}
	ch := d.channels.Find(chID)
	if ch == nil {
		d.reject(c, protocol.IDProtocolError, protocol.ChDisconnect, nil)
		return
	}
	if destroyed := ch.Leave(c); destroyed {
		d.channels.Drop(chID, "emperor left")
	}
	d.reply(c, req.ID, protocol.ChDisconnect, nil)
}

func (d *Dispatcher) handleChat(c *Client, req protocol.Frame) {
	chID, text, err := protocol.ChatRequest(req.Payload)
	if err != nil {
		d.reject(c, protocol.IDInvalidField, protocol.ChMessage, nil)
		return
	}
	ch := d.channels.Find(chID)
	if ch == nil || !c.IsMember(chID) {
		d.reject(c, protocol.IDProtocolError, protocol.ChMessage, nil)
		return
	}
	status, broadcast := ch.SendMessage(c, text)
	if status != StatusOK {
		// Roster and joined set can disagree during a racing kick; never
		// ack a message that was not queued.
		d.reject(c, protocol.IDProtocolError, protocol.ChMessage, nil)
		return
	}
	// Ack first: the sender sees its reply before the queued broadcast.
	d.reply(c, req.ID, protocol.ChMessage, nil)
	ch.BroadcastMessage(broadcast)
}

func (d *Dispatcher) handleCommand(c *Client, req protocol.Frame) {
	cmd, chID, arg, err := protocol.CommandRequest(req.Payload)
	if err != nil {
		d.reject(c, protocol.IDInvalidField, protocol.ChCommand, nil)
		return
	}
	ch := d.channels.Find(chID)
	if ch == nil || !c.IsMember(chID) {
		d.reject(c, protocol.IDProtocolError, protocol.ChCommand, nil)
		return
	}

	var (
		status     Status
		broadcast  []byte
		broadcasts [][]byte
		destroyed  bool
	)
	switch cmd {
	case protocol.CmdRename:
		status, broadcast = ch.Rename(c, string(arg))
	case protocol.CmdPin:
		status, broadcast = ch.PinMessage(c, string(arg))
	case protocol.CmdPrivacy:
		status, broadcast = ch.ChangePrivacy(c)
	case protocol.CmdPromoteEmperor, protocol.CmdPromoteMod, protocol.CmdKick, protocol.CmdInvite:
		target, err := protocol.TargetID(arg)
		if err != nil {
			status = StatusInvalid
			break
		}
		switch cmd {
		case protocol.CmdPromoteEmperor:
			status, broadcast = ch.PromoteModerator(c, target)
		case protocol.CmdPromoteMod:
			status, broadcast = ch.PromoteMember(c, target)
		case protocol.CmdKick:
			status, broadcasts, destroyed = ch.Kick(c, target)
		case protocol.CmdInvite:
			status = ch.Invite(c, target)
		}
	default:
		status = StatusInvalid
	}
	if broadcast != nil {
		broadcasts = append(broadcasts, broadcast)
	}

	switch status {
	case StatusOK:
		d.reply(c, req.ID, protocol.ChCommand, nil)
	case StatusFull:
		d.reject(c, protocol.IDCapacity, protocol.ChCommand, nil)
	case StatusInvalid:
		d.reject(c, protocol.IDInvalidField, protocol.ChCommand, nil)
	default:
		d.reject(c, protocol.IDProtocolError, protocol.ChCommand, nil)
	}

	// The requester's reply is on the wire; now publish what the command
	// produced.
	for _, p := range broadcasts {
		ch.BroadcastCommand(p)
	}
	if destroyed {
		d.channels.Drop(chID, "emperor left")
	}
}

// Disconnect runs the transitive removal path: purge the client from every
// joined channel (dropping channels orphaned by the departure), unregister
// it, and close the socket. Idempotent; a second invocation is a no-op. No
// channel lock is held when a registry drop runs.
func (d *Dispatcher) Disconnect(c *Client) {
	if !c.BeginClose() {
		return
	}
	for _, chID := range c.Channels() {
		ch := d.channels.Find(chID)
		if ch == nil {
			c.Leave(chID)
			continue
		}
		if destroyed := ch.Leave(c); destroyed {
			d.channels.Drop(chID, "emperor left")
		}
	}
	d.clients.Remove(c.ID)
	c.Close()
	d.metrics.Disconnects.Inc()
	d.metrics.ConnectionsActive.Set(float64(d.clients.Len()))
	d.log.Info("client disconnected", zap.Uint32("client", c.ID), zap.String("name", c.Name()))
}

func (d *Dispatcher) reply(c *Client, id int32, typ protocol.FrameType, payload []byte) {
	if c.Send(protocol.Encode(id, typ, payload)) {
		d.metrics.FramesWritten.Inc()
	}
}

func (d *Dispatcher) reject(c *Client, id int32, typ protocol.FrameType, payload []byte) {
	d.metrics.ProtocolErrors.Inc()
	d.reply(c, id, typ, payload)
}

// IsQuit reports whether a fatal error was an orderly client disconnect.
func IsQuit(err error) bool {
	return errors.Is(err, errQuit)
}
