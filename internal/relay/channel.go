package relay

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/R-uan/rc/internal/metrics"
	"github.com/R-uan/rc/internal/pool"
	"github.com/R-uan/rc/internal/protocol"
)

// Role model: a channel keeps a single ordered roster of (client id, role)
// entries with at most one emperor. A client appears at most once, so the
// emperor can never also be listed as moderator or member. Insertion order
// within a role is seniority; succession picks the first moderator entry.
type Role uint8

const (
	RoleEmperor Role = iota
	RoleModerator
	RoleMember
)

// Compile-time capacity constants. The emperor counts toward MaxMembers.
const (
	MaxMembers    = 50
	MaxModerators = 5
)

// Channel name length bounds enforced on rename.
const (
	MinNameLen = 6
	MaxNameLen = 24
)

// Status is the outcome of a channel operation, mapped by the dispatcher to
// a response id: OK echoes the request id, Full answers -3, Invalid -2, and
// the rest -1.
type Status int

const (
	StatusOK Status = iota
	StatusForbidden
	StatusFull
	StatusNotFound
	StatusNotInvited
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusForbidden:
		return "forbidden"
	case StatusFull:
		return "full"
	case StatusNotFound:
		return "not found"
	case StatusNotInvited:
		return "not invited"
	default:
		return "invalid"
	}
}

type rosterEntry struct {
	id   uint32
	role Role
}

// Channel is one room. All role and invitation state lives behind mu.
// Mutating command operations return their broadcast payload instead of
// queuing it themselves: the dispatcher writes the requester's direct reply
// first and then publishes, so the reply always reaches the requester before
// any fan-out its request produced. The broadcast queue is a FIFO drained by
// a single-flight task on the shared pool, which gives per-channel ordering
// without a dedicated goroutine per channel.
type Channel struct {
	ID uint32

	mu      sync.Mutex
	name    string
	secret  bool
	roster  []rosterEntry
	invites []uint32 // pending invitations by client id; duplicates allowed, one consumed per join
	pinned  string

	packetID atomic.Int32

	queueMu  sync.Mutex
	queue    [][]byte
	draining bool

	clients *ClientRegistry
	pool    *pool.Pool
	log     *zap.Logger
	metrics *metrics.Registry
}

func NewChannel(id uint32, creator *Client, clients *ClientRegistry, workers *pool.Pool, log *zap.Logger, reg *metrics.Registry) *Channel {
	ch := &Channel{
		ID:      id,
		name:    fmt.Sprintf("#channel%d", id),
		roster:  []rosterEntry{{id: creator.ID, role: RoleEmperor}},
		clients: clients,
		pool:    workers,
		log:     log,
		metrics: reg,
	}
	return ch
}

// Info builds the CH_CONNECT response payload: id | secret flag | name.
func (ch *Channel) Info() []byte {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return protocol.ChannelInfo(ch.ID, ch.secret, ch.name)
}

func (ch *Channel) Name() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.name
}

func (ch *Channel) Secret() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.secret
}

func (ch *Channel) Pinned() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pinned
}

// Members returns the roster ids in insertion order.
func (ch *Channel) Members() []uint32 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]uint32, len(ch.roster))
	for i, e := range ch.roster {
		out[i] = e.id
	}
	return out
}

// Emperor returns the current emperor id, or false when the channel is
// already gutted by a destroy.
func (ch *Channel) Emperor() (uint32, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, e := range ch.roster {
		if e.role == RoleEmperor {
			return e.id, true
		}
	}
	return 0, false
}

// Moderators returns moderator ids, oldest first.
func (ch *Channel) Moderators() []uint32 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	var out []uint32
	for _, e := range ch.roster {
		if e.role == RoleModerator {
			out = append(out, e.id)
		}
	}
	return out
}

func (ch *Channel) indexOf(id uint32) int {
	for i, e := range ch.roster {
		if e.id == id {
			return i
		}
	}
	return -1
}

func (ch *Channel) isAuthorityLocked(id uint32) bool {
	i := ch.indexOf(id)
	return i >= 0 && ch.roster[i].role != RoleMember
}

// IsAuthority reports whether the actor is the emperor or a moderator,
// evaluated against the roster as it stands right now.
func (ch *Channel) IsAuthority(actor *Client) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.isAuthorityLocked(actor.ID)
}

func (ch *Channel) hasInviteLocked(id uint32) bool {
	for _, inv := range ch.invites {
		if inv == id {
			return true
		}
	}
	return false
}

func (ch *Channel) consumeInviteLocked(id uint32) {
	for i, inv := range ch.invites {
		if inv == id {
			ch.invites = append(ch.invites[:i], ch.invites[i+1:]...)
			return
		}
	}
}

// purgeInvitesLocked drops every pending invitation for id. Invitations do
// not outlive membership; they would otherwise linger for clients that leave
// or disconnect and never return.
func (ch *Channel) purgeInvitesLocked(id uint32) {
	kept := ch.invites[:0]
	for _, inv := range ch.invites {
		if inv != id {
			kept = append(kept, inv)
		}
	}
	ch.invites = kept
}

// Enter admits the actor as a plain member. For secret channels a pending
// invitation is required and one entry is consumed on success.
func (ch *Channel) Enter(actor *Client) Status {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.indexOf(actor.ID) >= 0 {
		return StatusOK
	}
	if ch.secret && !ch.hasInviteLocked(actor.ID) {
		return StatusNotInvited
	}
	if len(ch.roster) >= MaxMembers {
		return StatusFull
	}
	ch.consumeInviteLocked(actor.ID)
	ch.roster = append(ch.roster, rosterEntry{id: actor.ID, role: RoleMember})
	return StatusOK
}

// removeLocked drops the entry at index i and, when the departing entry was
// the emperor, promotes the oldest moderator. It returns the promoted id (if
// any) and whether the channel is left without an emperor and must die.
func (ch *Channel) removeLocked(i int) (promoted uint32, hasPromoted, destroyed bool) {
	wasEmperor := ch.roster[i].role == RoleEmperor
	ch.purgeInvitesLocked(ch.roster[i].id)
	ch.roster = append(ch.roster[:i], ch.roster[i+1:]...)
	if !wasEmperor {
		return 0, false, false
	}
	for j := range ch.roster {
		if ch.roster[j].role == RoleModerator {
			ch.roster[j].role = RoleEmperor
			return ch.roster[j].id, true, false
		}
	}
	return 0, false, true
}

// Leave removes the actor. When the emperor leaves, the oldest moderator
// succeeds and the promotion is broadcast; with no moderator left the channel
// reports destroyed and the caller unlinks it from the registry (which
// notifies survivors). The actor's joined set is updated in all cases.
func (ch *Channel) Leave(actor *Client) (destroyed bool) {
	ch.mu.Lock()
	i := ch.indexOf(actor.ID)
	if i < 0 {
		ch.mu.Unlock()
		actor.Leave(ch.ID)
		return false
	}
	promoted, hasPromoted, dead := ch.removeLocked(i)
	ch.mu.Unlock()

	actor.Leave(ch.ID)
	if hasPromoted {
		ch.log.Info("emperor succession",
			zap.Uint32("channel", ch.ID), zap.Uint32("new_emperor", promoted))
		ch.BroadcastCommand(protocol.CommandID(protocol.CmdPromoteEmperor, promoted))
	}
	return dead
}

// Kick removes target on behalf of actor. Moderators may kick plain members;
// only the emperor may kick an authority. A successful kick behaves like the
// target leaving (including succession when the emperor kicks itself).
// Returns the broadcast payloads (KICK, plus PROMOTE_EMPEROR on succession)
// for the caller to publish after its direct reply.
func (ch *Channel) Kick(actor *Client, targetID uint32) (Status, [][]byte, bool) {
	ch.mu.Lock()
	if !ch.isAuthorityLocked(actor.ID) {
		ch.mu.Unlock()
		return StatusForbidden, nil, false
	}
	i := ch.indexOf(targetID)
	if i < 0 {
		ch.mu.Unlock()
		return StatusNotFound, nil, false
	}
	actorIdx := ch.indexOf(actor.ID)
	if ch.roster[i].role != RoleMember && ch.roster[actorIdx].role != RoleEmperor {
		ch.mu.Unlock()
		return StatusForbidden, nil, false
	}
	promoted, hasPromoted, dead := ch.removeLocked(i)
	ch.mu.Unlock()

	if target := ch.clients.Find(targetID); target != nil {
		target.Leave(ch.ID)
	}
	ch.log.Info("member kicked",
		zap.Uint32("channel", ch.ID), zap.Uint32("target", targetID), zap.Uint32("actor", actor.ID))
	broadcasts := [][]byte{protocol.CommandID(protocol.CmdKick, targetID)}
	if hasPromoted {
		broadcasts = append(broadcasts, protocol.CommandID(protocol.CmdPromoteEmperor, promoted))
	}
	return StatusOK, broadcasts, dead
}

// Invite registers a pending invitation for target. On secret channels only
// an authority may invite. Duplicate invitations are allowed; each entry is
// consumed by one successful join. The target is notified directly.
func (ch *Channel) Invite(actor *Client, targetID uint32) Status {
	target := ch.clients.Find(targetID)
	if target == nil {
		return StatusNotFound
	}

	ch.mu.Lock()
	if ch.secret && !ch.isAuthorityLocked(actor.ID) {
		ch.mu.Unlock()
		return StatusForbidden
	}
	ch.invites = append(ch.invites, targetID)
	ch.mu.Unlock()

	notice := protocol.Encode(ch.nextPacketID(), protocol.ChCommand,
		protocol.CommandID(protocol.CmdInvite, ch.ID))
	ch.pool.Submit(func() { target.Send(notice) })
	return StatusOK
}

// PromoteMember turns a plain member into the newest moderator. Emperor only;
// fails when the moderator slots are taken. Returns the PROMOTE_MOD payload.
func (ch *Channel) PromoteMember(actor *Client, targetID uint32) (Status, []byte) {
	ch.mu.Lock()
	actorIdx := ch.indexOf(actor.ID)
	if actorIdx < 0 || ch.roster[actorIdx].role != RoleEmperor {
		ch.mu.Unlock()
		return StatusForbidden, nil
	}
	mods := 0
	for _, e := range ch.roster {
		if e.role == RoleModerator {
			mods++
		}
	}
	if mods >= MaxModerators {
		ch.mu.Unlock()
		return StatusFull, nil
	}
	i := ch.indexOf(targetID)
	if i < 0 || ch.roster[i].role != RoleMember {
		ch.mu.Unlock()
		return StatusNotFound, nil
	}
	// Re-append so moderator seniority reflects promotion order.
	ch.roster = append(ch.roster[:i], ch.roster[i+1:]...)
	ch.roster = append(ch.roster, rosterEntry{id: targetID, role: RoleModerator})
	ch.mu.Unlock()

	return StatusOK, protocol.CommandID(protocol.CmdPromoteMod, targetID)
}

// PromoteModerator swaps roles: target moderator becomes emperor and the
// previous emperor re-enters the moderator order at the end. Emperor only.
// Returns the PROMOTE_EMPEROR payload.
func (ch *Channel) PromoteModerator(actor *Client, targetID uint32) (Status, []byte) {
	ch.mu.Lock()
	actorIdx := ch.indexOf(actor.ID)
	if actorIdx < 0 || ch.roster[actorIdx].role != RoleEmperor {
		ch.mu.Unlock()
		return StatusForbidden, nil
	}
	i := ch.indexOf(targetID)
	if i < 0 || ch.roster[i].role != RoleModerator {
		ch.mu.Unlock()
		return StatusNotFound, nil
	}
	ch.roster[i].role = RoleEmperor
	ch.roster = append(ch.roster[:actorIdx], ch.roster[actorIdx+1:]...)
	ch.roster = append(ch.roster, rosterEntry{id: actor.ID, role: RoleModerator})
	ch.mu.Unlock()

	return StatusOK, protocol.CommandID(protocol.CmdPromoteEmperor, targetID)
}

// ChangePrivacy toggles the secret flag. Emperor only. Returns the PRIVACY
// payload carrying the new state.
func (ch *Channel) ChangePrivacy(actor *Client) (Status, []byte) {
	ch.mu.Lock()
	actorIdx := ch.indexOf(actor.ID)
	if actorIdx < 0 || ch.roster[actorIdx].role != RoleEmperor {
		ch.mu.Unlock()
		return StatusForbidden, nil
	}
	ch.secret = !ch.secret
	state := "0"
	if ch.secret {
		state = "1"
	}
	ch.mu.Unlock()

	return StatusOK, protocol.CommandText(protocol.CmdPrivacy, state)
}

// PinMessage replaces the pinned message. Authority only. Returns the PIN
// payload.
func (ch *Channel) PinMessage(actor *Client, text string) (Status, []byte) {
	ch.mu.Lock()
	if !ch.isAuthorityLocked(actor.ID) {
		ch.mu.Unlock()
		return StatusForbidden, nil
	}
	ch.pinned = text
	ch.mu.Unlock()

	return StatusOK, protocol.CommandText(protocol.CmdPin, text)
}

// Rename changes the display name, bounds-checked. Emperor only. Returns the
// RENAME payload.
func (ch *Channel) Rename(actor *Client, newName string) (Status, []byte) {
	if len(newName) < MinNameLen || len(newName) > MaxNameLen {
		return StatusInvalid, nil
	}
	ch.mu.Lock()
	actorIdx := ch.indexOf(actor.ID)
	if actorIdx < 0 || ch.roster[actorIdx].role != RoleEmperor {
		ch.mu.Unlock()
		return StatusForbidden, nil
	}
	ch.name = newName
	ch.mu.Unlock()

	return StatusOK, protocol.CommandText(protocol.CmdRename, newName)
}

// SendMessage validates that actor is on the roster and returns the chat
// fan-out payload. The dispatcher acks the sender and then publishes it with
// BroadcastMessage; a non-member is answered not-found.
func (ch *Channel) SendMessage(actor *Client, text []byte) (Status, []byte) {
	ch.mu.Lock()
	if ch.indexOf(actor.ID) < 0 {
		ch.mu.Unlock()
		return StatusNotFound, nil
	}
	ch.mu.Unlock()

	return StatusOK, protocol.ChatBroadcast(ch.ID, actor.ID, text)
}

// Destroy guts the roster, purges the channel from every survivor's joined
// set, and notifies them with a CH_DESTROY frame. Called by the registry
// after the channel is unlinked; no channel lock is held across the sends.
func (ch *Channel) Destroy(reason string) {
	ch.mu.Lock()
	survivors := make([]uint32, len(ch.roster))
	for i, e := range ch.roster {
		survivors[i] = e.id
	}
	ch.roster = nil
	ch.invites = nil
	ch.mu.Unlock()

	notice := protocol.Encode(ch.nextPacketID(), protocol.ChDestroy,
		protocol.DestroyNotice(ch.ID, reason))
	for _, id := range survivors {
		member := ch.clients.Find(id)
		if member == nil {
			continue
		}
		member.Leave(ch.ID)
		if member.Connected() {
			ch.pool.Submit(func() { member.Send(notice) })
		}
	}
	ch.log.Info("channel destroyed",
		zap.Uint32("channel", ch.ID), zap.String("reason", reason), zap.Int("survivors", len(survivors)))
}

func (ch *Channel) nextPacketID() int32 {
	return ch.packetID.Add(1)
}

// BroadcastCommand queues a CH_COMMAND notification for every member.
func (ch *Channel) BroadcastCommand(payload []byte) {
	ch.enqueue(protocol.Encode(ch.nextPacketID(), protocol.ChCommand, payload))
}

// BroadcastMessage queues a CH_MESSAGE fan-out frame for every member.
func (ch *Channel) BroadcastMessage(payload []byte) {
	ch.enqueue(protocol.Encode(ch.nextPacketID(), protocol.ChMessage, payload))
}

// enqueue pushes a frame onto the broadcast FIFO and, when the queue was
// idle, submits one drain task to the shared pool. At most one drain runs
// per channel, so members observe this channel's broadcasts in queue order.
func (ch *Channel) enqueue(frame []byte) {
	ch.queueMu.Lock()
	ch.queue = append(ch.queue, frame)
	start := !ch.draining
	if start {
		ch.draining = true
	}
	ch.queueMu.Unlock()

	ch.metrics.BroadcastsEnqueued.Inc()
	if start {
		ch.pool.Submit(ch.drain)
	}
}

func (ch *Channel) drain() {
	for {
		ch.queueMu.Lock()
		if len(ch.queue) == 0 {
			ch.draining = false
			ch.queueMu.Unlock()
			return
		}
		batch := ch.queue
		ch.queue = nil
		ch.queueMu.Unlock()

		for _, frame := range batch {
			// Snapshot under the channel lock; members joining after
			// this point do not receive the frame.
			for _, member := range ch.memberSnapshot() {
				if member.Send(frame) {
					ch.metrics.BroadcastsDelivered.Inc()
				} else {
					ch.metrics.BroadcastsDropped.Inc()
				}
			}
		}
	}
}

func (ch *Channel) memberSnapshot() []*Client {
	ch.mu.Lock()
	ids := make([]uint32, len(ch.roster))
	for i, e := range ch.roster {
		ids[i] = e.id
	}
	ch.mu.Unlock()

	members := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c := ch.clients.Find(id); c != nil {
			members = append(members, c)
		}
	}
	return members
}
