package video

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/robothub/transport-server/internal/v1/logging"
	"github.com/robothub/transport-server/internal/v1/metrics"
	"github.com/robothub/transport-server/internal/v1/types"
)

// ErrBadSignal rejects a signaling payload whose kind or targeting fields do
// not line up with the sender's role.
var ErrBadSignal = errors.New("video: malformed signaling message")

// RelaySignal address-forwards one offer, answer, or ICE candidate to the
// named counterpart. SDP bodies and candidates pass through verbatim. A
// missing target is dropped silently: negotiation is concurrent on both
// sides, so a peer disconnecting mid-handshake is routine, not an error.
func (c *Core) RelaySignal(ctx context.Context, workspaceID types.WorkspaceIDType, roomID types.RoomIDType, clientID types.ParticipantIDType, msg SignalMessage) error {
	room := c.getRoom(workspaceID, roomID)
	if room == nil {
		return ErrRoomNotFound
	}

	role, member := room.memberRole(clientID)
	if !member {
		metrics.SignalsRelayed.WithLabelValues(msg.Type, "rejected").Inc()
		return ErrNotMember
	}

	switch msg.Type {
	case SignalOffer:
		if role != types.RoleProducer || msg.TargetConsumer == "" {
			metrics.SignalsRelayed.WithLabelValues(SignalOffer, "rejected").Inc()
			return ErrBadSignal
		}
		c.relayTo(ctx, room, types.ParticipantIDType(msg.TargetConsumer), SignalOffer, OfferMessage{
			Type:         MessageWebRTCOffer,
			Offer:        SessionDescription{Type: "offer", SDP: msg.SDP},
			FromProducer: string(clientID),
			Timestamp:    types.Timestamp(),
		})
		return nil

	case SignalAnswer:
		if role != types.RoleConsumer || msg.TargetProducer == "" {
			metrics.SignalsRelayed.WithLabelValues(SignalAnswer, "rejected").Inc()
			return ErrBadSignal
		}
		c.relayTo(ctx, room, types.ParticipantIDType(msg.TargetProducer), SignalAnswer, AnswerMessage{
			Type:         MessageWebRTCAnswer,
			Answer:       SessionDescription{Type: "answer", SDP: msg.SDP},
			FromConsumer: string(clientID),
			Timestamp:    types.Timestamp(),
		})
		return nil

	case SignalIce:
		out := IceMessage{
			Type:      MessageWebRTCIce,
			Candidate: msg.Candidate,
			Timestamp: types.Timestamp(),
		}
		switch {
		case role == types.RoleProducer && msg.TargetConsumer != "":
			out.FromProducer = string(clientID)
			c.relayTo(ctx, room, types.ParticipantIDType(msg.TargetConsumer), SignalIce, out)
		case role == types.RoleConsumer && msg.TargetProducer != "":
			out.FromConsumer = string(clientID)
			c.relayTo(ctx, room, types.ParticipantIDType(msg.TargetProducer), SignalIce, out)
		default:
			metrics.SignalsRelayed.WithLabelValues(SignalIce, "rejected").Inc()
			return ErrBadSignal
		}
		return nil

	default:
		metrics.SignalsRelayed.WithLabelValues(msg.Type, "rejected").Inc()
		return ErrBadSignal
	}
}

// relayTo forwards a signaling record to the target if it is both a room
// member and live in the connection table. Absent targets drop silently.
func (c *Core) relayTo(ctx context.Context, room *Room, target types.ParticipantIDType, kind string, out any) {
	if _, member := room.memberRole(target); !member {
		metrics.SignalsRelayed.WithLabelValues(kind, "dropped").Inc()
		logging.Info(ctx, "Dropping signal for absent target",
			zap.String("kind", kind), zap.String("target", string(target)))
		return
	}
	if !c.table.Contains(target) {
		metrics.SignalsRelayed.WithLabelValues(kind, "dropped").Inc()
		logging.Info(ctx, "Dropping signal for disconnected target",
			zap.String("kind", kind), zap.String("target", string(target)))
		return
	}

	c.sendToParticipant(ctx, target, out)
	metrics.SignalsRelayed.WithLabelValues(kind, "forwarded").Inc()
	logging.Info(ctx, "Relayed signal",
		zap.String("kind", kind), zap.String("target", string(target)))
}
