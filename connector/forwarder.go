package connector

import (
	"context"
	"time"

	"ilpconnector/btp"
	"ilpconnector/ilppacket"
)

// nodeForwarder adapts the Node's live peer connections to the
// handler.Forwarder capability the packet handler needs, without giving
// the handler a back-pointer into the rest of the Node.
type nodeForwarder struct {
	node *Node
}

func (f *nodeForwarder) ForwardPrepare(ctx context.Context, peerID string, p ilppacket.Prepare, deadline time.Time) (ilppacket.Packet, error) {
	conn := f.node.connFor(peerID)
	if conn == nil {
		return nil, btp.ErrConnectionLost
	}

	data, err := ilppacket.Encode(p)
	if err != nil {
		return nil, err
	}

	resp, err := conn.SendRequest([]btp.SubProtocolData{
		{ProtocolName: btp.SubProtocolILP, Payload: data},
	}, deadline)
	if err != nil {
		return nil, err
	}

	payload, ok := resp.ILPPayload()
	if !ok {
		return nil, btp.ErrFrameMalformed
	}
	return ilppacket.Decode(payload)
}
