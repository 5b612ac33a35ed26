package server

import (
	"context"
	"time"

	"fault-rpc/invoker"
	"fault-rpc/partner"
)

// PartnerInfo is one row of listPartners.
type PartnerInfo struct {
	ID          string    `json:"id"`
	Mode        string    `json:"mode"`
	Connected   bool      `json:"connected"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
	Connects    int       `json:"connects"`
	LastConnect time.Time `json:"lastConnect"`
}

var modeType = invoker.Enum("ServiceMode",
	partner.Reliable.String(),
	partner.DisconnectBeforeProcessing.String(),
	partner.DisconnectBeforeReply.String(),
	partner.Random.String(),
)

// AdminMethods returns remotely callable methods that control reg:
//
//	setServiceMode(partnerID string, mode ServiceMode) void
//	listPartners() []PartnerInfo
//
// Register them next to a target's own methods to let a test harness flip
// fault-injection modes over the wire.
func AdminMethods(reg *partner.Registry) []invoker.Method {
	return []invoker.Method{
		{
			Name:   "setServiceMode",
			Params: []invoker.Type{invoker.String, modeType},
			Result: invoker.Void,
			Call: func(ctx context.Context, args invoker.Args) (any, error) {
				mode, err := partner.ParseServiceMode(args.String(1))
				if err != nil {
					return nil, err
				}
				return nil, reg.SetMode(args.String(0), mode)
			},
		},
		{
			Name:   "listPartners",
			Result: invoker.Structured[[]PartnerInfo]("[]PartnerInfo"),
			Call: func(ctx context.Context, args invoker.Args) (any, error) {
				entries := reg.Snapshot()
				out := make([]PartnerInfo, len(entries))
				for i, e := range entries {
					out[i] = PartnerInfo{
						ID:          e.ID,
						Mode:        e.Mode.String(),
						Connected:   e.Connected,
						RemoteAddr:  e.RemoteAddr,
						Connects:    e.Connects,
						LastConnect: e.LastConnect,
					}
				}
				return out, nil
			},
		},
	}
}
