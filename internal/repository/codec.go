package repository

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pu-ac-cn/uac-ticket/internal/model"
)

// 编解码器名称
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// TicketCodec 票据编解码器，供远程注册表序列化票据
type TicketCodec interface {
	Name() string
	Encode(ticket model.Ticket) ([]byte, error)
	Decode(data []byte) (model.Ticket, error)
}

// ticketEnvelope 带类型标记的票据外壳
type ticketEnvelope struct {
	Kind                 string                      `json:"kind" cbor:"kind"`
	TicketGrantingTicket *model.TicketGrantingTicket `json:"tgt,omitempty" cbor:"tgt,omitempty"`
	ServiceTicket        *model.ServiceTicket        `json:"st,omitempty" cbor:"st,omitempty"`
}

func wrap(ticket model.Ticket) (*ticketEnvelope, error) {
	switch t := ticket.(type) {
	case *model.TicketGrantingTicket:
		return &ticketEnvelope{Kind: model.KindTicketGrantingTicket, TicketGrantingTicket: t}, nil
	case *model.ServiceTicket:
		return &ticketEnvelope{Kind: model.KindServiceTicket, ServiceTicket: t}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedTicket, ticket)
	}
}

func (e *ticketEnvelope) unwrap() (model.Ticket, error) {
	switch {
	case e.Kind == model.KindTicketGrantingTicket && e.TicketGrantingTicket != nil:
		return e.TicketGrantingTicket, nil
	case e.Kind == model.KindServiceTicket && e.ServiceTicket != nil:
		return e.ServiceTicket, nil
	default:
		return nil, fmt.Errorf("%w: 未知类型 %q", ErrTicketDecode, e.Kind)
	}
}

// NewTicketCodec 按名称创建编解码器，空名称使用 JSON
func NewTicketCodec(name string) (TicketCodec, error) {
	switch name {
	case "", CodecJSON:
		return jsonCodec{}, nil
	case CodecCBOR:
		return newCBORCodec()
	default:
		return nil, fmt.Errorf("不支持的票据编码: %s", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) Encode(ticket model.Ticket) ([]byte, error) {
	env, err := wrap(ticket)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (jsonCodec) Decode(data []byte) (model.Ticket, error) {
	var env ticketEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTicketDecode, err)
	}
	return env.unwrap()
}

// cborCodec 紧凑二进制编码，时间戳保留纳秒精度
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() (*cborCodec, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("创建 CBOR 编码器失败: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("创建 CBOR 解码器失败: %w", err)
	}
	return &cborCodec{enc: enc, dec: dec}, nil
}

func (c *cborCodec) Name() string { return CodecCBOR }

func (c *cborCodec) Encode(ticket model.Ticket) ([]byte, error) {
	env, err := wrap(ticket)
	if err != nil {
		return nil, err
	}
	return c.enc.Marshal(env)
}

func (c *cborCodec) Decode(data []byte) (model.Ticket, error) {
	var env ticketEnvelope
	if err := c.dec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTicketDecode, err)
	}
	return env.unwrap()
}
