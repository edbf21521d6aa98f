package transform

import (
	"bytes"
	"errors"
	"testing"
)

func TestPassthroughIdentity(t *testing.T) {
	p := Passthrough{}
	cc := &Conn{}

	if err := p.OnConnectionOpen(cc); err != nil {
		t.Fatalf("OnConnectionOpen: %v", err)
	}
	if err := p.OnConnectionClose(cc, CloseInfo{}); err != nil {
		t.Fatalf("OnConnectionClose: %v", err)
	}

	in := []byte("payload")
	out, captured, err := p.TransformInbound(in, cc, false)
	if err != nil || captured {
		t.Fatalf("TransformInbound: captured=%v err=%v", captured, err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("inbound not identity: %q", out)
	}

	out, err = p.TransformOutbound(in, cc, WriteInfo{}, true)
	if err != nil {
		t.Fatalf("TransformOutbound: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("outbound not identity: %q", out)
	}
}

func TestFuncsDefaults(t *testing.T) {
	var f Funcs // all nil: full passthrough
	cc := &Conn{}

	if err := f.OnConnectionOpen(cc); err != nil {
		t.Fatalf("OnConnectionOpen default: %v", err)
	}
	if err := f.OnConnectionClose(cc, CloseInfo{Err: errors.New("x")}); err != nil {
		t.Fatalf("OnConnectionClose default: %v", err)
	}
	out, captured, err := f.TransformInbound([]byte("abc"), cc, true)
	if err != nil || captured || !bytes.Equal(out, []byte("abc")) {
		t.Fatalf("TransformInbound default: out=%q captured=%v err=%v", out, captured, err)
	}
	out, err = f.TransformOutbound([]byte("abc"), cc, WriteInfo{}, false)
	if err != nil || !bytes.Equal(out, []byte("abc")) {
		t.Fatalf("TransformOutbound default: out=%q err=%v", out, err)
	}
}

func TestFuncsOverrides(t *testing.T) {
	wantErr := errors.New("open failed")
	f := Funcs{
		OpenFunc: func(*Conn) error { return wantErr },
		OutboundFunc: func(data []byte, _ *Conn, _ WriteInfo, _ bool) ([]byte, error) {
			return append([]byte("enc:"), data...), nil
		},
		InboundFunc: func(data []byte, _ *Conn, partial bool) ([]byte, bool, error) {
			if partial {
				return nil, false, nil
			}
			return nil, true, nil // capture complete units
		},
	}

	if err := f.OnConnectionOpen(nil); !errors.Is(err, wantErr) {
		t.Fatalf("OpenFunc not invoked, err=%v", err)
	}
	out, err := f.TransformOutbound([]byte("body"), nil, WriteInfo{}, false)
	if err != nil || string(out) != "enc:body" {
		t.Fatalf("OutboundFunc: out=%q err=%v", out, err)
	}
	_, captured, err := f.TransformInbound([]byte("unit"), nil, false)
	if err != nil || !captured {
		t.Fatalf("InboundFunc: captured=%v err=%v", captured, err)
	}
	// CloseFunc left nil still defaults.
	if err := f.OnConnectionClose(nil, CloseInfo{}); err != nil {
		t.Fatalf("CloseFunc default: %v", err)
	}
}
