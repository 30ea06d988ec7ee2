package runlog

import (
	"context"
	"time"

	"beltline/internal/bridge"
)

// recordedTransport mirrors every call into the recorder before
// returning it. Transport failures record as not-OK with no code.
type recordedTransport struct {
	inner bridge.Transport
	rec   *Recorder
}

var _ bridge.Transport = (*recordedTransport)(nil)

// WrapTransport returns a transport that records each call's
// capability, outcome, and duration.
func WrapTransport(inner bridge.Transport, rec *Recorder) bridge.Transport {
	return &recordedTransport{inner: inner, rec: rec}
}

func (t *recordedTransport) Call(ctx context.Context, req bridge.Request) (bridge.Response, error) {
	start := time.Now()
	resp, err := t.inner.Call(ctx, req)

	entry := CapabilityEntry{
		Capability: req.Capability,
		OK:         err == nil && resp.OK,
		Code:       resp.ErrCode,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if recErr := t.rec.Capability(req.Actor, entry); recErr != nil {
		t.rec.logger.Warn("Run log write failed", "error", recErr)
	}
	return resp, err
}

func (t *recordedTransport) Close() error {
	return t.inner.Close()
}
