package cache

import (
	"time"

	"github.com/agentuity/diskcache/timeutil"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const envelopeVersion = 1

// envelope is the on-disk wrapper for a file backend entry.
type envelope struct {
	Version  uint8  `msgpack:"v"`
	Payload  []byte `msgpack:"p"`
	Expires  int64  `msgpack:"e"` // timeutil ticks, 0 never expires
	Checksum uint64 `msgpack:"c"`
}

func encodeEnvelope(payload []byte, expires time.Time) ([]byte, error) {
	e := envelope{
		Version:  envelopeVersion,
		Payload:  payload,
		Checksum: xxhash.Sum64(payload),
	}
	if !expires.IsZero() {
		e.Expires = timeutil.Ticks(expires)
	}
	return msgpack.Marshal(&e)
}

func decodeEnvelope(data []byte) (envelope, error) {
	var e envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return envelope{}, errors.Mark(errors.Wrap(err, "cache: decode envelope"), ErrCorruptEntry)
	}
	if e.Version != envelopeVersion {
		return envelope{}, errors.Wrapf(ErrCorruptEntry, "unsupported envelope version %d", e.Version)
	}
	if xxhash.Sum64(e.Payload) != e.Checksum {
		return envelope{}, errors.Wrap(ErrCorruptEntry, "payload checksum mismatch")
	}
	if e.Payload == nil {
		e.Payload = []byte{}
	}
	return e, nil
}

// expiresAt returns the expiry in UTC, or the zero time when the entry never expires.
func (e envelope) expiresAt() time.Time {
	if e.Expires == 0 {
		return time.Time{}
	}
	return timeutil.FromTicks(e.Expires)
}

func (e envelope) expired(now time.Time) bool {
	return e.Expires != 0 && e.Expires <= timeutil.Ticks(now)
}
