package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingDelay equalizes the observable duration of login failures so
// "unknown email" and "wrong password" cannot be told apart by timing.
type TimingDelay struct {
	base   time.Duration
	jitter time.Duration
}

// NewTimingDelay creates a delay with the given floor and random jitter.
func NewTimingDelay(base, jitter time.Duration) *TimingDelay {
	return &TimingDelay{base: base, jitter: jitter}
}

// WaitFrom sleeps until at least base+random(jitter) has elapsed since
// start. Successful logins return immediately.
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if success {
		return
	}

	target := td.base
	if td.jitter > 0 {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err == nil {
			target += time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(td.jitter))
		}
	}

	if elapsed := time.Since(start); elapsed < target {
		time.Sleep(target - elapsed)
	}
}
