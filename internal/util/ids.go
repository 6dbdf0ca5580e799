package util

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

// NewUUID returns a random (version 4) uuid for drafts created on this device.
func NewUUID() string {
	return uuid.NewString()
}

// IsUUID reports whether s parses as a uuid.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// participantIDAlphabet omits characters that are easily confused when read aloud or
// copied by hand (0/O, 1/I/L).
const participantIDAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateParticipantID returns a human-friendly participant identifier such as
// "VX-7K3M-Q9TZ".
func GenerateParticipantID(prefix string) string {
	buf := make([]byte, 8)
	rand.Read(buf)
	var b strings.Builder
	b.WriteString(prefix)
	for i, c := range buf {
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(participantIDAlphabet[int(c)%len(participantIDAlphabet)])
	}
	return b.String()
}
