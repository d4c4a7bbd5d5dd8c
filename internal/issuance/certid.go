package issuance

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const idSuffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generator produces candidate certificate identifiers of the form
// CERT-<base36 millis>-<random suffix>. Identifiers are probably unique; the
// ledger's duplicate rejection is the real guarantee, and the coordinator
// retries with a fresh identifier on collision.
type Generator struct {
	now func() time.Time
}

func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Next returns a fresh candidate identifier.
func (g *Generator) Next() (string, error) {
	millis := g.now().UnixMilli()
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("could not generate identifier suffix: %w", err)
	}
	for i, b := range suffix {
		suffix[i] = idSuffixAlphabet[int(b)%len(idSuffixAlphabet)]
	}
	return "CERT-" + strings.ToUpper(strconv.FormatInt(millis, 36)) + "-" + string(suffix), nil
}
