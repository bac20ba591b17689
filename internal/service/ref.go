package service

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const refAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newTransactionRef returns TXN-<unix ms base36>-<6 random base36>, upper case.
// Uniqueness is enforced by the store, not here.
func newTransactionRef() string {
	ts := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = refAlphabet[rand.Intn(len(refAlphabet))]
	}
	return "TXN-" + ts + "-" + string(suffix)
}

func newTransactionID() string {
	return uuid.Must(uuid.NewV7()).String()
}
