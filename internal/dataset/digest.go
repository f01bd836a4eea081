// internal/dataset/digest.go
package dataset

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/user/shadowshift/internal/types"
)

// Digest fingerprints the (id, state, action) content of rows in order.
// A model records the digest of the rows it was fitted on so a stale model
// can be detected at startup.
func Digest(rows []types.TrainingExample) string {
	h := blake3.New()
	for _, r := range rows {
		h.Write([]byte(r.ID))
		h.Write([]byte{0})
		h.Write([]byte(r.State))
		h.Write([]byte{0})
		h.Write([]byte(string(r.Action)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
