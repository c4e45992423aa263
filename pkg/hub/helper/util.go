package helper

import (
	crand "crypto/rand"
	"fmt"

	"github.com/jabolina/go-hub/pkg/hub/types"
)

// Generates a random 128-bit peer id, panic if not possible.
func GeneratePeerID() types.PeerID {
	var id types.PeerID
	if _, err := crand.Read(id[:]); err != nil {
		panic(fmt.Errorf("failed generating peer id: %v", err))
	}
	return id
}
