package meshtastic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NodeID is the numeric address of a mesh node.
type NodeID uint32

// BroadcastNum is the destination that addresses every reachable node.
const BroadcastNum NodeID = 0xffffffff

// ErrInvalidNodeID is returned when a node identifier cannot be parsed.
var ErrInvalidNodeID = errors.New("invalid node id")

// ParseNodeID parses a node identifier in either decimal form ("42") or the
// "!"-prefixed hexadecimal form used by Meshtastic clients ("!2a").
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "!") {
		s = s[1:]
		base = 16
	}

	n, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidNodeID, s, err)
	}
	return NodeID(n), nil
}

// String formats the id the way node ids are shown to users: "!" followed by 8 hex digits.
func (id NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(id))
}

// IsBroadcast reports whether id addresses all nodes.
func (id NodeID) IsBroadcast() bool {
	return id == BroadcastNum
}
