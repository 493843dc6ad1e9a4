package node

import (
	"net"
	"strings"
)

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// and adds a default port
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return addr + ":" + defPort
}

// OwnerForKey looks up the member owning key on the ring, returning its id,
// its normalized address and whether that member is this process.
func (n *Node) OwnerForKey(key string) (ownerID, ownerHP string, self, ok bool) {
	ownerID = n.ring.Lookup([]byte(key))
	if ownerID == "" {
		return "", "", false, false
	}
	ownerAddr, ok := n.ring.Addr(ownerID)
	if !ok {
		return "", "", false, false
	}
	if ownerAddr != "" {
		ownerHP = NormalizeHostPort(ownerAddr, "8080")
	}
	if st := n.group.LastState(); st != nil && n.group.OwnRegistrationPath() != "" {
		self = MemberID(n.group.OwnRegistrationPath(), *st) == ownerID
	}
	return ownerID, ownerHP, self, true
}
