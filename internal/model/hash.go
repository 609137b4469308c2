package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows the encoding to
// change without colliding with old digests.
const (
	DomainSnapshot = "codesync/snapshot/v1"
	DomainUpdate   = "codesync/update/v1"
)

// HashWithDomain computes SHA256(domain || 0x00 || data) as hex.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotDigest hashes a tree together with its file contents. Two replicas
// with equal digests hold the same tree (including sibling order) and the
// same text for every file.
func SnapshotDigest(tree []Node, contents map[string]string) (string, error) {
	obj := map[string]any{
		"tree":     ToValue(tree),
		"contents": contents,
	}
	if contents == nil {
		obj["contents"] = map[string]string{}
	}
	data, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("snapshot digest: %w", err)
	}
	return HashWithDomain(DomainSnapshot, data), nil
}

// MembershipDigest hashes the set of node ids and names ignoring sibling
// order. Replicas that made concurrent sibling inserts agree on this digest
// even though relative order is left to the sequence primitive.
func MembershipDigest(tree []Node) (string, error) {
	entries := make(map[string]any)
	var walk func(parent string, nodes []Node)
	walk = func(parent string, nodes []Node) {
		for _, n := range nodes {
			entries[n.ID] = map[string]any{
				"name":     n.Name,
				"parent":   parent,
				"isFolder": n.IsFolder,
			}
			walk(n.ID, n.Children)
		}
	}
	walk("", tree)
	data, err := MarshalCanonical(entries)
	if err != nil {
		return "", fmt.Errorf("membership digest: %w", err)
	}
	return HashWithDomain(DomainSnapshot, data), nil
}
