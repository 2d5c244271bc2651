package domain

import (
	"encoding/json"
	"strings"
)

// ClipboardMarker prefixes payloads written by SerializeClipboard.
const ClipboardMarker = "notespace-clipboard:v1:"

// SerializeClipboard encodes blocks for the internal clipboard.
func SerializeClipboard(blocks []Block) string {
	data, err := json.Marshal(blocks)
	if err != nil {
		return ""
	}
	return ClipboardMarker + string(data)
}

// DeserializeClipboard decodes a payload produced by SerializeClipboard.
// Every returned node carries a fresh id. ok is false for any payload
// without the marker, with an undecodable body or with a repeated id.
func DeserializeClipboard(payload string) (blocks []Block, ok bool) {
	body, found := strings.CutPrefix(payload, ClipboardMarker)
	if !found {
		return nil, false
	}
	var decoded []Block
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return nil, false
	}
	blocks, err := DeepDuplicateAll(decoded)
	if err != nil {
		return nil, false
	}
	return blocks, true
}
