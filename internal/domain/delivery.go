package domain

import (
	"encoding/json"
	"fmt"
)

// DeliveryMode selects how a payload is packaged
type DeliveryMode string

const (
	DeliveryRaw       DeliveryMode = "raw"
	DeliveryChunked   DeliveryMode = "chunked"
	DeliveryEncrypted DeliveryMode = "encrypted"
)

// ByteArray marshals as a JSON array of numbers instead of base64,
// which is what the runtime client indexes byte by byte.
type ByteArray []byte

// MarshalJSON implements json.Marshaler
func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON implements json.Unmarshaler
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value out of range at %d: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Chunk is one keyed slice of a chunked payload
type Chunk struct {
	Index int       `json:"index"`
	Data  ByteArray `json:"data"`
}

// DeliveryResponse is the packaged payload handed back after verification
type DeliveryResponse struct {
	Mode      DeliveryMode `json:"mode"`
	SessionID string       `json:"sessionId"`

	// raw
	Script string `json:"script,omitempty"`

	// chunked
	Chunks []Chunk  `json:"-"`
	Keys   []string `json:"keys,omitempty"`

	// encrypted
	Key    string      `json:"key,omitempty"`
	Blocks []ByteArray `json:"-"`
}

// MarshalJSON emits "chunks" with the shape of the active mode
func (d DeliveryResponse) MarshalJSON() ([]byte, error) {
	type plain DeliveryResponse
	out := struct {
		plain
		Chunks interface{} `json:"chunks,omitempty"`
	}{plain: plain(d)}
	switch d.Mode {
	case DeliveryChunked:
		out.Chunks = d.Chunks
	case DeliveryEncrypted:
		out.Chunks = d.Blocks
	}
	return json.Marshal(out)
}

// ShimConfig is the configuration contract handed to the runtime shim
type ShimConfig struct {
	SessionID                  string
	HeartbeatEndpoint          string
	SuspiciousActivityEndpoint string
	BanEndpoint                string
	OwnerIdentityList          []string
	WhitelistIdentityList      []string
	AntiInspectionEnabled      bool
	AutoBanEnabled             bool
	HeartbeatIntervalSeconds   int
}
