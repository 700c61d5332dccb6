package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-feed/internal/types"
)

var ErrInvalidSecretKey = errors.New("invalid secret key")

// ComputeEventID returns the NIP-01 id: sha256 of [0, pubkey, created_at, kind, tags, content]
func ComputeEventID(evt *types.Event) string {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	serialized := []interface{}{
		0,
		evt.PubKey,
		evt.CreatedAt,
		evt.Kind,
		tags,
		evt.Content,
	}

	// Relays expect unescaped <, > and &
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.Encode(serialized)

	hash := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(hash[:])
}

// ValidateEventSignature verifies Schnorr signature for a Nostr event
func ValidateEventSignature(evt *types.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// PublicKeyFromSecret derives the x-only hex pubkey for a hex secret key
func PublicKeyFromSecret(secretHex string) (string, error) {
	priv, err := parseSecretKey(secretHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())), nil
}

// SignEvent fills in PubKey, ID and Sig using the given hex secret key
func SignEvent(evt *types.Event, secretHex string) error {
	priv, err := parseSecretKey(secretHex)
	if err != nil {
		return err
	}
	if evt.Tags == nil {
		evt.Tags = [][]string{}
	}
	evt.PubKey = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	evt.ID = ComputeEventID(evt)

	idBytes, _ := hex.DecodeString(evt.ID)
	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return err
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

func parseSecretKey(secretHex string) (*btcec.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(secretHex)
	if err != nil || len(keyBytes) != 32 {
		return nil, ErrInvalidSecretKey
	}
	priv, _ := btcec.PrivKeyFromBytes(keyBytes)
	return priv, nil
}

// ParseEventFromInterface converts raw websocket data to Event (avoids JSON re-encoding)
func ParseEventFromInterface(data interface{}) (types.Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return types.Event{}, false
	}

	evt := types.Event{}

	if id, ok := m["id"].(string); ok {
		evt.ID = id
	}
	if pk, ok := m["pubkey"].(string); ok {
		evt.PubKey = pk
	}
	if createdAt, ok := m["created_at"].(float64); ok {
		evt.CreatedAt = int64(createdAt)
	}
	if kind, ok := m["kind"].(float64); ok {
		evt.Kind = int(kind)
	}
	if content, ok := m["content"].(string); ok {
		evt.Content = content
	}
	if sig, ok := m["sig"].(string); ok {
		evt.Sig = sig
	}

	if tags, ok := m["tags"].([]interface{}); ok {
		evt.Tags = make([][]string, 0, len(tags))
		for _, tag := range tags {
			if tagArr, ok := tag.([]interface{}); ok {
				strTag := make([]string, 0, len(tagArr))
				for _, elem := range tagArr {
					if s, ok := elem.(string); ok {
						strTag = append(strTag, s)
					}
				}
				evt.Tags = append(evt.Tags, strTag)
			}
		}
	}

	if ComputeEventID(&evt) != evt.ID {
		slog.Warn("event id mismatch", "event_id", ShortID(evt.ID))
		return types.Event{}, false
	}
	if !ValidateEventSignature(&evt) {
		slog.Warn("event signature validation failed", "event_id", ShortID(evt.ID))
		return types.Event{}, false
	}

	return evt, evt.ID != ""
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
