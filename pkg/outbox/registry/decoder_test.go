package registry

import (
	"encoding/json"
	"testing"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventWalletSynced, 1, func(payload json.RawMessage) (interface{}, error) {
		var decoded map[string]string
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	input := json.RawMessage(`{"balance":"42.50"}`)
	output, err := reg.Decode(enums.EventWalletSynced, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outMap, ok := output.(map[string]string); !ok || outMap["balance"] != "42.50" {
		t.Fatalf("unexpected output %+v", output)
	}
}
