package message

import (
	"encoding/json"
	"strconv"

	"github.com/cordum/oncebox/core/infra/schema"
)

const (
	msgInvalidBody         = "invalid JSON body"
	msgCiphertextRequired  = "ciphertext (base64) required"
	msgMaxReadsUnsupported = "only maxReads=1 supported"
	msgTTLInvalid          = "ttlSeconds must be a number"
	msgTokenRequired       = "token required"
)

type createBody struct {
	Ciphertext string       `json:"ciphertext"`
	TTLSeconds *json.Number `json:"ttlSeconds"`
}

// ParseCreateRequest validates a create body and extracts its fields.
func ParseCreateRequest(body []byte) (CreateRequest, error) {
	if !json.Valid(body) {
		return CreateRequest{}, inputErr(msgInvalidBody)
	}
	if err := schema.CreateMessage.Validate(body); err != nil {
		return CreateRequest{}, inputErr(violationMessage(err))
	}

	var raw createBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return CreateRequest{}, inputErr(msgInvalidBody)
	}
	req := CreateRequest{Ciphertext: raw.Ciphertext}
	if raw.TTLSeconds != nil {
		// The literal is already valid JSON, so the only possible error is
		// ErrRange: overflow yields ±Inf and underflow yields 0, both of
		// which ClampTTL maps to the default.
		v, _ := strconv.ParseFloat(raw.TTLSeconds.String(), 64)
		req.TTLSeconds = &v
	}
	return req, nil
}

func violationMessage(err error) string {
	for _, v := range schema.Violations(err) {
		switch v.Field {
		case "ciphertext":
			return msgCiphertextRequired
		case "maxReads":
			return msgMaxReadsUnsupported
		case "ttlSeconds":
			return msgTTLInvalid
		}
	}
	// a non-object body fails on the root
	return msgCiphertextRequired
}
