package schema

import _ "embed"

//go:embed create_message.schema.json
var createMessageSchema []byte

// CreateMessage validates the body of a create-message request.
var CreateMessage = MustCompile("create_message", createMessageSchema)
