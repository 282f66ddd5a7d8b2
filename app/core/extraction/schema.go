package extraction

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const systemPrompt = `You are a scheduling assistant that extracts calendar intents from chat messages.

Classify the message into exactly one intent:
- "create": the user wants to schedule something new
- "edit": the user wants to change an existing event
- "cancel": the user wants to remove an existing event
- "query": the user asks what is on their calendar
- "help": the user asks what you can do
- "unknown": none of the above

Extract only what the message states. Leave out fields that are not mentioned.
If the session context shows a pending_slot, read the message first as an
answer for that slot.

Respond with a single JSON object and nothing else:
{
  "intent": "create|edit|cancel|query|help|unknown",
  "confidence": 0.0,
  "target_hint": "free text naming which existing event, for edit/cancel",
  "fields": {
    "title": "concise task title",
    "date": "date as stated (tomorrow, friday, 2025-07-15)",
    "time": "time as stated (3pm, 15:00, morning)",
    "duration": "duration if mentioned (1 hour, 30 minutes)",
    "description": "additional context",
    "location": "place if mentioned",
    "date_range": "for query intent: today, tomorrow, this week, next week, or a date"
  }
}`

const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["intent", "confidence"],
  "properties": {
    "intent": {
      "type": "string",
      "enum": ["create", "edit", "cancel", "query", "help", "unknown"]
    },
    "confidence": {
      "type": "number",
      "minimum": 0,
      "maximum": 1
    },
    "target_hint": {
      "type": "string"
    },
    "fields": {
      "type": "object",
      "properties": {
        "title": {"type": "string"},
        "date": {"type": "string"},
        "time": {"type": "string"},
        "duration": {"type": "string"},
        "description": {"type": "string"},
        "location": {"type": "string"},
        "date_range": {"type": "string"}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(responseSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("extraction.json")
}
