package events

import "encoding/json"

// Encode renders an Event as its canonical wire JSON object, with the "type"
// discriminator field merged in alongside the event's own fields.
func Encode(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typeVal, err := json.Marshal(e.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = typeVal
	return json.Marshal(fields)
}
