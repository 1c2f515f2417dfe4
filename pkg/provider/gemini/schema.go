// Package gemini normalizes Gemini CLI's session-log JSON into the
// canonical event algebra. Two on-disk shapes are accepted: the current
// session-object document and the legacy flat message array.
package gemini

import "encoding/json"

type sessionDocument struct {
	SessionID   string          `json:"sessionId"`
	ProjectHash string          `json:"projectHash"`
	StartTime   string          `json:"startTime"`
	LastUpdated string          `json:"lastUpdated"`
	Messages    []rawMessage    `json:"messages"`
}

// rawMessage captures the "type" discriminator; callers re-decode the raw
// bytes into the concrete shape once Type is known.
type rawMessage struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func (m *rawMessage) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	m.Type = tag.Type
	m.Raw = append([]byte(nil), data...)
	return nil
}

type userMessage struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

type infoMessage struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

type assistantMessage struct {
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp"`
	Content   string        `json:"content"`
	Model     string        `json:"model"`
	Thoughts  []thought     `json:"thoughts"`
	ToolCalls []toolCall    `json:"toolCalls"`
	Tokens    tokenUsage    `json:"tokens"`
}

type thought struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

type toolCall struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Args   json.RawMessage    `json:"args"`
	Result []functionResponse `json:"result"`
	Status *string            `json:"status"`
}

type functionResponse struct {
	FunctionResponse functionResponseInner `json:"functionResponse"`
}

type functionResponseInner struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type tokenUsage struct {
	Input    int `json:"input"`
	Output   int `json:"output"`
	Cached   int `json:"cached"`
	Thoughts int `json:"thoughts"`
	Tool     int `json:"tool"`
	Total    int `json:"total"`
}

// legacyMessage is the pre-session-object flat array format: one record
// per line-item, no grouping document. ProjectHash is optional — older
// captures predate the field; when present it is carried bit-exact the
// same way the session-object document's projectHash is.
type legacyMessage struct {
	SessionID   string `json:"sessionId"`
	MessageID   int    `json:"messageId"`
	MessageType string `json:"type"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	ProjectHash string `json:"projectHash,omitempty"`
}
