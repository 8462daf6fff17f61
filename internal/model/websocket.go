package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries one status update for a scan
type WSProgressMessage struct {
	Type     string   `json:"type"`
	StatusID string   `json:"statusId"`
	Progress Progress `json:"progress"`
}
