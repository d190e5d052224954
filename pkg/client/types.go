package client

import "encoding/json"

// StartResponse is returned by POST /start.
type StartResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	PID     int    `json:"pid"`
}

// StopResponse is returned by POST /stop. Mode is clean, forced_timeout or
// forced_remote_error.
type StopResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Mode    string `json:"mode"`
}

// StatusResponse is returned by POST /restart.
type StatusResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// Stats is returned by GET /stats.
type Stats struct {
	Success             bool   `json:"success"`
	Status              string `json:"status"`
	ProcessRAM          string `json:"process_ram"`
	SystemRAM           string `json:"system_ram"`
	PID                 int    `json:"pid,omitempty"`
	ProcessRAMBytes     uint64 `json:"process_ram_bytes"`
	SystemRAMUsedBytes  uint64 `json:"system_ram_used_bytes"`
	SystemRAMTotalBytes uint64 `json:"system_ram_total_bytes"`
}

// State is returned by GET /status.
type State struct {
	Success bool   `json:"success"`
	State   string `json:"state"`
	PID     int    `json:"pid,omitempty"`
}

// Todo mirrors one todo item; ID keeps the raw JSON token.
type Todo struct {
	ID        json.RawMessage `json:"id"`
	Title     string          `json:"title"`
	Text      string          `json:"text"`
	Completed bool            `json:"completed"`
	Date      *string         `json:"date"`
}

// ErrorResponse is the body of every non-200 answer.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
