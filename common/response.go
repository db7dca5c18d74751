package common

// ApiResponse is the envelope used by endpoints that return a single payload.
type ApiResponse[T any] struct {
	Data    T      `json:"data"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
