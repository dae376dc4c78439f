package kv

// Simple JSON protocol for the store daemon over a Unix domain socket.
// Requests and responses are newline-delimited JSON documents; a connection
// may carry any number of request/response pairs.

type Request struct {
	Op    string `json:"op"` // "get" | "put" | "delete" | "keys"
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

type Response struct {
	OK    bool     `json:"ok"`
	Value []byte   `json:"value,omitempty"`
	Keys  []string `json:"keys,omitempty"`
	Error string   `json:"error,omitempty"`
}
