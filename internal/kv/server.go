package kv

import (
	"encoding/json"
	"errors"
	"net"
)

// Serve accepts connections on l and answers protocol requests against
// store until l is closed.
func Serve(l net.Listener, store KV) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}
		go handleConn(conn, store)
	}
}

func handleConn(conn net.Conn, store KV) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		_ = enc.Encode(dispatch(store, req))
	}
}

func dispatch(store KV, req Request) Response {
	switch req.Op {
	case "get":
		v, err := store.Get(req.Key)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true, Value: v}
	case "put":
		if err := store.Put(req.Key, req.Value); err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true}
	case "delete":
		if err := store.Delete(req.Key); err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true}
	case "keys":
		keys, err := store.Keys(req.Key)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true, Keys: keys}
	default:
		return Response{OK: false, Error: "unknown op"}
	}
}
