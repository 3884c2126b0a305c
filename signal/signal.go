package signal

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Envelope is the JSON shape pushed to the UI layer for every signal.
type Envelope struct {
	Type  string      `json:"type"`
	Event interface{} `json:"event"`
}

var (
	handlerMutex sync.RWMutex
	handler      func(data []byte)
)

// SetCompanionSignalHandler installs the process-wide signal sink.
// The server wires this to its websocket fan-out; tests install a capture.
func SetCompanionSignalHandler(h func(data []byte)) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	handler = h
}

// ResetCompanionSignalHandler removes the installed handler.
func ResetCompanionSignalHandler() {
	SetCompanionSignalHandler(nil)
}

// Send marshals the event into a signal envelope and delivers it to the
// installed handler. Signals emitted before a handler is installed are dropped.
func Send(typ string, event interface{}) {
	handlerMutex.RLock()
	h := handler
	handlerMutex.RUnlock()

	if h == nil {
		return
	}

	data, err := json.Marshal(Envelope{Type: typ, Event: event})
	if err != nil {
		zap.L().Error("failed to marshal signal", zap.String("type", typ), zap.Error(err))
		return
	}

	h(data)
}
