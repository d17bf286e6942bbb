package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dudu/yolocam/internal/detector"
	"github.com/dudu/yolocam/internal/pipeline"
)

// Encoding selects the wire format of published results
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// Message is one completed cycle as published to remote consumers
type Message struct {
	Source     string               `json:"source" msgpack:"source"`
	Seq        uint64               `json:"seq" msgpack:"seq"`
	Timestamp  time.Time            `json:"timestamp" msgpack:"timestamp"`
	Detections []detector.Detection `json:"detections" msgpack:"detections"`
}

// Encode marshals m in the given encoding
func Encode(enc Encoding, m Message) ([]byte, error) {
	switch enc {
	case EncodingJSON, "":
		return json.Marshal(m)
	case EncodingMsgpack:
		return msgpack.Marshal(m)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// Decode is the inverse of Encode
func Decode(enc Encoding, data []byte) (Message, error) {
	var m Message
	var err error
	switch enc {
	case EncodingJSON, "":
		err = json.Unmarshal(data, &m)
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &m)
	default:
		err = fmt.Errorf("unknown encoding %q", enc)
	}
	return m, err
}

// Multi fans results out to several sinks in order
type Multi []pipeline.ResultSink

// SetResults forwards dets to every sink
func (m Multi) SetResults(dets []detector.Detection) {
	for _, s := range m {
		s.SetResults(dets)
	}
}
