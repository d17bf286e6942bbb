package sink

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/yolocam/internal/detector"
)

var sampleDets = []detector.Detection{
	{
		Label:    "person",
		ClassID:  14,
		Score:    0.9,
		Box:      detector.BoundingBox{X1: 0.1, Y1: 0.2, X2: 0.5, Y2: 0.8},
		FrameBox: detector.BoundingBox{X1: 64, Y1: 96, X2: 320, Y2: 384},
	},
}

func TestEncodeDecode(t *testing.T) {
	m := Message{Source: "cam0", Seq: 7, Timestamp: time.Unix(1700000000, 0).UTC(), Detections: sampleDets}

	for _, enc := range []Encoding{EncodingJSON, EncodingMsgpack} {
		data, err := Encode(enc, m)
		require.NoError(t, err, enc)

		got, err := Decode(enc, data)
		require.NoError(t, err, enc)
		assert.Equal(t, m.Source, got.Source)
		assert.Equal(t, m.Seq, got.Seq)
		assert.True(t, m.Timestamp.Equal(got.Timestamp), enc)
		assert.Equal(t, m.Detections, got.Detections, enc)
	}

	_, err := Encode("xml", m)
	assert.Error(t, err)
}

func TestJSONFieldNames(t *testing.T) {
	data, err := Encode(EncodingJSON, Message{Detections: sampleDets})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"label":"person"`)
	assert.Contains(t, string(data), `"frame_box"`)
}

type recordingSink struct {
	got [][]detector.Detection
}

func (r *recordingSink) SetResults(dets []detector.Detection) {
	r.got = append(r.got, dets)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	Multi{a, b}.SetResults(sampleDets)
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestMQTTPublishesQueuedResults(t *testing.T) {
	var mu sync.Mutex
	var topics []string
	var payloads [][]byte
	s := newMQTT(MQTTConfig{Source: "cam0", Encoding: EncodingMsgpack}, func(topic string, qos byte, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		topics = append(topics, topic)
		payloads = append(payloads, payload)
		return nil
	})

	s.SetResults(sampleDets)
	s.SetResults(nil)
	require.NoError(t, s.Close())

	assert.Equal(t, []string{"yolocam/detections", "yolocam/detections"}, topics)
	m, err := Decode(EncodingMsgpack, payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "cam0", m.Source)
	assert.Equal(t, uint64(1), m.Seq)
	assert.Equal(t, sampleDets, m.Detections)

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(0), stats.Errors)

	s.SetResults(sampleDets)
	assert.Equal(t, uint64(1), s.Stats().Dropped, "results after close are dropped")
	assert.NoError(t, s.Close())
}

func TestMQTTCountsErrors(t *testing.T) {
	s := newMQTT(MQTTConfig{}, func(string, byte, []byte) error {
		return errors.New("broker down")
	})
	s.SetResults(sampleDets)
	require.NoError(t, s.Close())
	assert.Equal(t, uint64(1), s.Stats().Errors)
}

func TestMQTTDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	s := newMQTT(MQTTConfig{}, func(string, byte, []byte) error {
		<-block
		return nil
	})

	for i := 0; i < 20; i++ {
		s.SetResults(sampleDets)
	}
	close(block)
	require.NoError(t, s.Close())

	stats := s.Stats()
	assert.Greater(t, stats.Dropped, uint64(0))
	assert.Equal(t, uint64(20), stats.Published+stats.Dropped)
}

func TestNewMQTTRequiresBroker(t *testing.T) {
	_, err := NewMQTT(MQTTConfig{})
	assert.Error(t, err)
}

func TestHubBroadcasts(t *testing.T) {
	hub := NewHub("cam0")
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.SetResults(sampleDets)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	m, err := Decode(EncodingJSON, data)
	require.NoError(t, err)
	assert.Equal(t, "cam0", m.Source)
	assert.Equal(t, sampleDets, m.Detections)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub("")
	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
