package listener

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(payload []byte) []byte {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)
	return buf.Bytes()
}

func TestReadVOEventPacket(t *testing.T) {
	xml := []byte(`<VOEvent ivorn="ivo://swift/bat#1" role="observation"/>`)
	stream := append(frame(nil), frame(xml)...)
	r := bufio.NewReader(bytes.NewReader(stream))

	// A zero-length frame is the transport keepalive.
	packet, keepalive, err := readVOEventPacket(r)
	require.NoError(t, err)
	assert.True(t, keepalive)
	assert.Nil(t, packet)

	packet, keepalive, err = readVOEventPacket(r)
	require.NoError(t, err)
	assert.False(t, keepalive)
	assert.Equal(t, xml, packet)

	_, _, err = readVOEventPacket(r)
	assert.Equal(t, io.EOF, err)
}

func TestReadVOEventPacket_TruncatedBody(t *testing.T) {
	full := frame([]byte("abcdef"))
	r := bufio.NewReader(bytes.NewReader(full[:len(full)-2]))
	_, _, err := readVOEventPacket(r)
	assert.Error(t, err)
}

func TestStandardTopics(t *testing.T) {
	topics := StandardTopics("gcn.notices")
	require.Len(t, topics, 7)

	var heartbeats int
	for _, topic := range topics {
		assert.True(t, len(topic.Name) > len("gcn.notices."))
		if topic.IsHeartbeat {
			heartbeats++
			assert.Equal(t, "gcn.notices.heartbeat", topic.Name)
		}
	}
	assert.Equal(t, 1, heartbeats)
}

func TestStandardTopics_NoPrefix(t *testing.T) {
	topics := StandardTopics("")
	require.Len(t, topics, 7)
	assert.Equal(t, "gw", topics[0].Name)
}
