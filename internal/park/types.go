package park

import (
	"encoding"
	"encoding/binary"
	"time"

	"relaydesk/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBMessage is a parked message. Seq orders records within a scope.
type DBMessage struct {
	Seq         uint64 `msgpack:"seq"`
	ID          string `msgpack:"id"`
	MessageID   string `msgpack:"messageId"`
	FromMe      bool   `msgpack:"fromMe"`
	MessageType string `msgpack:"messageType"`
	Content     string `msgpack:"content"`
	MediaURL    string `msgpack:"mediaUrl"`
	Timestamp   int64  `msgpack:"timestamp"`
	Read        bool   `msgpack:"read"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func fromModel(seq uint64, m models.Message) *DBMessage {
	return &DBMessage{
		Seq:         seq,
		ID:          m.ID,
		MessageID:   m.MessageID,
		FromMe:      m.FromMe,
		MessageType: string(m.MessageType),
		Content:     m.Content,
		MediaURL:    m.MediaURL,
		Timestamp:   m.Timestamp.UnixNano(),
		Read:        m.Read,
	}
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		ID:          m.ID,
		MessageID:   m.MessageID,
		FromMe:      m.FromMe,
		MessageType: models.MessageType(m.MessageType),
		Content:     m.Content,
		MediaURL:    m.MediaURL,
		Timestamp:   time.Unix(0, m.Timestamp).UTC(),
		Read:        m.Read,
	}
}
