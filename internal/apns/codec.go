package apns

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// Binary-interface commands.
const (
	commandSend          = 2
	commandErrorResponse = 8
)

// Item identifiers inside a command-2 frame.
const (
	itemDeviceToken = 1
	itemPayload     = 2
	itemIdentifier  = 3
	itemExpiry      = 4
	itemPriority    = 5
)

const priorityImmediate = 10

// Provider status codes carried in error-response packets.
const (
	StatusProcessingError    = 1
	StatusNoDeviceToken      = 2
	StatusNoTopic            = 3
	StatusNoPayload          = 4
	StatusInvalidTokenSize   = 5
	StatusInvalidTopicSize   = 6
	StatusInvalidPayloadSize = 7
	StatusInvalidToken       = 8
	StatusShutdown           = 10
	StatusUnknown            = 255
)

var statusText = map[uint8]string{
	StatusProcessingError:    "processing error",
	StatusNoDeviceToken:      "missing device token",
	StatusNoTopic:            "missing topic",
	StatusNoPayload:          "missing payload",
	StatusInvalidTokenSize:   "invalid token size",
	StatusInvalidTopicSize:   "invalid topic size",
	StatusInvalidPayloadSize: "invalid payload size",
	StatusInvalidToken:       "invalid token",
	StatusShutdown:           "shutdown",
	StatusUnknown:            "unknown",
}

// StatusText returns the human-readable form of a provider status code.
func StatusText(status uint8) string {
	if text, ok := statusText[status]; ok {
		return text
	}
	return fmt.Sprintf("status %d", status)
}

// encodeFrame builds one command-2 frame: a one-byte command, a big-endian
// frame length, then items of {id u8, length u16, data}.
func encodeFrame(id uint32, token, payload []byte, expiry uint32, priority uint8) []byte {
	var items bytes.Buffer
	writeItem := func(itemID uint8, data []byte) {
		items.WriteByte(itemID)
		_ = binary.Write(&items, binary.BigEndian, uint16(len(data)))
		items.Write(data)
	}

	writeItem(itemDeviceToken, token)
	writeItem(itemPayload, payload)
	writeItem(itemIdentifier, binary.BigEndian.AppendUint32(nil, id))
	writeItem(itemExpiry, binary.BigEndian.AppendUint32(nil, expiry))
	writeItem(itemPriority, []byte{priority})

	var frame bytes.Buffer
	frame.WriteByte(commandSend)
	_ = binary.Write(&frame, binary.BigEndian, uint32(items.Len()))
	frame.Write(items.Bytes())
	return frame.Bytes()
}

const errorResponseLength = 6

// parseErrorResponse decodes a command-8 packet:
// {command u8, status u8, identifier u32}.
func parseErrorResponse(packet []byte) (status uint8, identifier uint32, err error) {
	if len(packet) != errorResponseLength {
		return 0, 0, fmt.Errorf("error response must be %d bytes, got %d", errorResponseLength, len(packet))
	}
	if packet[0] != commandErrorResponse {
		return 0, 0, fmt.Errorf("unexpected command %d in error response", packet[0])
	}
	return packet[1], binary.BigEndian.Uint32(packet[2:6]), nil
}

// readFeedbackRecords drains one feedback stream of records shaped
// {timestamp u32, token length u16, token}. A clean EOF on a record boundary
// ends the batch; truncation mid-record is a protocol error.
func readFeedbackRecords(r io.Reader) ([]FeedbackRecord, error) {
	records := make([]FeedbackRecord, 0)
	header := make([]byte, 6)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, fmt.Errorf("truncated feedback record header: %w", err)
		}

		token := make([]byte, binary.BigEndian.Uint16(header[4:6]))
		if _, err := io.ReadFull(r, token); err != nil {
			return nil, fmt.Errorf("truncated feedback record token: %w", err)
		}

		records = append(records, FeedbackRecord{
			Token:     hex.EncodeToString(token),
			Timestamp: time.Unix(int64(binary.BigEndian.Uint32(header[0:4])), 0),
		})
	}
}
