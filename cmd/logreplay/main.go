// Command logreplay decodes a Bluetooth capture CSV into protocol messages.
// Input rows carry id, dir, and colon-separated hex data columns; output is
// one CSV row per decoded message. Each direction gets its own stream
// decoder, so interleaved captures replay correctly.
package main

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"benshigo/internal/protocol"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	in := io.Reader(os.Stdin)
	if len(os.Args) > 1 && os.Args[1] != "-" {
		file, err := os.Open(os.Args[1])
		if err != nil {
			logger.Error("open capture file", "error", err)
			os.Exit(1)
		}
		defer file.Close()
		in = file
	}

	if err := replay(logger, in, os.Stdout); err != nil {
		logger.Error("replay capture", "error", err)
		os.Exit(1)
	}
}

// replay streams capture rows from in and writes decoded message rows to
// out. It stops at the first decode failure, like the capture tooling this
// replaces, since everything after a hard desync is untrustworthy.
func replay(logger *slog.Logger, in io.Reader, out io.Writer) error {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	cols, err := columnIndexes(header)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(out)
	defer writer.Flush()
	if err := writer.Write([]string{"id", "dir", "msg_type", "msg"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	decoders := map[string]*protocol.StreamDecoder{
		"phone->radio": protocol.NewStreamDecoder(logger, protocol.ControlRegistry()),
		"radio->phone": protocol.NewStreamDecoder(logger, protocol.ControlRegistry()),
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read csv row: %w", err)
		}

		id := row[cols.id]
		dir := row[cols.dir]
		dec, ok := decoders[dir]
		if !ok {
			return fmt.Errorf("row %s: unknown direction: %q", id, dir)
		}

		data, err := hex.DecodeString(strings.ReplaceAll(row[cols.data], ":", ""))
		if err != nil {
			return fmt.Errorf("row %s: decode hex data: %w", id, err)
		}

		msgs, decodeErr := dec.Feed(data)
		for _, msg := range msgs {
			record := []string{id, dir, protocol.TypeName(msg), formatMessage(msg)}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
		if decodeErr != nil {
			return fmt.Errorf("row %s: %w", id, decodeErr)
		}
	}
}

type columns struct {
	id, dir, data int
}

func columnIndexes(header []string) (columns, error) {
	cols := columns{id: -1, dir: -1, data: -1}
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "id":
			cols.id = i
		case "dir":
			cols.dir = i
		case "data":
			cols.data = i
		}
	}
	if cols.id < 0 || cols.dir < 0 || cols.data < 0 {
		return columns{}, fmt.Errorf("csv header must contain id, dir, and data columns, got %v", header)
	}

	return cols, nil
}

func formatMessage(msg protocol.Message) string {
	switch m := msg.(type) {
	case protocol.AprsChunk:
		return fmt.Sprintf("AprsChunk(num=%d, final=%t, status=%d, data=%s)",
			m.ChunkNum, m.IsFinal, m.DecodeStatus, hex.EncodeToString(m.ChunkData))
	case protocol.ChannelInfoRequest:
		return fmt.Sprintf("ChannelInfoRequest(channel=%d)", m.ChannelID)
	case protocol.ChannelInfoResponse:
		return fmt.Sprintf("ChannelInfoResponse(action=%d, channel=%d, data=%s)",
			m.ActionID, m.ChannelID, hex.EncodeToString(m.ChannelData))
	case protocol.SetDigitalMessageUpdates:
		return fmt.Sprintf("SetDigitalMessageUpdates(enabled=%t)", m.Enabled)
	case protocol.Unknown:
		return fmt.Sprintf("Unknown(type_id=%s, data=%s)", m.ID.String(), hex.EncodeToString(m.Data))
	default:
		return fmt.Sprintf("%+v", msg)
	}
}
