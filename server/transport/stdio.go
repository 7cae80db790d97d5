package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/shared"
	"go.uber.org/zap"
)

// stdio lines can carry large batches; allow up to the HTTP body cap.
const stdioScanBuffer = 1 << 20

// ServeStdio runs a single-session transport over line-delimited JSON.
// One envelope per line in each direction. It blocks until the reader is
// exhausted or the context is cancelled.
func ServeStdio(ctx context.Context, manager mcp.ISessionManager, logger *zap.Logger, in io.Reader, out io.Writer) error {
	if manager == nil {
		return errors.New("session manager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("stdio")

	session := manager.CreateSession("", &sync.Map{})
	defer manager.CloseSession(session.GetID())

	output, ok := session.AcquireOutput()
	if !ok {
		return errors.New("failed to acquire session output")
	}
	defer session.ReleaseOutput()

	// Writer goroutine: one JSON envelope per line.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		writer := bufio.NewWriter(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-output:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				data, err := json.Marshal(msg)
				if err != nil {
					logger.Error("Failed to marshal outgoing message", zap.Error(err))
					continue
				}
				if _, err := writer.Write(append(data, '\n')); err != nil {
					logger.Error("Failed to write outgoing message", zap.Error(err))
					return
				}
				if err := writer.Flush(); err != nil {
					logger.Error("Failed to flush output", zap.Error(err))
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), stdioScanBuffer)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msgs, err := shared.ParseMessages(session, line)
		if err != nil {
			logger.Error("Failed to parse incoming line", zap.Error(err))
			session.SendResponse(nil, nil, &shared.JSONRPCError{
				Code:    shared.JSONRPCErrorParseError,
				Message: "Invalid JSON",
			})
			continue
		}
		for _, msg := range msgs {
			msg.Session = session
			msg.Timestamp = time.Now()
			if putErr := session.Input().Put(msg); putErr != nil {
				logger.Error("Failed to enqueue message", zap.Error(putErr), zap.Any("msgId", msg.ID))
			}
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Error("Input scanner error", zap.Error(err))
		return err
	}
	logger.Info("Input closed, shutting down stdio transport")
	return nil
}
