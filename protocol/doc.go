// Package protocol implements the RESP2 wire format used between clients,
// the server, replicas and the append-only log.
//
// Decoding is incremental: Decode inspects a buffer and either returns one
// complete value together with the number of bytes it used, ErrIncomplete
// when more input is needed (nothing is consumed), or a *FrameError when the
// input can never become a valid frame. Reader wraps Decode around a socket.
//
// Basic usage:
//
//	reader := protocol.NewReader(conn)
//	for {
//		value, err := reader.ReadNext()
//		if err != nil {
//			break
//		}
//		cmd, err := protocol.ParseCommand(value)
//		// ...
//	}
//
// Values returned by Decode and Reader alias the input buffer. Callers that
// keep a value past the next read must copy it.
package protocol
