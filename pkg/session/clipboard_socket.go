package session

// AddClipboardSocket parks sock on this session, waiting for clipboard
// content to arrive from the kit (while Live) or for the post-disconnect
// linger window to deliver a final saved copy (while WaitDisconnect).
func (s *Session) AddClipboardSocket(sock ClipboardSocket) {
	s.clipSockets = append(s.clipSockets, sock)
}

// FlushClipboardSockets delivers data to every parked clipboard socket and
// closes them, then clears the parked list. Called once clipboard content
// actually arrives from the kit.
func (s *Session) FlushClipboardSockets(mimeType string, data []byte) {
	for _, sock := range s.clipSockets {
		sock.DeliverClipboard(mimeType, data)
		sock.Close()
	}
	s.clipSockets = nil
}

// HasClipboardSockets reports whether any HTTP request is currently parked
// waiting on this session's clipboard.
func (s *Session) HasClipboardSockets() bool {
	return len(s.clipSockets) > 0
}
