package chat

import "time"

// Client is a registered participant: a connection that completed the nickname handshake.
type Client struct {
	ID         string
	Nickname   string
	RemoteAddr string
	JoinedAt   time.Time

	conn *clientConn
}

func newClient(id, nickname string, conn *clientConn) *Client {
	return &Client{
		ID:         id,
		Nickname:   nickname,
		RemoteAddr: conn.remoteAddr(),
		JoinedAt:   time.Now(),
		conn:       conn,
	}
}
