package chat

// Texts the server writes on its own behalf.
const (
	nickPrompt   = "NICK"
	connectedAck = "Connected to the server!"
	serverFull   = "Server is full."
)

func joinNotice(nickname string) string  { return nickname + " has joined the chat!" }
func leaveNotice(nickname string) string { return nickname + " has disconnected." }
