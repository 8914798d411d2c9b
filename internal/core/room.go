package core

// Room keys are stable identifiers for broadcast channels. A chat room
// reaches every connection that joined the chat; a user room reaches all of
// one user's connections regardless of device or process.

// RoomForChat returns the room key for a chat.
func RoomForChat(chatID string) string {
	return "room:chat:" + chatID
}

// RoomForUser returns the per-user room key.
func RoomForUser(userID string) string {
	return "room:user:" + userID
}
