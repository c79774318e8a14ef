package core

// Wire event names.
const (
	EventWelcome          = "welcome"
	EventCreateRoom       = "create-room"
	EventJoin             = "join"
	EventUsersList        = "users-list"
	EventUserJoined       = "user-joined"
	EventUserUpdated      = "user-updated"
	EventUserDisconnected = "user-disconnected"
	EventSignal           = "signal"
	EventPing             = "ping"
	EventPong             = "pong"
	EventError            = "error"
)
