package core

// SessionID identifies one live transport connection. The transport mints it;
// it is valid only for that connection's lifetime.
type SessionID string
