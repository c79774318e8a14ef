package domain

type RoomID string

// GlobalRoom is the single pinned room used when rooms are disabled.
const GlobalRoom RoomID = "global"

type RoomInfo struct {
	ID          RoomID `json:"id"`
	MemberCount int    `json:"member_count"`
}
