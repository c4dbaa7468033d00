package ws

// 房间名是纯字符串推导，任何组件都能在不查表的情况下算出目标房间。

func UserRoom(userID string) string { return "user-" + userID }

func ChannelRoom(channelID string) string { return "channel-" + channelID }

func DMRoom(roomID string) string { return "dm-room-" + roomID }

func VoiceRoom(channelID string) string { return "voice-channel-" + channelID }

func GameRoom(serverID string) string { return "tictactoe-" + serverID }
