package model

import "time"

// Direction identifies which way a relayed message travels.
type Direction string

const (
	DirectionDiscordToMinecraft Direction = "discord_to_minecraft"
	DirectionMinecraftToDiscord Direction = "minecraft_to_discord"
)

// ChatMessage is a transient message inside the relay queues.
type ChatMessage struct {
	Direction Direction `json:"direction"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// MinecraftEventType classifies events received from the Minecraft server.
type MinecraftEventType string

const (
	EventChat  MinecraftEventType = "chat"
	EventJoin  MinecraftEventType = "join"
	EventLeave MinecraftEventType = "leave"
	EventDeath MinecraftEventType = "death"
)

// MinecraftEvent is one chat/join/leave/death event from the Minecraft side.
type MinecraftEvent struct {
	Type      MinecraftEventType `json:"type"`
	Author    string             `json:"author"`
	UUID      string             `json:"uuid,omitempty"`
	Body      string             `json:"body,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
