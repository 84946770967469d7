package models

import "time"

// ServerBinding is one installation occupying a capacity slot of a license.
// (LicenseKey, ServerID) is unique.
type ServerBinding struct {
	LicenseKey       string    `db:"license_key"       json:"license_key"`
	ServerID         string    `db:"server_id"         json:"server_id"`
	ServerIP         string    `db:"server_ip"         json:"server_ip"`
	ServerPort       int       `db:"server_port"       json:"server_port"`
	PluginVersion    string    `db:"plugin_version"    json:"plugin_version"`
	MinecraftVersion string    `db:"minecraft_version" json:"minecraft_version"`
	OnlinePlayers    int       `db:"online_players"    json:"online_players"`
	MaxPlayers       int       `db:"max_players"       json:"max_players"`
	FirstSeen        time.Time `db:"first_seen"        json:"first_seen"`
	LastSeen         time.Time `db:"last_seen"         json:"last_seen"`
}
