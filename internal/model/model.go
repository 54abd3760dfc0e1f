package model

import (
	"time"

	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&World{},
	&Rocket{},
	&PlayerSession{},
	&ServerPerformance{},
}

////////////////////////
// WORLD MODELS
////////////////////////

// World is one saved slot of the replicated world. Saving the same slot
// replaces its rockets.
type World struct {
	gorm.Model
	Name       string    `json:"name" gorm:"size:127;uniqueIndex"`
	WorldTime  float64   `json:"worldTime"`
	Difficulty string    `json:"difficulty" gorm:"size:32"`
	SavedAt    time.Time `json:"savedAt" gorm:"index:idx_world_saved_at"`
	Rockets    []Rocket  `json:"rockets" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*World) TableName() string {
	return "worlds"
}

// Rocket is a rocket inside a saved world. Parts, joints and stages are
// stored as JSON documents, placement as points in the rocket's frame.
type Rocket struct {
	ID              uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	WorldID         uint           `json:"worldId" gorm:"index:idx_rocket_world_id"`
	RocketID        int32          `json:"rocketId" gorm:"index:idx_rocket_rocket_id"` // replicated global id
	Name            string         `json:"name" gorm:"size:127"`
	Frame           int32          `json:"frame"`
	Position        geom.Point     `json:"position"`
	Velocity        geom.Point     `json:"velocity"`
	Rotation        float32        `json:"rotation"` // degrees
	AngularVelocity float32        `json:"angularVelocity"`
	ThrottleOn      bool           `json:"throttleOn" gorm:"default:false"`
	ThrottlePercent float32        `json:"throttlePercent"`
	RCS             bool           `json:"rcs" gorm:"default:false"`
	Controls        datatypes.JSON `json:"controls"`
	Parts           datatypes.JSON `json:"parts"`
	Joints          datatypes.JSON `json:"joints"`
	Stages          datatypes.JSON `json:"stages"`
}

func (*Rocket) TableName() string {
	return "rockets"
}

////////////////////////
// SERVER MODELS
////////////////////////

// PlayerSession is one connection from join to leave.
type PlayerSession struct {
	ID         uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID  uuid.UUID `json:"sessionId" gorm:"size:36;uniqueIndex"`
	PlayerID   int32     `json:"playerId"`
	PlayerName string    `json:"playerName" gorm:"size:64;index:idx_session_player_name"`
	Address    string    `json:"address" gorm:"size:64"`
	JoinedAt   time.Time `json:"joinedAt" gorm:"index:idx_session_joined_at"`
	LeftAt     time.Time `json:"leftAt"`
	LastRTTMs  float32   `json:"lastRttMs"`
	Reason     string    `json:"reason" gorm:"size:127"`
}

func (*PlayerSession) TableName() string {
	return "player_sessions"
}

// ServerPerformance is a periodic server health sample.
type ServerPerformance struct {
	ID               uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time             time.Time      `json:"time" gorm:"index:idx_performance_time"`
	WorldTime        float64        `json:"worldTime"`
	Players          int            `json:"players"`
	Rockets          int            `json:"rockets"`
	Parts            int            `json:"parts"`
	PacketsIn        uint64         `json:"packetsIn"`
	PacketsOut       uint64         `json:"packetsOut"`
	PacketsRejected  uint64         `json:"packetsRejected"`
	AuthorityChanges uint64         `json:"authorityChanges"`
	PlayerStats      datatypes.JSON `json:"playerStats"`
}

func (*ServerPerformance) TableName() string {
	return "server_performances"
}
