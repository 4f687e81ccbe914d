package db

import (
	"time"

	"gorm.io/datatypes"
)

type AuditEventModel struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	ScopeID      string         `gorm:"type:text;not null;uniqueIndex:ux_audit_events_scope_seq,priority:1;uniqueIndex:ux_audit_events_scope_prev,priority:1;index:ix_audit_events_scope_created,priority:1"`
	Seq          int64          `gorm:"not null;uniqueIndex:ux_audit_events_scope_seq,priority:2"`
	ActorID      string         `gorm:"type:text;not null"`
	ActorRole    string         `gorm:"type:text;not null;default:''"`
	Action       string         `gorm:"type:text;not null"`
	TargetType   string         `gorm:"type:text;not null"`
	TargetID     *string        `gorm:"type:text"`
	BeforeState  datatypes.JSON `gorm:"not null"`
	AfterState   datatypes.JSON `gorm:"not null"`
	PreviousHash string         `gorm:"type:text;not null;uniqueIndex:ux_audit_events_scope_prev,priority:2"`
	Hash         string         `gorm:"type:text;not null"`
	CreatedAt    time.Time      `gorm:"not null;index:ix_audit_events_scope_created,priority:2"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

type ScopeModel struct {
	ID        string    `gorm:"type:text;primaryKey"`
	ParentID  *string   `gorm:"type:text;index"`
	Kind      string    `gorm:"type:text;not null"`
	Name      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ScopeModel) TableName() string {
	return "scopes"
}
