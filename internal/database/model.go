package database

import "time"

// User represents a registered user. Only the columns the realtime
// service reads are mapped here; account management owns the rest.
type User struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username  string    `json:"username" gorm:"type:varchar(50);uniqueIndex;not null"`
	AvatarURL *string   `json:"avatarUrl" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HelpRequest represents a community help request whose chat room
// connections may join
type HelpRequest struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RequesterID int64     `json:"requesterId" gorm:"index;not null"`
	Title       string    `json:"title" gorm:"type:varchar(200);not null"`
	Description string    `json:"description" gorm:"type:text"`
	Category    string    `json:"category" gorm:"type:varchar(50)"`
	Urgency     string    `json:"urgency" gorm:"type:varchar(20)"`
	Status      string    `json:"status" gorm:"type:varchar(20);default:'open'"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Message represents a chat message within a help request room
type Message struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	HelpRequestID int64     `json:"helpRequestId" gorm:"index;not null"`
	SenderID      int64     `json:"senderId" gorm:"index;not null"`
	Message       string    `json:"message" gorm:"type:text;not null"`
	CreatedAt     time.Time `json:"createdAt"`
}

// UserConnection is the durable mirror of an authenticated live
// connection, consulted for presence queries and crash recovery
type UserConnection struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       int64     `json:"userId" gorm:"index;not null"`
	ConnectionID string    `json:"connectionId" gorm:"type:varchar(64);uniqueIndex;not null"`
	ConnectedAt  time.Time `json:"connectedAt"`
}
