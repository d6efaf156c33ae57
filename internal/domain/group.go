package domain

import "time"

// Group represents a Telegram group or supergroup the bot moderates.
type Group struct {
	ChatID      int64     `bson:"chat_id" json:"chat_id"`
	Title       string    `bson:"title" json:"title"`
	OwnerID     int64     `bson:"owner_id" json:"owner_id"`
	MemberCount int       `bson:"member_count" json:"member_count"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	LastSeenAt  time.Time `bson:"last_seen_at" json:"last_seen_at"`
}
