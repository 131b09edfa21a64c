package chat

import (
	"errors"
	"strings"
	"unicode/utf8"
)

type ChatType string

const (
	ChatDM    ChatType = "dm"
	ChatGroup ChatType = "group"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageSystem MessageType = "system"
)

var (
	ErrEmptyMessage = errors.New("message has no text or media")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrBlocked      = errors.New("conversation is blocked")
	ErrInvalid      = errors.New("invalid request")
)

// Target names a conversation from the point of view of one user: the other
// participant's uid for a DM, the group key for a group.
type Target struct {
	Type ChatType `json:"type"`
	ID   string   `json:"id"`
}

// ChatItem is one row of a user's inbox index.
type ChatItem struct {
	ID          string   `json:"id"`
	Type        ChatType `json:"type"`
	Name        string   `json:"name"`
	PhotoURL    string   `json:"photoURL,omitempty"`
	LastMessage string   `json:"lastMessage,omitempty"`
	Timestamp   int64    `json:"timestamp"`
	UnreadCount int      `json:"unreadCount"`
}

type Media struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"`
}

type ReplyTo struct {
	MessageID   string `json:"messageId"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	PreviewText string `json:"previewText"`
}

// Message is one entry of a conversation. Unsent messages keep their key and
// timestamp but lose their content.
type Message struct {
	ID         string      `json:"id"`
	SenderUID  string      `json:"senderUid"`
	SenderName string      `json:"senderName"`
	Timestamp  int64       `json:"timestamp"`
	Type       MessageType `json:"type"`
	Text       string      `json:"text,omitempty"`
	Media      *Media      `json:"media,omitempty"`
	ReplyTo    *ReplyTo    `json:"replyTo,omitempty"`
	IsUnsent   bool        `json:"isUnsent,omitempty"`
}

// Redacted reports whether an unsent message carries no content.
func (m *Message) Redacted() bool {
	return m.IsUnsent && m.Text == "" && m.Media == nil && m.ReplyTo == nil
}

// Draft is what a client submits to send a message.
type Draft struct {
	Text    string      `json:"text"`
	Type    MessageType `json:"messageType,omitempty"` // image or video when Media is set
	Media   *Media      `json:"media,omitempty"`
	ReplyTo string      `json:"replyTo,omitempty"`
}

// TypingEntry marks a user as typing in a chat.
type TypingEntry struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// Thread is the state a client needs when it opens a chat.
type Thread struct {
	ChatID    string                         `json:"chatId"`
	Messages  []Message                      `json:"messages"`
	Reactions map[string]map[string][]string `json:"reactions"`
	Seen      map[string]int64               `json:"seen"`
	Typing    map[string]TypingEntry         `json:"typing"`
}

// Group is a multi-member conversation.
type Group struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	PhotoURL  string          `json:"photoURL,omitempty"`
	Owner     string          `json:"owner"`
	Members   map[string]bool `json:"members"`
	CreatedAt int64           `json:"createdAt"`
}

const previewRunes = 60

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// preview is the short text used for inbox rows and reply quotes.
func preview(m *Message) string {
	switch {
	case m.IsUnsent:
		return "Message unsent"
	case m.Type == MessageImage:
		return "Sent a photo"
	case m.Type == MessageVideo:
		return "Sent a video"
	}
	return truncate(strings.TrimSpace(m.Text), previewRunes)
}
