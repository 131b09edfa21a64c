package chat

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DMID is the conversation id shared by two users: their uids sorted and
// joined, so both sides resolve the same id.
func DMID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}

// PushKey returns a time-ordered unique key. Keys generated later sort
// after earlier ones.
func PushKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// normalizeName trims a display name and collapses inner whitespace.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

func inboxTopic(uid string) string    { return "userInboxes/" + uid }
func messagesTopic(id string) string  { return "messages/" + id }
func reactionsTopic(id string) string { return "reactions/" + id }
func typingTopic(id string) string    { return "typing/" + id }
func seenTopic(id string) string      { return "chatSeen/" + id }
func groupTopic(id string) string     { return "groupChats/" + id }

// Topics returns the realtime topics a client opening chatID listens on.
func Topics(chatID string) []string {
	return []string{messagesTopic(chatID), reactionsTopic(chatID), typingTopic(chatID), seenTopic(chatID)}
}

// InboxTopic is the topic carrying uid's inbox changes.
func InboxTopic(uid string) string { return inboxTopic(uid) }

// GroupTopic is the topic carrying a group's metadata changes.
func GroupTopic(id string) string { return groupTopic(id) }
