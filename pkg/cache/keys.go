package cache

import (
	"fmt"
	"strconv"
	"time"
)

// Key layout shared by every cache backend
const (
	PublicPersonaPrefix     = "public:persona:"
	PublicPersonaListPrefix = "public:personas:"
)

// ChatBranchesPrefix covers every cached version of a chat's branch map
func ChatBranchesPrefix(chatID fmt.Stringer) string {
	return "chat:" + chatID.String() + ":branches:"
}

// ChatBranchesKey caches the branch map of a chat as of its last message
// write. A map computed before a write lands under the previous version,
// which no later reader asks for.
func ChatBranchesKey(chatID fmt.Stringer, version time.Time) string {
	return ChatBranchesPrefix(chatID) + strconv.FormatInt(version.UnixNano(), 10)
}

// PublicPersonaKey caches one published persona
func PublicPersonaKey(personaID fmt.Stringer) string {
	return PublicPersonaPrefix + personaID.String()
}

// PublicPersonaListKey caches one page of the public listing
func PublicPersonaListKey(limit, offset int) string {
	return fmt.Sprintf("%s%d:%d", PublicPersonaListPrefix, limit, offset)
}

// UserKey marks a user as provisioned
func UserKey(userID string) string {
	return "user:" + userID
}
