package models

import "strings"

// Role represents the author of a conversation turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// RoleDeveloper is what the agent runtime expects in place of "system"
	RoleDeveloper Role = "developer"
	// RoleTool carries tool results back into a running agent
	RoleTool Role = "tool"
)

// ParseRole lower-cases a client supplied role and maps it into the fixed set.
// Unknown roles fall back to user.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleSystem:
		return RoleSystem
	case RoleAssistant:
		return RoleAssistant
	default:
		return RoleUser
	}
}

// AttachmentRef points at a file uploaded alongside a chat message.
// URL is either fetchable (http, https, s3://, storage://) or a data: URL.
type AttachmentRef struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// IsInline reports whether the attachment carries its bytes in a data: URL
func (a AttachmentRef) IsInline() bool {
	return strings.HasPrefix(a.URL, "data:")
}

// ConversationTurn is one message of the client supplied history
type ConversationTurn struct {
	Role        Role            `json:"role"`
	Content     string          `json:"content"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// NewConversationTurn builds a turn with a normalized role
func NewConversationTurn(role, content string, attachments []AttachmentRef) ConversationTurn {
	atts := make([]AttachmentRef, len(attachments))
	copy(atts, attachments)
	return ConversationTurn{
		Role:        ParseRole(role),
		Content:     content,
		Attachments: atts,
	}
}

// ChatMode selects which agent a chat request starts at
type ChatMode string

const (
	ChatModeDefault   ChatMode = "default"
	ChatModeLawyer    ChatMode = "lawyer"
	ChatModePlaintiff ChatMode = "plaintiff"
)

// ParseChatMode maps the chat_mode query parameter, defaulting to the orchestrator
func ParseChatMode(raw string) ChatMode {
	switch ChatMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ChatModeLawyer:
		return ChatModeLawyer
	case ChatModePlaintiff:
		return ChatModePlaintiff
	default:
		return ChatModeDefault
	}
}
