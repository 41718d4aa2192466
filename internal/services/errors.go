// Package services defines the business logic for users, chats, and messages.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// User-related errors.
var (
	// ErrUserNotFound indicates that the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned by Login for an unknown email or a
	// wrong password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidUser is returned when registration input fails validation.
	ErrInvalidUser = errors.New("invalid registration data")
)

// Chat-related errors.
var (
	// ErrChatNotFound indicates that the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrNotMember is returned when the caller does not belong to the chat.
	ErrNotMember = errors.New("not a member of this chat")

	// ErrNotManager is returned when a member without owner/admin role tries
	// to change the participant list.
	ErrNotManager = errors.New("only owners and admins can manage members")

	// ErrInvalidChatType is returned for a chat type other than personal/group.
	ErrInvalidChatType = errors.New("chat type must be personal or group")

	// ErrPersonalChatPeers is returned when a personal chat is not created
	// with exactly one other participant.
	ErrPersonalChatPeers = errors.New("personal chat requires exactly one other participant")

	// ErrPersonalChatMembers is returned when adding members to a personal chat.
	ErrPersonalChatMembers = errors.New("cannot add members to a personal chat")

	// ErrAlreadyMember is returned when adding a user who already participates.
	ErrAlreadyMember = errors.New("user is already a member")

	// ErrCannotRemoveOwner is returned when removing the chat owner.
	ErrCannotRemoveOwner = errors.New("cannot remove the chat owner")
)

// Message-related errors.
var (
	// ErrEmptyText is returned when a message body is blank.
	ErrEmptyText = errors.New("message text is empty")

	// ErrTooLong is returned when a message body exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("message text too long")

	// ErrMissingClientMsgID is returned when a message has no idempotency key.
	ErrMissingClientMsgID = errors.New("client_msg_id is required")

	// ErrClientMsgIDTaken is returned when a client_msg_id already belongs to
	// a message from a different sender.
	ErrClientMsgIDTaken = errors.New("client_msg_id already used by another sender")

	// ErrMessageNotFound indicates that the requested message does not exist
	// or is not accessible to the current user.
	ErrMessageNotFound = errors.New("message not found")
)
