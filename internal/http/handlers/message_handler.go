// Message HTTP handlers.
//
// This file exposes REST endpoints for messages:
//   - POST  /messages                     (send, idempotent)
//   - GET   /messages/{chat_id}           (history, oldest first, ETag support)
//   - GET   /messages/{chat_id}/search    (keyword search over recent history)
//   - PATCH /messages/read                (read receipts)
//
// Idempotency:
// Every message carries a client_msg_id. It is taken from the body, then from
// the Idempotency-Key header, and is generated server-side when both are
// missing. Re-posting the same key returns the stored message with
// `Idempotency-Replayed: true` instead of creating a second one.
//
// Sends and read receipts go through the LiveMessenger so that subscribers
// connected over the socket see REST writes in the same order and shape.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/services"
	"github.com/tbourn/go-realtime-chat/internal/utils"
)

// maxClientMsgIDLen caps client-supplied message keys (the column width).
const maxClientMsgIDLen = 200

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message.
type PostMessageRequest struct {
	ChatID      string `json:"chat_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Text        string `json:"text" binding:"required" example:"See you at noon"`
	ClientMsgID string `json:"client_msg_id,omitempty" example:"7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"`
}

// MarkReadRequest is the JSON payload for read receipts.
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
}

// MarkReadResponse lists the messages whose read flag this call flipped.
type MarkReadResponse struct {
	Updated []string `json:"updated"`
}

// Pagination carries limit/offset metadata for list responses.
type Pagination struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Total   int64 `json:"total"`
	HasNext bool  `json:"has_next"`
}

// ListMessagesResponse wraps a window of messages and pagination information.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// SearchMessagesResponse wraps ranked search hits.
type SearchMessagesResponse struct {
	Results []services.SearchHit `json:"results"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// clientMsgID picks the message key: body first, then the validated
// Idempotency-Key header, then a fresh UUID.
func clientMsgID(c *gin.Context, body string) string {
	if k := strings.TrimSpace(body); k != "" {
		return k
	}
	if k, ok := middleware.GetIdempotencyKey(c); ok {
		return k
	}
	if k := strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey)); k != "" {
		return k
	}
	return uuid.NewString()
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Stores a message in a chat the caller belongs to and broadcasts it to the room's live subscribers. Supports idempotency via client_msg_id or the Idempotency-Key header (same key → same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string                       false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object} domain.Message
// @Success     200  {object} domain.Message         "Replayed (idempotent) result"
// @Header      200  {string} Idempotency-Replayed  "true when served from a previous request"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     409  {object} handlers.ErrorResponse "client_msg_id belongs to another sender"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat_id and text required")
		return
	}
	chatID := strings.TrimSpace(req.ChatID)
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat_id must be a UUID")
		return
	}
	key := clientMsgID(c, req.ClientMsgID)
	if len(key) > maxClientMsgIDLen {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "client_msg_id too long")
		return
	}

	m, created, err := h.live.SendMessage(c.Request.Context(), userID(c), chatID, sanitizeContent(req.Text), key)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	if !created {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, m)
		return
	}
	ok(c, http.StatusCreated, m)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Chat history
// @Description Returns a window of a chat's messages, oldest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       chat_id        path    string  true  "Chat ID (UUID)"              format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"messages:abc\")
// @Param       limit          query   int     false "Messages per window"          minimum(1) maximum(200) default(50)
// @Param       offset         query   int     false "Messages to skip"             minimum(0) default(0)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/{chat_id} [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	chatID, valid := chatIDParam(c, "chat_id")
	if !valid {
		return
	}
	limit := utils.AtoiDefault(c.Query("limit"), 0)
	offset := utils.AtoiDefault(c.Query("offset"), 0)

	// ETag pre-check (best effort). Stats fails for non-members, who then
	// get their 403 from History below.
	if count, maxTS, err := h.msgSvc.Stats(ctx, uid, chatID); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		if weakETag(c, fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%d"`, chatID, count, ts, limit, offset)) {
			return
		}
	}

	items, total, limit, offset, err := h.msgSvc.History(ctx, uid, chatID, limit, offset)
	if err != nil {
		c.Header("ETag", "")
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			Total:   total,
			HasNext: int64(offset+len(items)) < total,
		},
	})
}

// SearchMessages godoc
// @ID          searchMessages
// @Summary     Search a chat
// @Description Keyword search over the chat's recent messages, best match first.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       chat_id  path   string  true  "Chat ID (UUID)"  format(uuid)
// @Param       q        query  string  true  "Search terms"
// @Param       k        query  int     false "Maximum results" minimum(1) maximum(20) default(5)
//
// @Success     200  {object} handlers.SearchMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /messages/{chat_id}/search [get]
func (h *Handlers) SearchMessages(c *gin.Context) {
	chatID, valid := chatIDParam(c, "chat_id")
	if !valid {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q required")
		return
	}
	k := utils.AtoiDefault(c.Query("k"), 0)
	if k > 20 {
		k = 20
	}

	hits, err := h.msgSvc.Search(c.Request.Context(), userID(c), chatID, q, k)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, SearchMessagesResponse{Results: hits})
}

// MarkRead godoc
// @ID          markMessagesRead
// @Summary     Mark messages as read
// @Description Flips is_read on the given messages. IDs the caller cannot see, their own messages, and already-read messages are skipped silently. Each updated message is broadcast to its room.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.MarkReadRequest  true  "Message IDs"
//
// @Success     200  {object} handlers.MarkReadResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/read [patch]
func (h *Handlers) MarkRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message_ids required")
		return
	}
	updated, err := h.live.MarkRead(c.Request.Context(), userID(c), req.MessageIDs)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ids := make([]string, 0, len(updated))
	for _, m := range updated {
		ids = append(ids, m.ID)
	}
	ok(c, http.StatusOK, MarkReadResponse{Updated: ids})
}
