package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"lokapasar/internal/usecase"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/response"
	"lokapasar/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type startConversationRequest struct {
	ListingID      string `json:"listing_id" validate:"required"`
	InitialMessage string `json:"initial_message" validate:"max=4000"`
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

// StartConversation opens (or reuses) the caller's conversation about a
// listing.
func (h *ChatHandler) StartConversation(c echo.Context) error {
	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conv, err := h.chatUseCase.StartConversation(c.Request().Context(), userID, usecase.StartConversationInput{
		ListingID:      req.ListingID,
		InitialMessage: req.InitialMessage,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conv)
}

// Inbox lists the caller's conversations, newest activity first.
func (h *ChatHandler) Inbox(c echo.Context) error {
	userID := c.Get("uid").(string)

	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	convs, err := h.chatUseCase.Inbox(c.Request().Context(), userID, limit)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, convs)
}

func (h *ChatHandler) GetConversation(c echo.Context) error {
	userID := c.Get("uid").(string)

	conv, err := h.chatUseCase.GetConversation(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conv)
}

// Messages returns one page of history behind the cursor query parameter,
// newest first. An empty cursor fetches the newest page.
func (h *ChatHandler) Messages(c echo.Context) error {
	userID := c.Get("uid").(string)

	cursor, err := utils.DecodeMessageCursor(c.QueryParam("cursor"))
	if err != nil {
		return response.Error(c, errors.BadRequest("Invalid cursor", err))
	}

	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	page, err := h.chatUseCase.MessagesPage(c.Request().Context(), userID, c.Param("id"), cursor, limit)
	if err != nil {
		return response.Error(c, err)
	}

	next := ""
	if page.HasMore {
		next = utils.EncodeMessageCursor(page.NextCursor)
	}
	return response.Page(c, page.Messages, next)
}

// SendMessage sends a text message outside a live session.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	msg, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, c.Param("id"), req.Text)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, msg)
}

// SendImage accepts a multipart image upload and sends it as a message.
func (h *ChatHandler) SendImage(c echo.Context) error {
	userID := c.Get("uid").(string)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return response.Error(c, errors.BadRequest("Image file is required", err))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return response.Error(c, errors.Internal("Failed to read uploaded file", err))
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")

	msg, err := h.chatUseCase.SendImage(c.Request().Context(), userID, c.Param("id"), file, contentType, fileHeader.Size)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, msg)
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.chatUseCase.MarkRead(c.Request().Context(), userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"status": "read"})
}

func (h *ChatHandler) ClearHistory(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.chatUseCase.ClearHistory(c.Request().Context(), userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"status": "cleared"})
}

func (h *ChatHandler) Hide(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.chatUseCase.Hide(c.Request().Context(), userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"status": "hidden"})
}
