package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/akwean/TaskFlow-gre/domain"
	"github.com/akwean/TaskFlow-gre/realtime"
)

// Register wires up all REST routes on the provided Echo instance. Every
// successful mutation triggers the corresponding realtime broadcast.
func Register(e *echo.Echo, store Storage, auth Authenticator, rt Broadcaster, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{store: store, auth: auth, rt: rt, logger: logger}

	e.GET("/api/boards", h.getBoards)
	e.POST("/api/boards", h.createBoard)
	e.GET("/api/boards/:id", h.getBoard)
	e.PUT("/api/boards/:id", h.updateBoard)
	e.DELETE("/api/boards/:id", h.deleteBoard)
	e.POST("/api/boards/:id/members", h.addBoardMember)
	e.DELETE("/api/boards/:id/members/:userId", h.removeBoardMember)

	e.GET("/api/boards/:boardId/lists", h.getLists)
	e.POST("/api/boards/:boardId/lists", h.createList)
	e.POST("/api/boards/:boardId/lists/reorder", h.reorderLists)
	e.PUT("/api/lists/:id", h.updateList)
	e.DELETE("/api/lists/:id", h.deleteList)

	e.GET("/api/lists/:listId/cards", h.getCards)
	e.POST("/api/lists/:listId/cards", h.createCard)
	e.PUT("/api/cards/:id", h.updateCard)
	e.DELETE("/api/cards/:id", h.deleteCard)

	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

type handlers struct {
	store  Storage
	auth   Authenticator
	rt     Broadcaster
	logger *log.Logger
}

type errorResponse struct {
	Message string `json:"message"`
}

// userID authenticates the request or writes a 401.
func (h *handlers) userID(c echo.Context) (string, bool) {
	userID, err := h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		_ = c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		return "", false
	}
	return userID, true
}

// fail maps domain errors to HTTP responses. Unexpected errors are logged
// and surfaced as 500; no partial state repair is attempted here (clients
// recover via a full re-fetch).
func (h *handlers) fail(c echo.Context, err error) error {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Message: "Not found"})
	case errors.Is(err, domain.ErrForbidden):
		return c.JSON(http.StatusForbidden, errorResponse{Message: "Access denied"})
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, errorResponse{Message: ve.Msg})
	default:
		h.logger.WithField("error", err).Error("request failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Server Error"})
	}
}

// boardFor loads a board and evaluates the actor's capabilities once.
func (h *handlers) boardFor(c echo.Context, boardID, userID string) (*domain.Board, domain.Capabilities, error) {
	board, err := h.store.FetchBoard(c.Request().Context(), boardID)
	if err != nil {
		return nil, domain.Capabilities{}, err
	}
	if board == nil {
		return nil, domain.Capabilities{}, domain.ErrNotFound
	}
	return board, domain.CapabilitiesFor(userID, board), nil
}

func (h *handlers) getBoards(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	boards, err := h.store.FetchBoards(c.Request().Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, boards)
}

func (h *handlers) getBoard(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	board, caps, err := h.boardFor(c, c.Param("id"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	if !caps.CanView {
		return h.fail(c, domain.ErrForbidden)
	}
	return c.JSON(http.StatusOK, board)
}

type createBoardRequest struct {
	Title      string `json:"title"`
	Background string `json:"background"`
}

func (h *handlers) createBoard(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req createBoardRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, domain.NewValidationError("invalid body"))
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return h.fail(c, domain.NewValidationError("title is required"))
	}
	if req.Background == "" {
		req.Background = domain.DefaultBackground
	}
	now := time.Now().UTC()
	board := domain.Board{
		ID:         uuid.NewString(),
		Title:      req.Title,
		Background: req.Background,
		OwnerID:    userID,
		Members:    []domain.Member{{UserID: userID, Role: domain.RoleAdmin}},
		Visibility: domain.VisibilityPrivate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.store.InsertBoard(c.Request().Context(), board); err != nil {
		return h.fail(c, err)
	}
	h.rt.EmitToBoard(board.ID, realtime.EventBoardCreated, boardPayload{Board: board})
	return c.JSON(http.StatusCreated, board)
}

type updateBoardRequest struct {
	Title      *string            `json:"title"`
	Background *string            `json:"background"`
	Visibility *domain.Visibility `json:"visibility"`
}

func (h *handlers) updateBoard(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req updateBoardRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, domain.NewValidationError("invalid body"))
	}
	board, caps, err := h.boardFor(c, c.Param("id"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	if !caps.CanAdmin {
		return h.fail(c, domain.ErrForbidden)
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		board.Title = strings.TrimSpace(*req.Title)
	}
	if req.Background != nil && *req.Background != "" {
		board.Background = *req.Background
	}
	if req.Visibility != nil {
		switch *req.Visibility {
		case domain.VisibilityPrivate, domain.VisibilityWorkspace, domain.VisibilityPublic:
			board.Visibility = *req.Visibility
		default:
			return h.fail(c, domain.NewValidationError("invalid visibility"))
		}
	}
	board.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateBoard(c.Request().Context(), *board); err != nil {
		return h.fail(c, err)
	}
	h.rt.EmitToBoard(board.ID, realtime.EventBoardUpdated, boardPayload{Board: *board})
	return c.JSON(http.StatusOK, board)
}

func (h *handlers) deleteBoard(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	ctx := c.Request().Context()
	board, _, err := h.boardFor(c, c.Param("id"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	if board.OwnerID != userID {
		return h.fail(c, domain.ErrForbidden)
	}
	// Cascade: cards first, then lists, then the board row.
	lists, err := h.store.FetchLists(ctx, board.ID)
	if err != nil {
		return h.fail(c, err)
	}
	for _, l := range lists {
		cards, err := h.store.FetchCards(ctx, l.ID)
		if err != nil {
			return h.fail(c, err)
		}
		for _, card := range cards {
			if err := h.store.DeleteCard(ctx, l.ID, card.ID); err != nil {
				return h.fail(c, err)
			}
		}
		if err := h.store.DeleteList(ctx, board.ID, l.ID); err != nil {
			return h.fail(c, err)
		}
	}
	if err := h.store.DeleteBoard(ctx, board.ID); err != nil {
		return h.fail(c, err)
	}
	h.rt.EmitToBoard(board.ID, realtime.EventBoardDeleted, boardIDPayload{BoardID: board.ID})
	return c.JSON(http.StatusOK, map[string]string{"message": "Board removed"})
}

type addMemberRequest struct {
	Email string `json:"email"`
}

func (h *handlers) addBoardMember(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req addMemberRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return h.fail(c, domain.NewValidationError("email is required"))
	}
	ctx := c.Request().Context()
	board, caps, err := h.boardFor(c, c.Param("id"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	if !caps.CanAdmin {
		return h.fail(c, domain.ErrForbidden)
	}
	user, err := h.store.FindUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		return h.fail(c, err)
	}
	if user == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Message: "User not found"})
	}
	if board.HasMember(user.ID) {
		return h.fail(c, domain.NewValidationError("User is already a member"))
	}
	board.Members = append(board.Members, domain.Member{UserID: user.ID, Role: domain.RoleMember})
	board.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateBoard(ctx, *board); err != nil {
		return h.fail(c, err)
	}
	h.rt.EmitToBoard(board.ID, realtime.EventBoardUpdated, boardPayload{Board: *board})
	h.rt.EmitToUser(user.ID, realtime.EventDashboardBoardAdded, boardPayload{Board: *board})
	return c.JSON(http.StatusOK, board)
}

func (h *handlers) removeBoardMember(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	removeID := c.Param("userId")
	ctx := c.Request().Context()
	board, caps, err := h.boardFor(c, c.Param("id"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	if !caps.CanAdmin {
		return h.fail(c, domain.ErrForbidden)
	}
	if removeID == board.OwnerID {
		return h.fail(c, domain.NewValidationError("Cannot remove board owner"))
	}
	found := false
	members := board.Members[:0]
	for _, m := range board.Members {
		if m.UserID == removeID {
			found = true
			continue
		}
		members = append(members, m)
	}
	if !found {
		return c.JSON(http.StatusNotFound, errorResponse{Message: "User not found"})
	}
	board.Members = members
	board.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateBoard(ctx, *board); err != nil {
		return h.fail(c, err)
	}
	h.rt.EmitToBoard(board.ID, realtime.EventBoardUpdated, boardPayload{Board: *board})
	h.rt.EmitToUser(removeID, realtime.EventDashboardBoardRemoved, boardIDPayload{BoardID: board.ID})
	h.rt.EmitToUser(removeID, realtime.EventBoardForceLeft, forceLeavePayload{
		BoardID: board.ID,
		Message: "You were removed from this board",
	})
	return c.JSON(http.StatusOK, board)
}

// Broadcast payload shapes.

type boardPayload struct {
	Board domain.Board `json:"board"`
}

type boardIDPayload struct {
	BoardID string `json:"boardId"`
}

type forceLeavePayload struct {
	BoardID string `json:"boardId"`
	Message string `json:"message"`
}

type listPayload struct {
	List domain.List `json:"list"`
}

type listIDPayload struct {
	ListID string `json:"listId"`
}

type listsReorderedPayload struct {
	Lists []domain.List `json:"lists"`
}

type cardPayload struct {
	Card domain.Card `json:"card"`
}

type cardUpdatedPayload struct {
	Card      domain.Card `json:"card"`
	OldListID string      `json:"oldListId"`
	NewListID string      `json:"newListId"`
}

type cardDeletedPayload struct {
	CardID string `json:"cardId"`
	ListID string `json:"listId"`
}

type cardsReorderedPayload struct {
	ListID string        `json:"listId"`
	Cards  []domain.Card `json:"cards"`
}
