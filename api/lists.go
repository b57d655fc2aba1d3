package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/akwean/TaskFlow-gre/domain"
	"github.com/akwean/TaskFlow-gre/realtime"
)

func (h *handlers) getLists(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	_, caps, err := h.boardFor(c, c.Param("boardId"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	if !caps.CanView {
		return h.fail(c, domain.ErrForbidden)
	}
	lists, err := h.store.FetchLists(c.Request().Context(), c.Param("boardId"))
	if err != nil {
		return h.fail(c, err)
	}
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].Order < lists[j].Order })
	return c.JSON(http.StatusOK, lists)
}

type createListRequest struct {
	Title string `json:"title"`
}

func (h *handlers) createList(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req createListRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, domain.NewValidationError("invalid body"))
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return h.fail(c, domain.NewValidationError("title is required"))
	}
	ctx := c.Request().Context()
	board, caps, err := h.boardFor(c, c.Param("boardId"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	if !caps.CanEdit {
		return h.fail(c, domain.ErrForbidden)
	}
	existing, err := h.store.FetchLists(ctx, board.ID)
	if err != nil {
		return h.fail(c, err)
	}
	now := time.Now().UTC()
	list := domain.List{
		ID:        uuid.NewString(),
		Title:     req.Title,
		BoardID:   board.ID,
		Order:     domain.NextListOrder(existing),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.InsertList(ctx, list); err != nil {
		return h.fail(c, err)
	}
	h.rt.EmitToBoard(board.ID, realtime.EventListCreated, listPayload{List: list})
	return c.JSON(http.StatusCreated, list)
}

type reorderListsRequest struct {
	Order []struct {
		ID    string `json:"id"`
		Order int    `json:"order"`
	} `json:"order"`
}

// reorderLists performs the bulk list reassignment: the client ships the
// full ordered array and the engine assigns 0..N-1 by position. The
// resulting snapshot is broadcast as the authoritative list order.
func (h *handlers) reorderLists(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req reorderListsRequest
	if err := c.Bind(&req); err != nil || len(req.Order) == 0 {
		return h.fail(c, domain.NewValidationError("order array is required"))
	}
	ctx := c.Request().Context()
	board, caps, err := h.boardFor(c, c.Param("boardId"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	if !caps.CanEdit {
		return h.fail(c, domain.ErrForbidden)
	}
	lists, err := h.store.FetchLists(ctx, board.ID)
	if err != nil {
		return h.fail(c, err)
	}

	entries := make([]struct {
		ID    string
		Order int
	}, len(req.Order))
	for i, e := range req.Order {
		entries[i] = struct {
			ID    string
			Order int
		}{e.ID, e.Order}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Order < entries[j].Order })
	orderedIDs := make([]string, len(entries))
	for i, e := range entries {
		orderedIDs[i] = e.ID
	}

	placements := domain.ReorderLists(lists, orderedIDs)
	for _, p := range placements {
		if err := h.store.UpdateListOrder(ctx, board.ID, p.ID, p.Order); err != nil {
			return h.fail(c, err)
		}
	}

	snapshot, err := h.store.FetchLists(ctx, board.ID)
	if err != nil {
		return h.fail(c, err)
	}
	sort.SliceStable(snapshot, func(i, j int) bool { return snapshot[i].Order < snapshot[j].Order })
	h.rt.EmitToBoard(board.ID, realtime.EventListsReordered, listsReorderedPayload{Lists: snapshot})
	return c.JSON(http.StatusOK, snapshot)
}

type updateListRequest struct {
	Title *string `json:"title"`
	Order *int    `json:"order"`
}

func (h *handlers) updateList(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req updateListRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, domain.NewValidationError("invalid body"))
	}
	ctx := c.Request().Context()
	list, err := h.store.FetchList(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if list == nil {
		return h.fail(c, domain.ErrNotFound)
	}
	_, caps, err := h.boardFor(c, list.BoardID, userID)
	if err != nil {
		return h.fail(c, err)
	}
	if !caps.CanEdit {
		return h.fail(c, domain.ErrForbidden)
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		list.Title = strings.TrimSpace(*req.Title)
	}
	if req.Order != nil {
		list.Order = *req.Order
	}
	list.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateList(ctx, *list); err != nil {
		return h.fail(c, err)
	}
	h.rt.EmitToBoard(list.BoardID, realtime.EventListUpdated, listPayload{List: *list})
	return c.JSON(http.StatusOK, list)
}

func (h *handlers) deleteList(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	ctx := c.Request().Context()
	list, err := h.store.FetchList(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if list == nil {
		return h.fail(c, domain.ErrNotFound)
	}
	_, caps, err := h.boardFor(c, list.BoardID, userID)
	if err != nil {
		return h.fail(c, err)
	}
	if !caps.CanEdit {
		return h.fail(c, domain.ErrForbidden)
	}
	cards, err := h.store.FetchCards(ctx, list.ID)
	if err != nil {
		return h.fail(c, err)
	}
	for _, card := range cards {
		if err := h.store.DeleteCard(ctx, list.ID, card.ID); err != nil {
			return h.fail(c, err)
		}
	}
	if err := h.store.DeleteList(ctx, list.BoardID, list.ID); err != nil {
		return h.fail(c, err)
	}
	h.rt.EmitToBoard(list.BoardID, realtime.EventListDeleted, listIDPayload{ListID: list.ID})

	// Renumber the survivors densely and broadcast the new order.
	remaining, err := h.store.FetchLists(ctx, list.BoardID)
	if err != nil {
		return h.fail(c, err)
	}
	sort.SliceStable(remaining, func(i, j int) bool { return remaining[i].Order < remaining[j].Order })
	ids := make([]string, len(remaining))
	for i, l := range remaining {
		ids[i] = l.ID
	}
	for _, p := range domain.ReorderLists(remaining, ids) {
		if err := h.store.UpdateListOrder(ctx, list.BoardID, p.ID, p.Order); err != nil {
			return h.fail(c, err)
		}
		for i := range remaining {
			if remaining[i].ID == p.ID {
				remaining[i].Order = p.Order
			}
		}
	}
	h.rt.EmitToBoard(list.BoardID, realtime.EventListsReordered, listsReorderedPayload{Lists: remaining})
	return c.JSON(http.StatusOK, map[string]string{"message": "List removed"})
}
