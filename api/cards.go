package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/akwean/TaskFlow-gre/domain"
	"github.com/akwean/TaskFlow-gre/realtime"
)

const cardBodyMaxSize = 1 << 20

func (h *handlers) getCards(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	ctx := c.Request().Context()
	list, err := h.store.FetchList(ctx, c.Param("listId"))
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
	if !caps.CanView {
		return h.fail(c, domain.ErrForbidden)
	}
	cards, err := h.store.FetchCards(ctx, list.ID)
	if err != nil {
		return h.fail(c, err)
	}
	sortCardsByOrder(cards)
	return c.JSON(http.StatusOK, cards)
}

type createCardRequest struct {
	Title string `json:"title"`
}

func (h *handlers) createCard(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req createCardRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, domain.NewValidationError("invalid body"))
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return h.fail(c, domain.NewValidationError("title is required"))
	}
	ctx := c.Request().Context()
	list, err := h.store.FetchList(ctx, c.Param("listId"))
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
	existing, err := h.store.FetchCards(ctx, list.ID)
	if err != nil {
		return h.fail(c, err)
	}
	now := time.Now().UTC()
	card := domain.Card{
		ID:        uuid.NewString(),
		Title:     req.Title,
		ListID:    list.ID,
		Order:     domain.NextCardOrder(existing),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.InsertCard(ctx, card); err != nil {
		return h.fail(c, err)
	}
	h.rt.EmitToBoard(list.BoardID, realtime.EventCardCreated, cardPayload{Card: card})
	return c.JSON(http.StatusCreated, card)
}

type cardUpdateRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	List        *string         `json:"list"`
	Order       *int            `json:"order"`
	Labels      *[]domain.Label `json:"labels"`
	Members     *[]string       `json:"members"`
	DueDate     *time.Time      `json:"dueDate"`
	Checklists  json.RawMessage `json:"checklists"`
}

// updateCard handles every card mutation including moves. When order or
// list changes, the ordering engine renumbers the affected lists and the
// result is broadcast as authoritative cards:reordered snapshots for the
// target (and, on a cross-list move, the source) list. If the write
// sequence fails partway there is no rollback; the error response tells the
// client to recover with a full board re-fetch.
func (h *handlers) updateCard(c echo.Context) error {
	metrics := newCardMoveMetrics(h.logger)
	var status = http.StatusOK
	defer func() { metrics.Log(status) }()

	userID, ok := h.userID(c)
	if !ok {
		status = http.StatusUnauthorized
		metrics.SetErrorStage("auth")
		return nil
	}

	lr := io.LimitReader(c.Request().Body, cardBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	var req cardUpdateRequest
	if err := dec.Decode(&req); err != nil {
		status = http.StatusBadRequest
		metrics.SetErrorStage("decode")
		return h.fail(c, domain.NewValidationError("invalid body"))
	}
	checklists, err := h.decodeChecklists(req.Checklists)
	if err != nil {
		status = http.StatusBadRequest
		metrics.SetErrorStage("decode")
		return h.fail(c, err)
	}

	ctx := c.Request().Context()
	fetchStart := time.Now()
	card, err := h.store.FetchCard(ctx, c.Param("id"))
	metrics.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		status = http.StatusInternalServerError
		metrics.SetErrorStage("storage")
		return h.fail(c, err)
	}
	if card == nil {
		status = http.StatusNotFound
		return h.fail(c, domain.ErrNotFound)
	}

	oldListID := card.ListID
	sourceList, err := h.store.FetchList(ctx, oldListID)
	if err != nil {
		status = http.StatusInternalServerError
		metrics.SetErrorStage("storage")
		return h.fail(c, err)
	}
	if sourceList == nil {
		status = http.StatusNotFound
		return h.fail(c, domain.ErrNotFound)
	}
	_, caps, err := h.boardFor(c, sourceList.BoardID, userID)
	if err != nil {
		status = http.StatusInternalServerError
		return h.fail(c, err)
	}
	if !caps.CanEdit {
		status = http.StatusForbidden
		metrics.SetErrorStage("capability")
		return h.fail(c, domain.ErrForbidden)
	}

	newListID := oldListID
	if req.List != nil && *req.List != "" {
		newListID = *req.List
	}
	orderChanged := req.Order != nil || req.List != nil
	metrics.SetMove(orderChanged, newListID != oldListID)

	if req.Title != nil {
		card.Title = *req.Title
	}
	if req.Description != nil {
		card.Description = *req.Description
	}
	if req.Labels != nil {
		card.Labels = *req.Labels
	}
	if req.Members != nil {
		card.Members = *req.Members
	}
	if req.DueDate != nil {
		card.DueDate = req.DueDate
	}
	if checklists != nil {
		card.Checklists = *checklists
	}
	card.UpdatedAt = time.Now().UTC()

	boardID := sourceList.BoardID
	if orderChanged {
		if err := h.applyCardMove(c, metrics, card, oldListID, newListID, req.Order); err != nil {
			status = http.StatusInternalServerError
			return h.fail(c, err)
		}
	} else {
		writeStart := time.Now()
		err = h.store.UpdateCard(ctx, *card)
		metrics.ObserveWrite(time.Since(writeStart))
		if err != nil {
			status = http.StatusInternalServerError
			metrics.SetErrorStage("write")
			return h.fail(c, err)
		}
	}

	broadcastStart := time.Now()
	h.rt.EmitToBoard(boardID, realtime.EventCardUpdated, cardUpdatedPayload{
		Card:      *card,
		OldListID: oldListID,
		NewListID: card.ListID,
	})
	if orderChanged {
		if err := h.broadcastCardSnapshots(ctx, boardID, card.ListID, oldListID); err != nil {
			h.logger.WithField("error", err).Error("emit cards:reordered snapshot")
		}
	}
	metrics.ObserveBroadcast(time.Since(broadcastStart))
	return c.JSON(http.StatusOK, card)
}

// applyCardMove runs the ordering engine for a same-list or cross-list move
// and writes the resulting placements. The moved card's own row is written
// last so a partial failure leaves the survivors dense.
func (h *handlers) applyCardMove(c echo.Context, metrics *cardMoveMetrics, card *domain.Card, oldListID, newListID string, order *int) error {
	ctx := c.Request().Context()

	renumberStart := time.Now()
	sourceCards, err := h.store.FetchCards(ctx, oldListID)
	if err != nil {
		metrics.SetErrorStage("storage")
		return err
	}

	var placements []domain.Placement
	if newListID != oldListID {
		destList, err := h.store.FetchList(ctx, newListID)
		if err != nil {
			metrics.SetErrorStage("storage")
			return err
		}
		if destList == nil {
			return domain.ErrNotFound
		}
		destCards, err := h.store.FetchCards(ctx, newListID)
		if err != nil {
			metrics.SetErrorStage("storage")
			return err
		}
		target := len(destCards)
		if order != nil {
			target = *order
		}
		placements = domain.MoveCardAcrossLists(sourceCards, destCards, card.ID, newListID, target)
	} else {
		target := len(sourceCards) - 1
		if order != nil {
			target = *order
		}
		placements = domain.MoveCardWithinList(sourceCards, card.ID, target)
	}
	metrics.ObserveRenumber(time.Since(renumberStart))
	metrics.SetCardsRenumbered(len(placements))

	writeStart := time.Now()
	defer func() { metrics.ObserveWrite(time.Since(writeStart)) }()
	var moved *domain.Placement
	for i := range placements {
		p := placements[i]
		if p.ID == card.ID {
			moved = &placements[i]
			continue
		}
		if err := h.store.UpdateCardOrder(ctx, p.ListID, p.ID, p.Order); err != nil {
			metrics.SetErrorStage("write")
			return err
		}
	}
	if moved == nil {
		return domain.ErrNotFound
	}
	card.Order = moved.Order
	if newListID != oldListID {
		card.ListID = newListID
		if err := h.store.MoveCard(ctx, *card, oldListID); err != nil {
			metrics.SetErrorStage("write")
			return err
		}
	} else if err := h.store.UpdateCard(ctx, *card); err != nil {
		metrics.SetErrorStage("write")
		return err
	}
	return nil
}

// broadcastCardSnapshots emits the authoritative per-list card order after a
// reorder: always the target list, plus the source list on a cross-list
// move. Clients replace their local order wholesale.
func (h *handlers) broadcastCardSnapshots(ctx context.Context, boardID, targetListID, sourceListID string) error {
	targetCards, err := h.store.FetchCards(ctx, targetListID)
	if err != nil {
		return err
	}
	sortCardsByOrder(targetCards)
	h.rt.EmitToBoard(boardID, realtime.EventCardsReordered, cardsReorderedPayload{
		ListID: targetListID,
		Cards:  targetCards,
	})
	if sourceListID != "" && sourceListID != targetListID {
		sourceCards, err := h.store.FetchCards(ctx, sourceListID)
		if err != nil {
			return err
		}
		sortCardsByOrder(sourceCards)
		h.rt.EmitToBoard(boardID, realtime.EventCardsReordered, cardsReorderedPayload{
			ListID: sourceListID,
			Cards:  sourceCards,
		})
	}
	return nil
}

func (h *handlers) decodeChecklists(raw json.RawMessage) (*[]domain.Checklist, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		h.logger.WithField("payload", string(raw)).Warn("malformed checklists payload")
		return nil, domain.NewValidationError("checklists must be an array")
	}
	var checklists []domain.Checklist
	if err := sonic.Unmarshal(trimmed, &checklists); err != nil {
		h.logger.WithFields(log.Fields{"payload": string(raw), "error": err}).Warn("malformed checklists payload")
		return nil, domain.NewValidationError("checklists must be an array")
	}
	return &checklists, nil
}

func (h *handlers) deleteCard(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	ctx := c.Request().Context()
	card, err := h.store.FetchCard(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if card == nil {
		return h.fail(c, domain.ErrNotFound)
	}
	list, err := h.store.FetchList(ctx, card.ListID)
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
	siblings, err := h.store.FetchCards(ctx, card.ListID)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.store.DeleteCard(ctx, card.ListID, card.ID); err != nil {
		return h.fail(c, err)
	}
	// Close the gap so the survivors stay dense.
	for _, p := range domain.CloseCardGap(siblings, card.ID) {
		if err := h.store.UpdateCardOrder(ctx, p.ListID, p.ID, p.Order); err != nil {
			return h.fail(c, err)
		}
	}
	h.rt.EmitToBoard(list.BoardID, realtime.EventCardDeleted, cardDeletedPayload{
		CardID: card.ID,
		ListID: card.ListID,
	})
	if err := h.broadcastCardSnapshots(ctx, list.BoardID, card.ListID, ""); err != nil {
		h.logger.WithField("error", err).Error("emit cards:reordered snapshot")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Card removed"})
}

func sortCardsByOrder(cards []domain.Card) {
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Order < cards[j].Order })
}
